package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/BrettMayson/mindns-k8s/internal/admin"
	"github.com/BrettMayson/mindns-k8s/internal/blocklist"
	"github.com/BrettMayson/mindns-k8s/internal/config"
	"github.com/BrettMayson/mindns-k8s/internal/dnscache"
	"github.com/BrettMayson/mindns-k8s/internal/logging"
	"github.com/BrettMayson/mindns-k8s/internal/metastore"
	"github.com/BrettMayson/mindns-k8s/internal/pipeline"
	"github.com/BrettMayson/mindns-k8s/internal/resolver"
	"github.com/BrettMayson/mindns-k8s/internal/rewrite"
	"github.com/BrettMayson/mindns-k8s/internal/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(config.ResolveConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.Configure(logging.Config{
		Level: cfg.Logging.Level,
		JSON:  cfg.Logging.JSON,
	})
	logger.Info("mindns starting",
		"bind", cfg.Server.Bind,
		"port", cfg.Server.Port,
		"mirror", cfg.Mirror.Enabled,
		"block", cfg.Block.Enabled,
		"admin", cfg.Admin.Enabled,
	)

	cache := dnscache.New()

	var res *resolver.Resolver
	if cfg.Mirror.Enabled {
		seed := net.ParseIP(cfg.Mirror.Servers[0])
		if seed == nil {
			return fmt.Errorf("%w: mirror.servers[0] is not a valid IP", config.ErrConfig)
		}
		res = resolver.New(seed, cache)
		if cfg.Resolver.HopLimit > 0 {
			res.HopLimit = cfg.Resolver.HopLimit
		}
	}

	var blocker *blocklist.Blocker
	if cfg.Block.Enabled {
		blocker = blocklist.New(cfg.Block.Lists, logger)
	}

	rewrites := rewrite.New()
	for host, ip := range cfg.RewriteIPs() {
		rewrites.AddRewrite(host, ip)
	}

	p := pipeline.New(pipeline.Config{
		RewriteEnabled: len(cfg.Rewrites) > 0,
		BlockEnabled:   cfg.Block.Enabled,
		MirrorEnabled:  cfg.Mirror.Enabled,
	}, rewrites, blocker, res, logger)

	var store *metastore.Store
	if cfg.Admin.Enabled {
		store, err = metastore.Open(cfg.Admin.DBPath)
		if err != nil {
			return fmt.Errorf("failed to open metadata store: %w", err)
		}
		defer store.Close()
	}

	udpServer := server.New(p, logger)
	if cfg.Server.PeerTimeoutSecond > 0 {
		udpServer.PeerIdleTimeout = time.Duration(cfg.Server.PeerTimeoutSecond) * time.Second
	}

	var adminServer *admin.Server
	if cfg.Admin.Enabled {
		adminServer = admin.New(cfg.Admin.Bind, cfg.Admin.Port, admin.Deps{
			Blocker:  blocker,
			Cache:    cache,
			Pipeline: p,
			Store:    store,
			Sessions: udpServer.SessionCount,
		}, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if blocker != nil {
		g.Go(func() error {
			err := blocker.Reload(gctx)
			block, allow, regex := blocker.RuleCount()
			if store != nil {
				if recErr := store.RecordSync(metastore.KindBlocklist, "startup", block+allow+regex, err); recErr != nil {
					logger.Warn("mindns: failed to record blocklist sync", "error", recErr)
				}
			}
			if err != nil {
				logger.Warn("mindns: initial blocklist load failed", "error", err)
				return nil
			}
			logger.Info("mindns: blocklist loaded", "block_rules", block, "allow_rules", allow, "regex_rules", regex)
			return nil
		})
	}

	g.Go(func() error {
		addr := net.JoinHostPort(cfg.Server.Bind, fmt.Sprintf("%d", cfg.Server.Port))
		logger.Info("mindns: udp server listening", "addr", addr)
		return udpServer.Run(gctx, addr)
	})

	if adminServer != nil {
		g.Go(func() error {
			logger.Info("mindns: admin server listening", "addr", adminServer.Addr())
			return adminServer.ListenAndServe()
		})

		g.Go(func() error {
			<-gctx.Done()
			return adminServer.Shutdown(context.Background())
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}
