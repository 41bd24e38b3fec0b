package admin

import (
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/BrettMayson/mindns-k8s/internal/metastore"
)

type handler struct {
	deps      Deps
	startTime time.Time
	logger    *slog.Logger
}

type healthzResponse struct {
	Status         string  `json:"status"`
	UptimeSeconds  int64   `json:"uptime_seconds"`
	NumCPU         int     `json:"num_cpu"`
	MemUsedPercent float64 `json:"mem_used_percent"`
	CacheSize      int     `json:"cache_size"`
	BlockRules     int     `json:"block_rules"`
	AllowRules     int     `json:"allow_rules"`
	RegexRules     int     `json:"regex_rules"`
	ActiveSessions int     `json:"active_sessions"`
}

// Healthz reports process liveness, uptime, host memory/CPU, and the
// current size of the cache and blocklist (SPEC_FULL §4.10).
func (h *handler) Healthz(c *gin.Context) {
	resp := healthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		NumCPU:        runtime.NumCPU(),
	}

	if vm, err := mem.VirtualMemory(); err == nil {
		resp.MemUsedPercent = vm.UsedPercent
	}
	if h.deps.Cache != nil {
		resp.CacheSize = h.deps.Cache.Len()
	}
	if h.deps.Blocker != nil {
		resp.BlockRules, resp.AllowRules, resp.RegexRules = h.deps.Blocker.RuleCount()
	}
	if h.deps.Sessions != nil {
		resp.ActiveSessions = h.deps.Sessions()
	}

	c.JSON(http.StatusOK, resp)
}

type statsResponse struct {
	UptimeSeconds int64   `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	FormErr       uint64  `json:"formerr"`
	Rewrite       uint64  `json:"rewrite"`
	Block         uint64  `json:"block"`
	LocalSuffix   uint64  `json:"local_suffix"`
	Resolved      uint64  `json:"resolved"`
	ServFail      uint64  `json:"servfail"`
	CacheHits     uint64  `json:"cache_hits"`
	CacheMisses   uint64  `json:"cache_misses"`
}

// Stats reports query counters by verdict plus cache hit/miss counts
// (SPEC_FULL §4.10).
func (h *handler) Stats(c *gin.Context) {
	resp := statsResponse{UptimeSeconds: int64(time.Since(h.startTime).Seconds())}

	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		resp.CPUPercent = cpuPercent[0]
	}
	if h.deps.Pipeline != nil {
		snap := h.deps.Pipeline.Counters.Snapshot()
		resp.FormErr = snap.FormErr
		resp.Rewrite = snap.Rewrite
		resp.Block = snap.Block
		resp.LocalSuffix = snap.LocalSuffix
		resp.Resolved = snap.Resolved
		resp.ServFail = snap.ServFail
	}
	if h.deps.Cache != nil {
		resp.CacheHits = h.deps.Cache.Hits()
		resp.CacheMisses = h.deps.Cache.Misses()
	}

	c.JSON(http.StatusOK, resp)
}

type reloadResponse struct {
	BlockRules int `json:"block_rules"`
	AllowRules int `json:"allow_rules"`
	RegexRules int `json:"regex_rules"`
}

// ReloadBlocklist re-fetches every configured blocklist synchronously and
// records the outcome in the metadata store (SPEC_FULL §4.10).
func (h *handler) ReloadBlocklist(c *gin.Context) {
	if h.deps.Blocker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "blocking is disabled"})
		return
	}

	err := h.deps.Blocker.Reload(c.Request.Context())
	block, allow, regex := h.deps.Blocker.RuleCount()

	if h.deps.Store != nil {
		if recErr := h.deps.Store.RecordSync(metastore.KindBlocklist, "admin-triggered", block+allow+regex, err); recErr != nil {
			h.logger.Warn("admin: failed to record blocklist sync", "error", recErr)
		}
	}

	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, reloadResponse{BlockRules: block, AllowRules: allow, RegexRules: regex})
}
