package blocklist

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
)

// fetchTimeout bounds a single HTTP list fetch (spec §4.4 gives no value;
// the teacher's filtering.Parser defaults to 60s).
const fetchTimeout = 60 * time.Second

type blockedHost struct {
	host       string
	subdomains bool
}

// Blocker holds the deny/allow rule set assembled from one or more
// configured lists, plus any runtime additions. It is safe for concurrent
// use: query-path reads (IsBlocked) take a read lock per collection, and
// list loading takes the corresponding write lock once per rule it adds.
// Reload adds to the existing rules; rules from an earlier Reload are not
// removed, so loading the same list again adds its rules a second time.
type Blocker struct {
	lists []string

	blocksMu sync.RWMutex
	blocks   []blockedHost

	allowsMu sync.RWMutex
	allows   []string

	regexMu sync.RWMutex
	regexes map[string]*regexp.Regexp

	client *http.Client
	log    *slog.Logger
}

// New returns a Blocker configured to load from lists (local paths or
// http(s):// URLs) on the next call to Reload.
func New(lists []string, log *slog.Logger) *Blocker {
	if log == nil {
		log = slog.Default()
	}
	return &Blocker{
		lists:   lists,
		regexes: make(map[string]*regexp.Regexp),
		client:  &http.Client{Timeout: fetchTimeout},
		log:     log,
	}
}

// Block adds a deny rule for host. When subdomains is true, any name
// ending in host is also denied (spec §4.4, `||host^` rules).
func (b *Blocker) Block(host string, subdomains bool) {
	b.blocksMu.Lock()
	b.blocks = append(b.blocks, blockedHost{host: host, subdomains: subdomains})
	b.blocksMu.Unlock()
}

// Unblock adds host to the allow list: any name ending in host is exempt
// from the deny rules, overriding them (spec §4.4, `@@` rules).
func (b *Blocker) Unblock(host string) {
	b.allowsMu.Lock()
	b.allows = append(b.allows, host)
	b.allowsMu.Unlock()
}

// IsBlocked reports whether host should be denied: it matches a deny rule
// or a compiled regex, and does not match any allow suffix (spec §4.4).
func (b *Blocker) IsBlocked(host string) bool {
	if !b.matchesDeny(host) {
		return false
	}
	return !b.matchesAllow(host)
}

func (b *Blocker) matchesDeny(host string) bool {
	b.blocksMu.RLock()
	for _, blk := range b.blocks {
		if blk.subdomains {
			if strings.HasSuffix(host, blk.host) {
				b.blocksMu.RUnlock()
				return true
			}
		} else if host == blk.host {
			b.blocksMu.RUnlock()
			return true
		}
	}
	b.blocksMu.RUnlock()

	b.regexMu.RLock()
	defer b.regexMu.RUnlock()
	for _, re := range b.regexes {
		if re.MatchString(host) {
			return true
		}
	}
	return false
}

func (b *Blocker) matchesAllow(host string) bool {
	b.allowsMu.RLock()
	defer b.allowsMu.RUnlock()
	for _, a := range b.allows {
		if strings.HasSuffix(host, a) {
			return true
		}
	}
	return false
}

// RuleCount reports the number of deny rules, allow rules, and compiled
// regexes currently loaded, for the admin surface (SPEC_FULL §4.10).
func (b *Blocker) RuleCount() (blocks, allows, regexes int) {
	b.blocksMu.RLock()
	blocks = len(b.blocks)
	b.blocksMu.RUnlock()

	b.allowsMu.RLock()
	allows = len(b.allows)
	b.allowsMu.RUnlock()

	b.regexMu.RLock()
	regexes = len(b.regexes)
	b.regexMu.RUnlock()
	return
}

// Reload fetches every configured list and merges its rules in, logging a
// per-list rule count on success and the failure otherwise without
// aborting the remaining lists (spec §4.4; grounded in
// original_source/src/block/mod.rs's process_lists, which is similarly
// best-effort per list).
func (b *Blocker) Reload(ctx context.Context) error {
	var firstErr error
	for _, list := range b.lists {
		n, err := b.loadList(ctx, list)
		if err != nil {
			b.log.Warn("blocklist: failed to load list", "list", list, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("%w: %s: %v", ErrFetch, list, err)
			}
			continue
		}
		b.log.Info("blocklist: loaded list", "list", list, "rules", n)
	}
	return firstErr
}

func (b *Blocker) loadList(ctx context.Context, list string) (int, error) {
	if strings.HasPrefix(list, "http://") || strings.HasPrefix(list, "https://") {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, list, nil)
		if err != nil {
			return 0, err
		}
		resp, err := b.client.Do(req)
		if err != nil {
			return 0, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return 0, fmt.Errorf("http status %s", resp.Status)
		}
		return b.parseLines(resp.Body)
	}

	f, err := os.Open(list)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return b.parseLines(f)
}

// parseLines implements the line grammar from spec §4.4, ported rule for
// rule from original_source/src/block/mod.rs's parse_hosts:
//
//   - blank line: ignored
//   - "||host^..." / "||host": deny host and its subdomains
//   - "@@||host^..." / "@@host^...": allow host (and its subdomains, by
//     suffix match — the allow check is always suffix-based)
//   - "/regex/": compile and add; a bad regex is silently dropped
//   - "127.0.0.1 host": deny host exactly
//   - "#..." / "!...": comment, ignored
//   - a bare token with no whitespace: deny host exactly, "^..." suffix
//     stripped
//   - anything else: logged and ignored
func (b *Blocker) parseLines(r io.Reader) (int, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	blocked := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.HasPrefix(line, "||"):
			host := stripCaret(strings.TrimPrefix(line, "||"))
			b.Block(host, true)
			blocked++
		case strings.HasPrefix(line, "@@"):
			rest := strings.TrimPrefix(line, "@@")
			rest = strings.TrimPrefix(rest, "||")
			b.Unblock(stripCaret(rest))
		case strings.HasPrefix(line, "/") && strings.HasSuffix(line, "/") && len(line) >= 2:
			source := line[1 : len(line)-1]
			re, err := regexp.Compile(source)
			if err != nil {
				continue
			}
			b.regexMu.Lock()
			b.regexes[source] = re
			b.regexMu.Unlock()
		case strings.HasPrefix(line, "127.0.0.1"):
			host := strings.TrimSpace(strings.TrimPrefix(line, "127.0.0.1"))
			if host == "" {
				continue
			}
			b.Block(host, false)
			blocked++
		case strings.HasPrefix(line, "!") || strings.HasPrefix(line, "#"):
			continue
		case !strings.ContainsAny(line, " \t"):
			b.Block(stripCaret(line), false)
			blocked++
		default:
			b.log.Warn("blocklist: unknown line", "line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return blocked, fmt.Errorf("read list: %w", err)
	}
	return blocked, nil
}

func stripCaret(host string) string {
	if idx := strings.IndexByte(host, '^'); idx >= 0 {
		host = host[:idx]
	}
	return host
}
