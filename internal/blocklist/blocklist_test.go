package blocklist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLinesAdblockBlocksSubdomains(t *testing.T) {
	b := New(nil, nil)
	content := "||ads.example.com^\n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, b.IsBlocked("ads.example.com"))
	require.True(t, b.IsBlocked("tracker.ads.example.com"))
	require.False(t, b.IsBlocked("example.com"))
}

func TestParseLinesAllowOverridesDeny(t *testing.T) {
	b := New(nil, nil)
	content := "||example.com^\n@@||good.example.com^\n"
	_, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)

	require.True(t, b.IsBlocked("bad.example.com"))
	require.False(t, b.IsBlocked("good.example.com"), "allow suffix should override the deny rule")
}

func TestParseLinesHostsFormatExactOnly(t *testing.T) {
	b := New(nil, nil)
	content := "127.0.0.1 exact.example.com\n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.True(t, b.IsBlocked("exact.example.com"))
	require.False(t, b.IsBlocked("sub.exact.example.com"))
}

func TestParseLinesBareTokenExactStrippedAtCaret(t *testing.T) {
	b := New(nil, nil)
	content := "bare.example.com^extra\n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, b.IsBlocked("bare.example.com"))
}

func TestParseLinesRegex(t *testing.T) {
	b := New(nil, nil)
	content := "/^ad[0-9]+\\.example\\.com$/\n"
	_, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)

	require.True(t, b.IsBlocked("ad7.example.com"))
	require.False(t, b.IsBlocked("ad.example.com"))
}

func TestParseLinesInvalidRegexSilentlyDropped(t *testing.T) {
	b := New(nil, nil)
	content := "/(unbalanced/\n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 0, n)
	_, _, regexes := b.RuleCount()
	require.Equal(t, 0, regexes)
}

func TestParseLinesCommentsAndBlankIgnored(t *testing.T) {
	b := New(nil, nil)
	content := "! comment\n# also a comment\n\n   \n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 0, n)
	blocks, allows, regexes := b.RuleCount()
	require.Zero(t, blocks)
	require.Zero(t, allows)
	require.Zero(t, regexes)
}

func TestParseLinesUnknownLineLoggedNotBlocked(t *testing.T) {
	b := New(nil, nil)
	content := "this has spaces but no known prefix\n"
	n, err := b.parseLines(strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, 0, n)
	require.False(t, b.IsBlocked("this"))
}

func TestReloadFromLocalFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "list.txt")
	require.NoError(t, os.WriteFile(path, []byte("||blocked.example.com^\n"), 0o644))

	b := New([]string{path}, nil)
	require.NoError(t, b.Reload(context.Background()))
	require.True(t, b.IsBlocked("blocked.example.com"))
}

func TestReloadFromHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("||blocked.example.com^\n"))
	}))
	defer srv.Close()

	b := New([]string{srv.URL}, nil)
	require.NoError(t, b.Reload(context.Background()))
	require.True(t, b.IsBlocked("blocked.example.com"))
}

func TestReloadContinuesPastFailingList(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("||blocked.example.com^\n"), 0o644))
	missing := filepath.Join(dir, "does-not-exist.txt")

	b := New([]string{missing, good}, nil)
	err := b.Reload(context.Background())
	require.Error(t, err, "a failing list should be reported")
	require.True(t, b.IsBlocked("blocked.example.com"), "a later good list should still load")
}

