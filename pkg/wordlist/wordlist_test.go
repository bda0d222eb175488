package wordlist

import (
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/waftester/webfuzzer/pkg/defaults"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(&Config{CacheDir: t.TempDir()})
}

func TestLoad_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payloads.txt")
	require.NoError(t, os.WriteFile(path, []byte("  <b>x</b>  \n\n# not a comment\n\t\n' OR 1=1\n"), 0o644))

	wl, err := newManager(t).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"<b>x</b>", "# not a comment", "' OR 1=1"}, wl.Words)
	assert.Equal(t, 3, wl.Size)
	assert.Equal(t, "payloads.txt", wl.Name)
}

func TestLoad_Gzip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "payloads.txt.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = io.WriteString(gz, "a\nb\n")
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	wl, err := newManager(t).Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, wl.Words)
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := newManager(t).Load(filepath.Join(t.TempDir(), "nope.txt"))
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = newManager(t).Load("builtin:nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_BuiltIn(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	for _, name := range m.ListBuiltIn() {
		wl, err := m.Load(BuiltinPrefix + name)
		require.NoError(t, err, name)
		assert.NotEmpty(t, wl.Words, name)
	}

	wl, err := m.Load("builtin:DEFAULT")
	require.NoError(t, err)
	assert.Equal(t, defaults.PayloadSet(), wl.Words)
}

func TestLoad_URLIsCached(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		io.WriteString(w, "one\ntwo\n")
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	wl, err := NewManager(&Config{CacheDir: dir}).Load(srv.URL + "/list.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, wl.Words)

	// A fresh manager reuses the downloaded file.
	wl, err = NewManager(&Config{CacheDir: dir}).Load(srv.URL + "/list.txt")
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two"}, wl.Words)
	assert.Equal(t, int32(1), hits.Load())
}

func TestLoad_URLBadStatus(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	t.Cleanup(srv.Close)

	_, err := newManager(t).Load(srv.URL)
	assert.Error(t, err)
}

func TestPayloads_Fallback(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n  \n"), 0o644))

	assert.Equal(t, defaults.PayloadSet(), m.Payloads(""))
	assert.Equal(t, defaults.PayloadSet(), m.Payloads(filepath.Join(dir, "missing.txt")))
	assert.Equal(t, defaults.PayloadSet(), m.Payloads(empty))

	good := filepath.Join(dir, "good.txt")
	require.NoError(t, os.WriteFile(good, []byte("x\ny\n"), 0o644))
	got := m.Payloads(good)
	assert.Equal(t, []string{"x", "y"}, got)

	// Callers may modify the returned slice without affecting the cache.
	got[0] = "changed"
	assert.Equal(t, []string{"x", "y"}, m.Payloads(good))
}

func TestFromText(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"a", "b c"}, FromText("a\r\n\n b c \n"))
	assert.Empty(t, FromText(""))
}

func TestLoad_CommaSeparatedMerges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "extra.txt")
	require.NoError(t, os.WriteFile(path, []byte("<script>alert(1)</script>\nfresh\n"), 0o644))

	m := newManager(t)
	wl, err := m.Load("builtin:xss, " + path)
	require.NoError(t, err)
	assert.Equal(t, "builtin:xss+extra.txt", wl.Name)
	assert.Equal(t, 11, wl.Size, "the shared script payload appears once")
	assert.Equal(t, "fresh", wl.Words[len(wl.Words)-1])

	_, err = m.Load("builtin:default,builtin:missing")
	assert.ErrorIs(t, err, ErrNotFound)

	// A trailing comma is a single source.
	wl, err = m.Load("builtin:sqli,")
	require.NoError(t, err)
	assert.Equal(t, "builtin:sqli", wl.Name)
}

func TestPayloads_CommaSeparated(t *testing.T) {
	t.Parallel()

	m := newManager(t)
	got := m.Payloads("builtin:traversal,builtin:traversal")
	assert.Len(t, got, 6)

	// One bad part falls back to the defaults as a whole.
	assert.Equal(t, defaults.PayloadSet(), m.Payloads("builtin:xss,builtin:nope"))
}

func TestCacheName(t *testing.T) {
	t.Parallel()

	a := cacheName("https://example.com/lists/a?b.txt")
	assert.Regexp(t, `^[0-9a-f]{16}-a_b\.txt$`, a)
	assert.Equal(t, a, cacheName("https://example.com/lists/a?b.txt"))
	assert.NotEqual(t, a, cacheName("https://example.org/lists/a?b.txt"))
	assert.LessOrEqual(t, len(cacheName("https://x/"+strings.Repeat("y", 500))), 16+1+48)
}
