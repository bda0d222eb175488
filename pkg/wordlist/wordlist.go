// Package wordlist resolves payload sources: files (optionally gzipped),
// http(s) URLs cached on disk, and built-in sets named "builtin:<name>".
// Several sources can be joined with commas.
package wordlist

import (
	"bufio"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/httpclient"
)

// BuiltinPrefix selects a built-in list, e.g. "builtin:xss".
const BuiltinPrefix = "builtin:"

// maxDownload caps a downloaded list.
const maxDownload = 100 << 20

// ErrNotFound is returned when a built-in list or file does not exist.
var ErrNotFound = errors.New("wordlist: not found")

// Wordlist is a resolved payload list.
type Wordlist struct {
	Name   string    `json:"name"`
	Path   string    `json:"path,omitempty"`
	Words  []string  `json:"words,omitempty"`
	Size   int       `json:"size"`
	Loaded time.Time `json:"loaded"`
}

func newWordlist(name, path string, words []string) *Wordlist {
	return &Wordlist{Name: name, Path: path, Words: words, Size: len(words), Loaded: time.Now()}
}

// Config for the wordlist manager
type Config struct {
	// CacheDir holds downloaded lists (default: <tmp>/webfuzzer-wordlists).
	CacheDir string
	// CacheTTL is how long a downloaded list is reused (default: 24h).
	CacheTTL time.Duration
	// DownloadTimeout bounds a URL download (default: 60s).
	DownloadTimeout time.Duration
	Logger          *slog.Logger
}

// Manager resolves and memoizes wordlists. It is safe for concurrent use.
type Manager struct {
	mu       sync.RWMutex
	loaded   map[string]*Wordlist
	builtins map[string][]string
	cacheDir string
	cacheTTL time.Duration
	client   *http.Client
	logger   *slog.Logger
}

// NewManager creates a Manager. A nil cfg uses the defaults.
func NewManager(cfg *Config) *Manager {
	c := Config{}
	if cfg != nil {
		c = *cfg
	}
	if c.CacheDir == "" {
		c.CacheDir = filepath.Join(os.TempDir(), defaults.ToolName+"-wordlists")
	}
	if c.CacheTTL == 0 {
		c.CacheTTL = 24 * time.Hour
	}
	if c.DownloadTimeout == 0 {
		c.DownloadTimeout = 60 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	// No proxy is configured, so construction cannot fail.
	client, _ := httpclient.New(httpclient.WithTimeout(c.DownloadTimeout))

	return &Manager{
		loaded:   make(map[string]*Wordlist),
		builtins: builtinLists(),
		cacheDir: c.CacheDir,
		cacheTTL: c.CacheTTL,
		client:   client,
		logger:   c.Logger,
	}
}

// Load resolves source. A comma-separated source loads every part and
// merges them in order, dropping repeated payloads.
func (m *Manager) Load(source string) (*Wordlist, error) {
	parts := splitSources(source)
	switch len(parts) {
	case 0:
		return nil, fmt.Errorf("%w: empty source", ErrNotFound)
	case 1:
		return m.loadOne(parts[0])
	}
	return m.merge(parts)
}

// Payloads resolves source to a payload list. A missing, unreadable or empty
// source falls back to defaults.PayloadSet; the reason is logged.
func (m *Manager) Payloads(source string) []string {
	fallback := func(msg string, attrs ...any) []string {
		m.logger.Warn(msg, attrs...)
		return defaults.PayloadSet()
	}

	if strings.TrimSpace(source) == "" {
		m.logger.Info("no wordlist configured, using default payloads",
			slog.Int("count", len(defaults.PayloadSet())))
		return defaults.PayloadSet()
	}
	wl, err := m.Load(source)
	if err != nil {
		return fallback("wordlist unavailable, using default payloads",
			slog.String("source", source), slog.String("error", err.Error()))
	}
	if wl.Size == 0 {
		return fallback("wordlist is empty, using default payloads", slog.String("source", source))
	}

	m.logger.Info("loaded payloads from wordlist",
		slog.String("source", wl.Name),
		slog.Int("count", wl.Size))
	return slices.Clone(wl.Words)
}

// ListBuiltIn returns the built-in list names, sorted.
func (m *Manager) ListBuiltIn() []string {
	names := make([]string, 0, len(m.builtins))
	for name := range m.builtins {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// FromText splits newline-separated payload text the same way files are read.
func FromText(text string) []string {
	words, _ := readLines(strings.NewReader(text))
	return words
}

func (m *Manager) loadOne(source string) (*Wordlist, error) {
	m.mu.RLock()
	wl, ok := m.loaded[source]
	m.mu.RUnlock()
	if ok {
		return wl, nil
	}

	var err error
	switch {
	case strings.HasPrefix(source, BuiltinPrefix):
		wl, err = m.builtin(strings.TrimPrefix(source, BuiltinPrefix))
	case strings.HasPrefix(source, "http://"), strings.HasPrefix(source, "https://"):
		wl, err = m.download(source)
	default:
		wl, err = readFile(source)
	}
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.loaded[source] = wl
	m.mu.Unlock()
	return wl, nil
}

func (m *Manager) merge(sources []string) (*Wordlist, error) {
	var words []string
	seen := make(map[string]struct{})
	names := make([]string, 0, len(sources))

	for _, src := range sources {
		wl, err := m.loadOne(src)
		if err != nil {
			return nil, fmt.Errorf("wordlist %s: %w", src, err)
		}
		names = append(names, wl.Name)
		for _, w := range wl.Words {
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			words = append(words, w)
		}
	}
	return newWordlist(strings.Join(names, "+"), "", words), nil
}

func (m *Manager) builtin(name string) (*Wordlist, error) {
	words, ok := m.builtins[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: built-in wordlist %q", ErrNotFound, name)
	}
	return newWordlist(BuiltinPrefix+strings.ToLower(name), "", words), nil
}

// download fetches url into the cache directory unless a fresh copy is
// already there.
func (m *Manager) download(url string) (*Wordlist, error) {
	if err := os.MkdirAll(m.cacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating wordlist cache: %w", err)
	}
	path := filepath.Join(m.cacheDir, cacheName(url))
	if info, err := os.Stat(path); err == nil && time.Since(info.ModTime()) < m.cacheTTL {
		m.logger.Debug("using cached wordlist", slog.String("url", url), slog.String("path", path))
		return readCached(url, path)
	}

	resp, err := m.client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("downloading wordlist: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("downloading wordlist: status %d", resp.StatusCode)
	}

	// A failed download must not leave a truncated cache entry.
	tmp, err := os.CreateTemp(m.cacheDir, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("caching wordlist: %w", err)
	}
	_, copyErr := io.Copy(tmp, io.LimitReader(resp.Body, maxDownload))
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("caching wordlist: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("caching wordlist: %w", err)
	}
	m.logger.Debug("downloaded wordlist", slog.String("url", url), slog.String("path", path))
	return readCached(url, path)
}

func readCached(url, path string) (*Wordlist, error) {
	wl, err := readFile(path)
	if err != nil {
		return nil, err
	}
	wl.Name = url
	return wl, nil
}

func readFile(path string) (*Wordlist, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("opening wordlist: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("opening gzip wordlist: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	words, err := readLines(r)
	if err != nil {
		return nil, err
	}
	return newWordlist(filepath.Base(path), path, words), nil
}

// readLines trims each line and drops blank ones. Lines starting with '#'
// are kept: they are valid payloads.
func readLines(r io.Reader) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			words = append(words, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading wordlist: %w", err)
	}
	return words, nil
}

func splitSources(source string) []string {
	var out []string
	for _, part := range strings.Split(source, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// cacheName derives a stable cache file name from a URL: a readable tail
// plus a murmur3 hash of the full URL so long URLs never collide.
func cacheName(url string) string {
	base := url[strings.LastIndex(url, "/")+1:]
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
			return r
		}
		return '_'
	}, base)
	if len(base) > 48 {
		base = base[:48]
	}
	return fmt.Sprintf("%016x-%s", murmur3.Sum64([]byte(url)), base)
}

func builtinLists() map[string][]string {
	return map[string][]string{
		"default": defaults.PayloadSet(),
		"xss": {
			"<script>alert(1)</script>", "<img src=x onerror=alert(1)>",
			"<svg/onload=alert(1)>", "\"><script>alert(1)</script>",
			"'><svg onload=alert(1)>", "javascript:alert(1)",
			"<body onload=alert(1)>", "<iframe src=javascript:alert(1)>",
			"<details open ontoggle=alert(1)>", "<a href=javascript:alert(1)>x</a>",
		},
		"sqli": {
			"1' OR '1'='1", "admin' --", "' OR 1=1;--", "\" OR 1=1--",
			"1; DROP TABLE users", "' UNION SELECT NULL--",
			"1' AND SLEEP(5)--", "1' ORDER BY 1--", "')) OR 1=1--",
			"1 AND 1=CONVERT(int,@@version)",
		},
		"traversal": {
			"../../../../etc/passwd", "..\\..\\..\\windows\\win.ini",
			"%2e%2e%2f%2e%2e%2fetc%2fpasswd", "....//....//etc/passwd",
			"..%252f..%252fetc%252fpasswd", "/etc/passwd%00",
		},
		"special": {
			"%00", "%0a", "%0d", "null", "undefined", "NaN",
			"-1", "2147483647", "-2147483648", "1e308",
			"[]", "{}", "''", "\"\"", "//", "/**/",
			"{{7*7}}", "${7*7}", "#{7*7}", "<%= 7*7 %>",
		},
	}
}
