// Package config resolves webfuzzer settings from, in increasing priority:
// built-in defaults, a YAML file, a .env file, WEBFUZZER_* environment
// variables and command-line flags.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/waftester/webfuzzer/pkg/defaults"
	"github.com/waftester/webfuzzer/pkg/httpclient"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "WEBFUZZER_"

// DefaultEnvFile is read when present and no other .env path is given.
const DefaultEnvFile = ".env"

// Report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatPDF  = "pdf"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Config holds every runtime setting.
type Config struct {
	Target      string        `yaml:"target"`
	Wordlist    string        `yaml:"wordlist"`
	DatasetPath string        `yaml:"dataset_path"`
	ModelPath   string        `yaml:"model_path"`
	ListenAddr  string        `yaml:"listen_addr"`
	Verbose     bool          `yaml:"verbose"`
	Probe       ProbeConfig   `yaml:"probe"`
	Metrics     MetricsConfig `yaml:"metrics"`
	Tracing     TracingConfig `yaml:"tracing"`
	Report      ReportConfig  `yaml:"report"`
}

// ProbeConfig controls how probes are delivered.
type ProbeConfig struct {
	// Timeout bounds each request. It stays at defaults.RequestTimeout
	// unless an operator overrides it for a slow target.
	Timeout         time.Duration     `yaml:"timeout"`
	RateLimit       float64           `yaml:"rate_limit"`
	Delay           time.Duration     `yaml:"delay"`
	Proxy           string            `yaml:"proxy"`
	SkipVerify      bool              `yaml:"skip_verify"`
	FollowRedirects bool              `yaml:"follow_redirects"`
	Headers         map[string]string `yaml:"headers"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig configures OTLP trace export. An empty endpoint disables it.
type TracingConfig struct {
	Endpoint string `yaml:"endpoint"`
	Insecure bool   `yaml:"insecure"`
}

// ReportConfig selects the report written after a CLI scan.
type ReportConfig struct {
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DatasetPath: defaults.DatasetFile,
		ListenAddr:  defaults.ListenAddr,
		Probe: ProbeConfig{
			Timeout:         defaults.RequestTimeout,
			FollowRedirects: true,
			Headers:         map[string]string{},
		},
		Metrics: MetricsConfig{Enabled: true},
		Report:  ReportConfig{Format: FormatText},
	}
}

// LoadOptions selects the sources Load reads.
type LoadOptions struct {
	// ConfigPath is an optional YAML file. A missing explicit file is an error.
	ConfigPath string
	// EnvPath is an optional .env file. When empty, DefaultEnvFile is read if it exists.
	EnvPath string
	// LookupEnv reads the process environment (default: os.LookupEnv).
	LookupEnv func(string) (string, bool)
}

// Load builds a Config from defaults, the YAML file, the .env file and the
// environment. Process environment variables take precedence over .env values.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigPath != "" {
		data, err := os.ReadFile(opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, opts.ConfigPath, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, opts.ConfigPath, err)
		}
		if cfg.Probe.Headers == nil {
			cfg.Probe.Headers = map[string]string{}
		}
		for k, v := range cfg.Probe.Headers {
			cfg.Probe.Headers[k] = expandEnvString(v)
		}
		cfg.Probe.Proxy = expandEnvString(cfg.Probe.Proxy)
	}

	dotenv, err := readEnvFile(opts.EnvPath)
	if err != nil {
		return nil, err
	}

	lookup := opts.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	get := func(key string) (string, bool) {
		if v, ok := lookup(key); ok {
			return v, true
		}
		v, ok := dotenv[key]
		return v, ok
	}

	if err := cfg.applyEnv(get); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readEnvFile(path string) (map[string]string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultEnvFile
	}
	values, err := godotenv.Read(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("%w: env file %s: %v", ErrInvalidConfig, path, err)
	}
	return values, nil
}

// applyEnv overlays WEBFUZZER_* variables.
func (c *Config) applyEnv(get func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := get(EnvPrefix + name); ok {
			*dst = v
		}
	}
	boolean := func(name string, dst *bool) error {
		v, ok := get(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, EnvPrefix, name, v, err)
		}
		*dst = b
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		v, ok := get(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%w: %s%s=%q: %v", ErrInvalidConfig, EnvPrefix, name, v, err)
		}
		*dst = d
		return nil
	}

	str("TARGET", &c.Target)
	str("WORDLIST", &c.Wordlist)
	str("DATASET", &c.DatasetPath)
	str("MODEL", &c.ModelPath)
	str("LISTEN", &c.ListenAddr)
	str("PROXY", &c.Probe.Proxy)
	str("OTLP_ENDPOINT", &c.Tracing.Endpoint)
	str("REPORT_FORMAT", &c.Report.Format)
	str("REPORT_OUTPUT", &c.Report.Output)

	if v, ok := get(EnvPrefix + "RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %sRATE_LIMIT=%q: %v", ErrInvalidConfig, EnvPrefix, v, err)
		}
		c.Probe.RateLimit = f
	}

	for _, fn := range []func() error{
		func() error { return boolean("VERBOSE", &c.Verbose) },
		func() error { return boolean("SKIP_VERIFY", &c.Probe.SkipVerify) },
		func() error { return boolean("FOLLOW_REDIRECTS", &c.Probe.FollowRedirects) },
		func() error { return boolean("METRICS", &c.Metrics.Enabled) },
		func() error { return boolean("OTLP_INSECURE", &c.Tracing.Insecure) },
		func() error { return duration("TIMEOUT", &c.Probe.Timeout) },
		func() error { return duration("DELAY", &c.Probe.Delay) },
	} {
		if err := fn(); err != nil {
			return err
		}
	}
	return nil
}

// BindFlags registers command-line flags whose defaults are the current
// values, so only flags given explicitly override file and environment.
// The -config and -env flags are accepted here and read by PreScan.
func (c *Config) BindFlags(fs *flag.FlagSet) {
	fs.String("config", "", "YAML configuration file")
	fs.String("env", "", ".env file (default: ./.env when present)")

	fs.StringVar(&c.Target, "u", c.Target, "Target URL")
	fs.StringVar(&c.Wordlist, "w", c.Wordlist, "Wordlist: file, URL or builtin:<name> (comma-separated to combine)")
	fs.StringVar(&c.DatasetPath, "dataset", c.DatasetPath, "Dataset CSV path (empty disables)")
	fs.StringVar(&c.ModelPath, "model", c.ModelPath, "Scoring model YAML file")
	fs.StringVar(&c.ListenAddr, "listen", c.ListenAddr, "Control plane listen address")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "Verbose (debug) logging")

	fs.DurationVar(&c.Probe.Timeout, "timeout", c.Probe.Timeout, "Per-request timeout")
	fs.Float64Var(&c.Probe.RateLimit, "rate-limit", c.Probe.RateLimit, "Max requests per second (0 = unlimited)")
	fs.DurationVar(&c.Probe.Delay, "delay", c.Probe.Delay, "Delay between requests")
	fs.StringVar(&c.Probe.Proxy, "x", c.Probe.Proxy, "HTTP/SOCKS5 proxy URL")
	fs.BoolVar(&c.Probe.SkipVerify, "k", c.Probe.SkipVerify, "Skip TLS verification")
	fs.BoolVar(&c.Probe.FollowRedirects, "follow-redirects", c.Probe.FollowRedirects, "Follow redirects")
	fs.Var((*headerFlag)(&c.Probe.Headers), "H", `Custom header "Name: value" (repeatable)`)

	fs.BoolVar(&c.Metrics.Enabled, "metrics", c.Metrics.Enabled, "Serve Prometheus metrics")
	fs.StringVar(&c.Tracing.Endpoint, "otlp-endpoint", c.Tracing.Endpoint, "OTLP/gRPC endpoint for traces")
	fs.BoolVar(&c.Tracing.Insecure, "otlp-insecure", c.Tracing.Insecure, "Plaintext OTLP connection")

	fs.StringVar(&c.Report.Format, "report", c.Report.Format, "Report format: text, json, pdf")
	fs.StringVar(&c.Report.Output, "o", c.Report.Output, "Report output file (empty = stdout for text/json)")
}

// PreScan extracts the -config and -env values from args before the flag
// set is built, since they decide the flag defaults.
func PreScan(args []string) (configPath, envPath string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if arg == "--" {
			break
		}
		name := strings.TrimLeft(arg, "-")
		if name == arg {
			continue
		}
		value, hasValue := "", false
		if k, v, ok := strings.Cut(name, "="); ok {
			name, value, hasValue = k, v, true
		}
		if name != "config" && name != "env" {
			continue
		}
		if !hasValue && i+1 < len(args) {
			i++
			value = args[i]
		}
		if name == "config" {
			configPath = value
		} else {
			envPath = value
		}
	}
	return configPath, envPath
}

// Validate checks semantic constraints.
func (c *Config) Validate() error {
	if c.Probe.Timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive", ErrInvalidConfig)
	}
	if c.Probe.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must not be negative", ErrInvalidConfig)
	}
	if c.Probe.Delay < 0 {
		return fmt.Errorf("%w: delay must not be negative", ErrInvalidConfig)
	}
	switch c.Report.Format {
	case "", FormatText, FormatJSON, FormatPDF:
	default:
		return fmt.Errorf("%w: unknown report format %q", ErrInvalidConfig, c.Report.Format)
	}
	if c.Report.Format == FormatPDF && c.Report.Output == "" {
		return fmt.Errorf("%w: pdf report needs an output file", ErrInvalidConfig)
	}
	if _, err := httpclient.ParseProxyURL(c.Probe.Proxy); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.Target != "" {
		if err := ValidateTarget(c.Target); err != nil {
			return err
		}
	}
	return nil
}

// RequireTarget reports ErrMissingRequired when no target is set.
func (c *Config) RequireTarget() error {
	if c.Target == "" {
		return fmt.Errorf("%w: target (-u or %sTARGET)", ErrMissingRequired, EnvPrefix)
	}
	return nil
}

// ValidateTarget accepts absolute http and https URLs.
func ValidateTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("%w: target: %v", ErrInvalidConfig, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: target scheme must be http or https, got %q", ErrInvalidConfig, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: target %q has no host", ErrInvalidConfig, target)
	}
	return nil
}

// HTTPClient returns the probe client configuration.
func (c *Config) HTTPClient() httpclient.Config {
	hc := httpclient.DefaultConfig()
	hc.Timeout = c.Probe.Timeout
	hc.InsecureSkipVerify = c.Probe.SkipVerify
	hc.FollowRedirects = c.Probe.FollowRedirects
	hc.Proxy = c.Probe.Proxy
	if len(c.Probe.Headers) > 0 {
		hc.Headers = make(map[string][]string, len(c.Probe.Headers))
		for k, v := range c.Probe.Headers {
			hc.Headers.Set(k, v)
		}
	}
	return hc
}

// expandEnvString replaces ${VAR} with the value of the environment variable.
func expandEnvString(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// headerFlag collects repeated -H "Name: value" flags.
type headerFlag map[string]string

func (h *headerFlag) String() string {
	if h == nil || *h == nil {
		return ""
	}
	parts := make([]string, 0, len(*h))
	for k, v := range *h {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ", ")
}

func (h *headerFlag) Set(s string) error {
	name, value, ok := strings.Cut(s, ":")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return fmt.Errorf("header must be \"Name: value\", got %q", s)
	}
	if *h == nil {
		*h = map[string]string{}
	}
	(*h)[name] = strings.TrimSpace(value)
	return nil
}
