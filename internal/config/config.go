// Package config builds the immutable server configuration from CLI flags,
// environment and an optional YAML file. The resulting Config is
// constructed once at startup, validated, and shared read-only by every
// component for the lifetime of the process.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAPIPathPrefix = "/pz"
	DefaultBindAddr      = "127.0.0.1:8000"
)

// Config is the resolved, validated server configuration.
type Config struct {
	// StaticRoot is the canonicalized (absolute, symlinks resolved)
	// directory static files are served from.
	StaticRoot string

	// APIBaseURL is the scheme-qualified base URL of the backend, without
	// a trailing slash.
	APIBaseURL string

	// APIPathPrefix selects proxied traffic. It always starts with "/"
	// and never ends with one.
	APIPathPrefix string

	// BindAddr is the listen address of the combined static+proxy port.
	BindAddr string

	// MetricsAddr, when non-empty, enables a second listener serving
	// /metrics and /healthz. Kept off the primary port so that every
	// non-API path there remains a static-file request.
	MetricsAddr string

	// UpstreamTimeout bounds each backend call. Zero means no timeout,
	// matching the historical behavior of this tool.
	UpstreamTimeout time.Duration
}

// Options carries the raw, unvalidated inputs from the CLI layer. Zero
// values mean "not set".
type Options struct {
	ConfigFile      string
	StaticDir       string
	API             string
	APIPath         string
	Bind            string
	MetricsAddr     string
	UpstreamTimeout time.Duration
}

// fileConfig mirrors the YAML config file schema.
type fileConfig struct {
	StaticDir       string `yaml:"static_dir"`
	API             string `yaml:"api"`
	APIPath         string `yaml:"api_path"`
	Bind            string `yaml:"bind"`
	MetricsAddr     string `yaml:"metrics_addr"`
	UpstreamTimeout string `yaml:"upstream_timeout"`
}

// Load merges the optional config file with explicit options (options win),
// applies defaults and validates the result. Any error here is fatal to
// startup: the server must not begin serving with a partial configuration.
func Load(opts Options) (Config, error) {
	merged := opts

	if opts.ConfigFile != "" {
		fc, err := readFile(opts.ConfigFile)
		if err != nil {
			return Config{}, err
		}
		if merged.StaticDir == "" {
			merged.StaticDir = fc.StaticDir
		}
		if merged.API == "" {
			merged.API = fc.API
		}
		if merged.APIPath == "" {
			merged.APIPath = fc.APIPath
		}
		if merged.Bind == "" {
			merged.Bind = fc.Bind
		}
		if merged.MetricsAddr == "" {
			merged.MetricsAddr = fc.MetricsAddr
		}
		if merged.UpstreamTimeout == 0 && fc.UpstreamTimeout != "" {
			d, err := time.ParseDuration(fc.UpstreamTimeout)
			if err != nil {
				return Config{}, fmt.Errorf("parse upstream_timeout in %s: %w", opts.ConfigFile, err)
			}
			merged.UpstreamTimeout = d
		}
	}

	staticRoot, err := resolveStaticRoot(merged.StaticDir)
	if err != nil {
		return Config{}, err
	}

	baseURL, err := normalizeAPIBaseURL(merged.API)
	if err != nil {
		return Config{}, err
	}

	prefix, err := normalizeAPIPathPrefix(merged.APIPath)
	if err != nil {
		return Config{}, err
	}

	bind := merged.Bind
	if bind == "" {
		bind = DefaultBindAddr
	}

	if merged.UpstreamTimeout < 0 {
		return Config{}, fmt.Errorf("upstream timeout must not be negative, got %s", merged.UpstreamTimeout)
	}

	return Config{
		StaticRoot:      staticRoot,
		APIBaseURL:      baseURL,
		APIPathPrefix:   prefix,
		BindAddr:        bind,
		MetricsAddr:     merged.MetricsAddr,
		UpstreamTimeout: merged.UpstreamTimeout,
	}, nil
}

func readFile(path string) (fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fileConfig{}, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return fc, nil
}

func resolveStaticRoot(dir string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("static files directory is required (--static-dir)")
	}

	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve static directory %q: %w", dir, err)
	}

	// Resolve symlinks up front so every per-request join works against
	// the real location. This also verifies the directory exists.
	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return "", fmt.Errorf("canonicalize static directory %q: %w", dir, err)
	}

	st, err := os.Stat(canonical)
	if err != nil {
		return "", fmt.Errorf("stat static directory %q: %w", dir, err)
	}
	if !st.IsDir() {
		return "", fmt.Errorf("static path %q is not a directory", dir)
	}

	return canonical, nil
}

func normalizeAPIBaseURL(api string) (string, error) {
	if api == "" {
		return "", fmt.Errorf("backend API address is required (--api)")
	}

	// A bare host:port defaults to plain HTTP.
	if !strings.Contains(api, "://") {
		api = "http://" + api
	}

	u, err := url.Parse(api)
	if err != nil {
		return "", fmt.Errorf("parse backend API address %q: %w", api, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("backend API address %q: unsupported scheme %q", api, u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("backend API address %q has no host", api)
	}

	return strings.TrimRight(api, "/"), nil
}

func normalizeAPIPathPrefix(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultAPIPathPrefix
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}

	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		return "", fmt.Errorf("API path prefix must not be the root path")
	}

	return prefix, nil
}
