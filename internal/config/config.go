// Shopfront - Offline Resilience Layer for Web Storefronts
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/shopfront

// Package config loads worker configuration via Koanf v2 with layered
// sources (highest priority wins): environment variables, config file,
// built-in defaults.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root worker configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Storage   StorageConfig   `koanf:"storage"`
	Cache     CacheConfig     `koanf:"cache"`
	Sync      SyncConfig      `koanf:"sync"`
	Messaging MessagingConfig `koanf:"messaging"`
	Logging   LoggingConfig   `koanf:"logging"`
}

// ServerConfig controls the worker's listening edge: the interceptor
// catch-all, the websocket attach endpoint and the ops endpoints.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"gte=1,lte=65535"`
	Timeout time.Duration `koanf:"timeout"`

	// CORSOrigins are the foreground origins allowed to attach to /ws.
	CORSOrigins []string `koanf:"cors_origins"`

	// WSRateLimit caps websocket attach attempts per client IP per minute.
	WSRateLimit int `koanf:"ws_rate_limit" validate:"gte=1"`
}

// Addr returns the listen address in host:port form.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// UpstreamConfig points at the origin the interceptor fronts.
type UpstreamConfig struct {
	// URL is the origin base, e.g. http://localhost:5173. Requests for
	// any other origin pass through the interceptor untouched.
	URL string `koanf:"url" validate:"required,url"`

	// FetchTimeout bounds every upstream fetch; a non-response after
	// this interval is treated as failure rather than hanging the caller.
	FetchTimeout time.Duration `koanf:"fetch_timeout" validate:"gt=0"`
}

// StorageConfig locates the Badger instance holding the cart queue and
// the response caches.
type StorageConfig struct {
	Path string `koanf:"path" validate:"required"`
}

// CacheConfig controls the named response caches.
type CacheConfig struct {
	// Generation tags the current cache namespaces ("precache-<gen>" and
	// "runtime-<gen>"). Bump it on redeploy; stale generations are swept
	// at activation.
	Generation string `koanf:"generation" validate:"required,excludes=:"`

	// PrecacheURLs are fetched and stored at install, before first use.
	// Individual failures are skipped.
	PrecacheURLs []string `koanf:"precache_urls"`

	// AppShellPath is the navigational fallback document served for
	// offline navigations.
	AppShellPath string `koanf:"app_shell_path" validate:"required"`

	// RevalidatePerSecond and RevalidateBurst bound background
	// stale-while-revalidate refreshes.
	RevalidatePerSecond float64 `koanf:"revalidate_per_second" validate:"gt=0"`
	RevalidateBurst     int     `koanf:"revalidate_burst" validate:"gte=1"`
}

// PrecacheName returns the generation-tagged precache namespace.
func (c CacheConfig) PrecacheName() string { return "precache-" + c.Generation }

// RuntimeName returns the generation-tagged runtime namespace.
func (c CacheConfig) RuntimeName() string { return "runtime-" + c.Generation }

// SyncConfig controls the queue synchronizer.
type SyncConfig struct {
	// APIBaseURL is the compiled-in default remote endpoint base. A
	// foreground can override it per worker lifetime with
	// SET_API_BASE_URL; the override is not persisted.
	APIBaseURL string `koanf:"api_base_url" validate:"required,url"`

	// Timeout bounds each sync POST.
	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// Interval is the periodic background sync opportunity. Zero
	// disables periodic drains (explicit triggers still work).
	Interval time.Duration `koanf:"interval"`

	// ProbeInterval is how often the reconnect probe checks whether a
	// previously failed endpoint has become reachable again.
	ProbeInterval time.Duration `koanf:"probe_interval"`
}

// MessagingConfig selects the message bus transport.
type MessagingConfig struct {
	// Transport is "channel" (in-process gochannel, default) or "nats"
	// (JetStream, for multi-process deployments).
	Transport string `koanf:"transport" validate:"oneof=channel nats"`

	// NATS settings, used only when Transport is "nats".
	NATSURL        string `koanf:"nats_url"`
	EmbeddedServer bool   `koanf:"embedded_server"`
	StoreDir       string `koanf:"store_dir"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. These are
// layered first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8787,
			Timeout:     30 * time.Second,
			CORSOrigins: []string{"*"},
			WSRateLimit: 60,
		},
		Upstream: UpstreamConfig{
			URL:          "http://localhost:5173",
			FetchTimeout: 10 * time.Second,
		},
		Storage: StorageConfig{
			Path: "/data/shopfront",
		},
		Cache: CacheConfig{
			Generation: "v1",
			PrecacheURLs: []string{
				"/",
				"/index.html",
				"/manifest.json",
				"/favicon.ico",
			},
			AppShellPath:        "/index.html",
			RevalidatePerSecond: 10,
			RevalidateBurst:     20,
		},
		Sync: SyncConfig{
			APIBaseURL:    "http://localhost:5000",
			Timeout:       15 * time.Second,
			Interval:      5 * time.Minute,
			ProbeInterval: 30 * time.Second,
		},
		Messaging: MessagingConfig{
			Transport:      "channel",
			NATSURL:        "nats://127.0.0.1:4222",
			EmbeddedServer: false,
			StoreDir:       "/data/shopfront/nats",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Validate checks the configuration for structural problems.
func (c *Config) Validate() error {
	v := validator.New()
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Messaging.Transport == "nats" && c.Messaging.NATSURL == "" {
		return fmt.Errorf("config: messaging.nats_url required when transport is nats")
	}
	return nil
}
