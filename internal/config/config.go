// Package config loads service configuration from an optional YAML file
// with environment-variable overrides, following the teacher's layered
// defaults-then-YAML-then-env approach in internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults holds resource limits applied to the optional containerized
// compile backend, mirroring the teacher's config.Defaults shape.
type Defaults struct {
	CPULimit    float64 `yaml:"cpu_limit"`
	MemLimitMB  int     `yaml:"mem_limit_mb"`
	PidsLimit   int     `yaml:"pids_limit"`
	NetworkMode string  `yaml:"network_mode"`
}

// Sandbox configures the optional containerized compiler/rasterizer
// backend (SPEC_FULL.md §4.6 "ContainerRunner").
type Sandbox struct {
	Enabled bool   `yaml:"enabled"`
	Image   string `yaml:"image"`
}

// Config is the full service configuration.
type Config struct {
	Listen                  string   `yaml:"listen"`
	WorkingDirectory        string   `yaml:"working_directory"`
	InstanceKey             string   `yaml:"instance_key"`
	SessionTTLSec           int      `yaml:"session_ttl_sec"`
	ClearExpiredIntervalSec int      `yaml:"clear_expired_interval_sec"`
	AllowedCompilers        []string `yaml:"allowed_compilers"`

	MetastoreBackend string `yaml:"metastore_backend"` // "redis" | "sqlite"
	RedisURL         string `yaml:"redis_url"`
	SQLitePath       string `yaml:"sqlite_path"`

	RenderExecTimeoutSec int      `yaml:"render_exec_timeout_sec"`
	Sandbox              Sandbox  `yaml:"sandbox"`
	Defaults             Defaults `yaml:"defaults"`

	TaskQueueWorkers int `yaml:"taskqueue_workers"`
}

// Load returns a Config seeded with defaults, optionally overridden by a
// YAML file at yamlPath (ignored if it doesn't exist), then by environment
// variables named per spec.md §6.
func Load(yamlPath string) (*Config, error) {
	cfg := &Config{
		Listen:                  ":8080",
		WorkingDirectory:        "/working",
		InstanceKey:             "latex-compile-service",
		SessionTTLSec:           300,
		ClearExpiredIntervalSec: 60,
		AllowedCompilers:        []string{"xelatex", "pdflatex", "lualatex"},

		MetastoreBackend: "redis",
		RedisURL:         "redis://:@localhost:6379/0",
		SQLitePath:       "./texcompile.db",

		RenderExecTimeoutSec: 120,
		Sandbox: Sandbox{
			Enabled: false,
			Image:   "texlive/texlive:latest",
		},
		Defaults: Defaults{
			CPULimit:    1.0,
			MemLimitMB:  1024,
			PidsLimit:   256,
			NetworkMode: "none",
		},

		TaskQueueWorkers: 0, // 0 => runtime.NumCPU()
	}

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", yamlPath, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("WORKING_DIRECTORY"); v != "" {
		cfg.WorkingDirectory = v
	}
	if v := os.Getenv("INSTANCE_KEY"); v != "" {
		cfg.InstanceKey = v
	}
	if v := os.Getenv("SESSION_TTL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SessionTTLSec = n
		}
	}
	if v := os.Getenv("CLEAR_EXPIRED_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.ClearExpiredIntervalSec = n
		}
	}
	if v := os.Getenv("ALLOWED_COMPILERS"); v != "" {
		cfg.AllowedCompilers = strings.Split(v, ",")
	}
	if v := os.Getenv("METASTORE_BACKEND"); v != "" {
		cfg.MetastoreBackend = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
	if v := os.Getenv("RENDER_EXEC_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RenderExecTimeoutSec = n
		}
	}
	if v := os.Getenv("RENDER_SANDBOX_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Sandbox.Enabled = b
		}
	}
	if v := os.Getenv("RENDER_SANDBOX_IMAGE"); v != "" {
		cfg.Sandbox.Image = v
	}
	if v := os.Getenv("TASKQUEUE_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TaskQueueWorkers = n
		}
	}
}
