package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Config carries every recognized environment option. Fields tagged
// required must be set and Load fails when any of them is missing; DEBUG and
// METRICS_ADDR are optional.
type Config struct {
	OverlayNetworkName string `env:"OVERLAY_NETWORK_NAME,required"`
	MongoServiceName   string `env:"MONGO_SERVICE_NAME,required"`
	ReplicaSetName     string `env:"REPLICASET_NAME,required"`
	MongoPort          int    `env:"MONGO_PORT,required"`
	RootUsername       string `env:"MONGO_ROOT_USERNAME,required"`
	RootPassword       string `env:"MONGO_ROOT_PASSWORD,required"`
	InitDBDatabase     string `env:"INITDB_DATABASE,required"`
	InitDBUser         string `env:"INITDB_USER,required"`
	InitDBPassword     string `env:"INITDB_PASSWORD,required"`
	Debug              bool   `env:"DEBUG"`
	MetricsAddr        string `env:"METRICS_ADDR"`
}

// knownVars lists every variable Load resolves case-insensitively.
var knownVars = []string{
	"OVERLAY_NETWORK_NAME",
	"MONGO_SERVICE_NAME",
	"REPLICASET_NAME",
	"MONGO_PORT",
	"MONGO_ROOT_USERNAME",
	"MONGO_ROOT_PASSWORD",
	"INITDB_DATABASE",
	"INITDB_USER",
	"INITDB_PASSWORD",
	"DEBUG",
	"METRICS_ADDR",
}

// Load reads the configuration from the ambient environment. Variable names
// are matched case-insensitively: mongo_port and MONGO_PORT are the same
// option, with the exact-case spelling winning when both are set.
func Load() (*Config, error) {
	normalizeEnv(os.Environ())

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("loading environment configuration: %w", err)
	}
	if cfg.MongoPort <= 0 || cfg.MongoPort > 65535 {
		return nil, fmt.Errorf("MONGO_PORT %d out of range", cfg.MongoPort)
	}
	return &cfg, nil
}

// normalizeEnv re-exports any case-variant spelling of a known variable
// under its canonical upper-case name so env.Parse can find it.
func normalizeEnv(environ []string) {
	for _, kv := range environ {
		eq := strings.IndexByte(kv, '=')
		if eq < 0 {
			continue
		}
		name, value := kv[:eq], kv[eq+1:]
		for _, known := range knownVars {
			if name == known {
				break
			}
			if strings.EqualFold(name, known) {
				if _, set := os.LookupEnv(known); !set {
					os.Setenv(known, value)
				}
				break
			}
		}
	}
}
