// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/gdamore/runnable"
)

// EnvPrefix marks the environment variables that override the file.
// A double underscore separates nesting levels, so RUNNABLED_AUTH__USER
// sets auth.user.
const EnvPrefix = "RUNNABLED_"

// DefaultConfigFile is read when --config is not given.  It is optional.
const DefaultConfigFile = "runnabled.yaml"

// AuthConfig enables HTTP Basic authentication on the control API.
type AuthConfig struct {
	User         string `koanf:"user" validate:"required_with=PasswordHash"`
	PasswordHash string `koanf:"password_hash" validate:"required_with=User"`
}

// Config is the daemon configuration.
type Config struct {
	Name            string                  `koanf:"name" validate:"required"`
	Listen          string                  `koanf:"listen" validate:"required,hostname_port"`
	Formation       string                  `koanf:"formation"`
	Strategy        string                  `koanf:"strategy" validate:"oneof=hybrid process thread task"`
	Restartable     bool                    `koanf:"restartable"`
	ShutdownTimeout time.Duration           `koanf:"shutdown_timeout" validate:"gte=0"`
	MaxConnections  int                     `koanf:"max_connections" validate:"gte=0"`
	PidFile         string                  `koanf:"pidfile"`
	Auth            AuthConfig              `koanf:"auth"`
	Services        []runnable.ExecManifest `koanf:"services" validate:"dive"`
}

func defaultConfig() *Config {
	return &Config{
		Name:           "runnabled",
		Listen:         "127.0.0.1:8321",
		Formation:      runnable.AllServices,
		Strategy:       "hybrid",
		Restartable:    true,
		MaxConnections: 64,
	}
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

// LoadConfig layers defaults, the YAML file at path, and the environment.
// A missing file is an error only when required is set.
func LoadConfig(path string, required bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if _, err := os.Stat(path); err == nil || required {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks field constraints, then that the formation parses and
// names only configured services.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]bool)
	for _, m := range c.Services {
		if seen[m.Name] {
			return fmt.Errorf("%w: %s", runnable.ErrDuplicateService, m.Name)
		}
		seen[m.Name] = true
	}
	f, err := c.ParseFormation()
	if err != nil {
		return err
	}
	for _, slot := range f {
		if slot.Name != runnable.AllServices && !seen[slot.Name] {
			return fmt.Errorf("%w: %s", runnable.ErrUnknownService, slot.Name)
		}
	}
	return nil
}

// ParseFormation parses the formation, where empty means every service.
func (c *Config) ParseFormation() (runnable.Formation, error) {
	if c.Formation == "" {
		return runnable.ParseFormation(runnable.AllServices)
	}
	return runnable.ParseFormation(c.Formation)
}

// Registry returns the configured services.
func (c *Config) Registry() (*runnable.Registry, error) {
	reg := runnable.NewRegistry()
	for _, m := range c.Services {
		if err := reg.Register(runnable.NewExecService(m)); err != nil {
			return nil, fmt.Errorf("%w: %s", err, m.Name)
		}
	}
	return reg, nil
}
