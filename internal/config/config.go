// Copyright 2025 The Bizmatters Platform Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads operator settings from a YAML file and environment
// variables. Environment variables use the SANDBOX_OPERATOR_ prefix with
// underscores for nesting, e.g. SANDBOX_OPERATOR_STORAGE_BUCKET.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bizmatters/agent-sandbox-operator/internal/composition"
)

// Config holds all tunable operator behavior. Everything has a default so
// the operator starts with no config file at all.
type Config struct {
	Hibernation HibernationConfig `mapstructure:"hibernation"`
	Workspace   WorkspaceConfig   `mapstructure:"workspace"`
	Storage     StorageConfig     `mapstructure:"storage"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

type HibernationConfig struct {
	SoftTTL           time.Duration `mapstructure:"softTTL"`
	HardTTL           time.Duration `mapstructure:"hardTTL"`
	SweepInterval     time.Duration `mapstructure:"sweepInterval"`
	TransitionTimeout time.Duration `mapstructure:"transitionTimeout"`
}

type WorkspaceConfig struct {
	// SyncImage is the workspace-sync image used for the hydrate init
	// container and backup sidecar unless the claim overrides it.
	SyncImage      string        `mapstructure:"syncImage"`
	BackupInterval time.Duration `mapstructure:"backupInterval"`
	// PVCPolicy is Delete or Retain.
	PVCPolicy string `mapstructure:"pvcPolicy"`
}

type StorageConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Bucket   string `mapstructure:"bucket"`
	UseSSL   bool   `mapstructure:"useSSL"`
}

type TracingConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from path (optional, "" skips the file) layered
// under environment overrides, then validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("hibernation.softTTL", 30*time.Minute)
	v.SetDefault("hibernation.hardTTL", 24*time.Hour)
	v.SetDefault("hibernation.sweepInterval", time.Minute)
	v.SetDefault("hibernation.transitionTimeout", 5*time.Minute)
	v.SetDefault("workspace.syncImage", "ghcr.io/bizmatters/workspace-sync:latest")
	v.SetDefault("workspace.backupInterval", 5*time.Minute)
	v.SetDefault("workspace.pvcPolicy", string(composition.DeletionPolicyDelete))
	v.SetDefault("storage.endpoint", "")
	v.SetDefault("storage.bucket", "agent-workspaces")
	v.SetDefault("storage.useSSL", true)
	v.SetDefault("tracing.enabled", false)

	v.SetEnvPrefix("SANDBOX_OPERATOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the operator cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Hibernation.SoftTTL <= 0 {
		errs = append(errs, errors.New("hibernation.softTTL must be positive"))
	}
	if c.Hibernation.HardTTL <= c.Hibernation.SoftTTL {
		errs = append(errs, errors.New("hibernation.hardTTL must exceed softTTL"))
	}
	if c.Hibernation.SweepInterval <= 0 {
		errs = append(errs, errors.New("hibernation.sweepInterval must be positive"))
	}
	if c.Hibernation.TransitionTimeout <= 0 {
		errs = append(errs, errors.New("hibernation.transitionTimeout must be positive"))
	}
	if c.Workspace.SyncImage == "" {
		errs = append(errs, errors.New("workspace.syncImage must be set"))
	}
	if c.Workspace.BackupInterval <= 0 {
		errs = append(errs, errors.New("workspace.backupInterval must be positive"))
	}
	switch composition.DeletionPolicy(c.Workspace.PVCPolicy) {
	case composition.DeletionPolicyDelete, composition.DeletionPolicyRetain:
	default:
		errs = append(errs, fmt.Errorf("workspace.pvcPolicy %q is not Delete or Retain", c.Workspace.PVCPolicy))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket must be set"))
	}
	return errors.Join(errs...)
}
