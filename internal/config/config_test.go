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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 30*time.Minute, cfg.Hibernation.SoftTTL)
	require.Equal(t, 24*time.Hour, cfg.Hibernation.HardTTL)
	require.Equal(t, time.Minute, cfg.Hibernation.SweepInterval)
	require.Equal(t, 5*time.Minute, cfg.Hibernation.TransitionTimeout)
	require.Equal(t, 5*time.Minute, cfg.Workspace.BackupInterval)
	require.Equal(t, "Delete", cfg.Workspace.PVCPolicy)
	require.Equal(t, "agent-workspaces", cfg.Storage.Bucket)
	require.True(t, cfg.Storage.UseSSL)
	require.False(t, cfg.Tracing.Enabled)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
hibernation:
  softTTL: 10m
  hardTTL: 2h
workspace:
  syncImage: registry.test/workspace-sync:v2
  pvcPolicy: Retain
storage:
  endpoint: minio.platform.svc:9000
  bucket: workspaces
  useSSL: false
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, 10*time.Minute, cfg.Hibernation.SoftTTL)
	require.Equal(t, 2*time.Hour, cfg.Hibernation.HardTTL)
	require.Equal(t, "registry.test/workspace-sync:v2", cfg.Workspace.SyncImage)
	require.Equal(t, "Retain", cfg.Workspace.PVCPolicy)
	require.Equal(t, "minio.platform.svc:9000", cfg.Storage.Endpoint)
	require.Equal(t, "workspaces", cfg.Storage.Bucket)
	require.False(t, cfg.Storage.UseSSL)

	// Unset keys keep their defaults.
	require.Equal(t, time.Minute, cfg.Hibernation.SweepInterval)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "hard TTL below soft TTL",
			mutate: func(c *Config) { c.Hibernation.HardTTL = c.Hibernation.SoftTTL - time.Minute },
		},
		{
			name:   "zero sweep interval",
			mutate: func(c *Config) { c.Hibernation.SweepInterval = 0 },
		},
		{
			name:   "empty sync image",
			mutate: func(c *Config) { c.Workspace.SyncImage = "" },
		},
		{
			name:   "unknown pvc policy",
			mutate: func(c *Config) { c.Workspace.PVCPolicy = "Recycle" },
		},
		{
			name:   "empty bucket",
			mutate: func(c *Config) { c.Storage.Bucket = "" },
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := Load("")
			require.NoError(t, err)

			tc.mutate(cfg)
			require.Error(t, cfg.Validate())
		})
	}
}
