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

// workspace-sync moves a sandbox workspace between its PVC and object
// storage. It runs in three places inside a sandbox pod: as the hydrate
// init container, as the backup sidecar, and as the main container's
// preStop hook for the final synchronous sync.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bizmatters/agent-sandbox-operator/internal/workspace"
)

type syncConfig struct {
	dir      string
	endpoint string
	bucket   string
	key      string
	secure   bool
}

func (c *syncConfig) store() (workspace.Store, error) {
	if c.endpoint == "" {
		return nil, fmt.Errorf("object storage endpoint is not set")
	}
	if c.bucket == "" {
		return nil, fmt.Errorf("object storage bucket is not set")
	}
	return workspace.NewS3Store(workspace.S3Config{
		Endpoint:  c.endpoint,
		Bucket:    c.bucket,
		AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		UseSSL:    c.secure,
	})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg := &syncConfig{}

	root := &cobra.Command{
		Use:           "workspace-sync",
		Short:         "Sync a sandbox workspace with object storage",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfg.dir, "dir", envOr("WORKSPACE_DIR", "/workspace"), "workspace directory")
	root.PersistentFlags().StringVar(&cfg.endpoint, "endpoint", os.Getenv("WORKSPACE_S3_ENDPOINT"), "object storage endpoint")
	root.PersistentFlags().StringVar(&cfg.bucket, "bucket", os.Getenv("WORKSPACE_S3_BUCKET"), "object storage bucket")
	root.PersistentFlags().StringVar(&cfg.key, "key", os.Getenv("WORKSPACE_S3_KEY"), "object key of the workspace archive")
	root.PersistentFlags().BoolVar(&cfg.secure, "secure", os.Getenv("WORKSPACE_S3_SECURE") != "false", "use TLS for object storage")

	root.AddCommand(hydrateCmd(logger, cfg))
	root.AddCommand(backupCmd(logger, cfg))
	root.AddCommand(finalCmd(logger, cfg))

	if err := root.Execute(); err != nil {
		logger.Error("command failed", zap.Error(err))
		os.Exit(1)
	}
}

// hydrateCmd restores the last workspace archive into the PVC. A missing
// archive means a first run and succeeds with an untouched directory. Any
// other failure exits non-zero so the pod never starts on a silently
// half-restored workspace.
func hydrateCmd(logger *zap.Logger, cfg *syncConfig) *cobra.Command {
	var copySelf string
	cmd := &cobra.Command{
		Use:   "hydrate",
		Short: "Restore the workspace archive from object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cfg.store()
			if err != nil {
				return err
			}
			if err := workspace.Hydrate(cmd.Context(), store, cfg.dir, cfg.key); err != nil {
				return fmt.Errorf("hydrating workspace: %w", err)
			}
			logger.Info("workspace hydrated", zap.String("dir", cfg.dir), zap.String("key", cfg.key))

			if copySelf != "" {
				if err := copySelfTo(copySelf); err != nil {
					return fmt.Errorf("copying binary to %q: %w", copySelf, err)
				}
				logger.Info("copied workspace-sync binary", zap.String("dest", copySelf))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&copySelf, "copy-self", "",
		"directory to copy this binary into, for the main container's preStop hook")
	return cmd
}

// backupCmd periodically archives the workspace to object storage until
// SIGTERM. Individual failures are logged and retried next tick.
func backupCmd(logger *zap.Logger, cfg *syncConfig) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Periodically back the workspace up to object storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cfg.store()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			logger.Info("starting backup loop",
				zap.String("dir", cfg.dir), zap.String("key", cfg.key), zap.Duration("interval", interval))
			workspace.BackupLoop(ctx, logger, store, cfg.dir, cfg.key, interval)
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Minute, "time between backups")
	return cmd
}

// finalCmd performs the last synchronous backup from the preStop hook. It
// runs inside the pod's termination grace period, so a failure can only be
// reported, not retried.
func finalCmd(logger *zap.Logger, cfg *syncConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "final",
		Short: "Run one final backup before pod termination",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := cfg.store()
			if err != nil {
				return err
			}
			if err := workspace.Backup(cmd.Context(), store, cfg.dir, cfg.key); err != nil {
				return fmt.Errorf("final backup: %w", err)
			}
			logger.Info("final backup complete", zap.String("key", cfg.key))
			return nil
		},
	}
}

// copySelfTo copies the running binary into dir, preserving execute bits.
func copySelfTo(dir string) error {
	self, err := os.Executable()
	if err != nil {
		return err
	}
	src, err := os.Open(self)
	if err != nil {
		return err
	}
	defer src.Close()

	dest := filepath.Join(dir, "workspace-sync")
	dst, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
