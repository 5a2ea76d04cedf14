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

package workspace

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Hydrate restores dir from the backup object at key. A missing object is
// the legitimate first-run case and returns nil with dir untouched. Any
// other storage failure is returned: proceeding with an empty workspace
// when data was expected would silently lose agent state, so the caller
// (the init container) fails pod startup instead.
func Hydrate(ctx context.Context, store Store, dir, key string) error {
	r, err := store.Download(ctx, key)
	if errors.Is(err, ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	defer r.Close()

	if err := Extract(r, dir); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	return nil
}

// Backup archives dir and uploads it to key, overwriting the previous
// backup. The archive is staged to a temp file first so the upload carries
// an accurate content length.
func Backup(ctx context.Context, store Store, dir, key string) error {
	tmp, err := os.CreateTemp("", "workspace-*.tar.gz")
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if err := Archive(dir, tmp); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	size, err := tmp.Seek(0, 2)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if _, err := tmp.Seek(0, 0); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if err := store.Upload(ctx, key, tmp, size); err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	return nil
}

// BackupLoop runs Backup every interval until ctx is cancelled. Failures
// are logged and retried on the next tick; the preStop final pass is the
// durability backstop, not this loop.
func BackupLoop(ctx context.Context, log *zap.Logger, store Store, dir, key string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			start := time.Now()
			if err := Backup(ctx, store, dir, key); err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn("backup cycle failed, will retry next interval",
					zap.String("key", key), zap.Error(err))
				continue
			}
			log.Info("workspace backed up",
				zap.String("key", key), zap.Duration("took", time.Since(start)))
		}
	}
}
