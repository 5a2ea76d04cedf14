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
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeStore keeps uploaded objects in memory.
type fakeStore struct {
	objects map[string][]byte
	err     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Download(_ context.Context, key string) (io.ReadCloser, error) {
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrNotExist
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeStore) Upload(_ context.Context, key string, r io.Reader, _ int64) error {
	if f.err != nil {
		return f.err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	f.objects[key] = data
	return nil
}

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, dir string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return tree
}

func TestKey(t *testing.T) {
	require.Equal(t, "workspaces/tenant-a/workspace.tar.gz", Key("tenant-a"))
}

func TestArchiveExtractRoundTrip(t *testing.T) {
	files := map[string]string{
		"notes.txt":          "remember the milk",
		"src/main.py":        "print('hello')",
		"src/pkg/helpers.py": "def helper(): pass",
		".config/agent.yaml": "model: small",
	}

	src := t.TempDir()
	writeTree(t, src, files)

	var buf bytes.Buffer
	require.NoError(t, Archive(src, &buf))

	dst := t.TempDir()
	require.NoError(t, Extract(&buf, dst))
	require.Equal(t, files, readTree(t, dst))
}

func TestArchiveExtractRepeatedCycles(t *testing.T) {
	files := map[string]string{
		"state.json": `{"step": 7}`,
		"deep/a/b/c": "nested",
	}

	dir := t.TempDir()
	writeTree(t, dir, files)

	// Three hibernate/resurrect cycles must be lossless.
	for i := 0; i < 3; i++ {
		var buf bytes.Buffer
		require.NoError(t, Archive(dir, &buf))

		dir = t.TempDir()
		require.NoError(t, Extract(&buf, dir))
	}
	require.Equal(t, files, readTree(t, dir))
}

func TestExtractOverwrites(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"state.txt": "new"})

	var buf bytes.Buffer
	require.NoError(t, Archive(src, &buf))

	dst := t.TempDir()
	writeTree(t, dst, map[string]string{"state.txt": "old", "stale.txt": "kept"})

	require.NoError(t, Extract(&buf, dst))
	tree := readTree(t, dst)
	require.Equal(t, "new", tree["state.txt"])
	// Extract overlays, it does not prune.
	require.Equal(t, "kept", tree["stale.txt"])
}

func TestExtractRejectsPathTraversal(t *testing.T) {
	for _, name := range []string{"../escape.txt", "/abs.txt", "nested/../../escape.txt"} {
		t.Run(name, func(t *testing.T) {
			var buf bytes.Buffer
			gw := gzip.NewWriter(&buf)
			tw := tar.NewWriter(gw)
			require.NoError(t, tw.WriteHeader(&tar.Header{
				Name: name,
				Mode: 0o644,
				Size: 4,
			}))
			_, err := tw.Write([]byte("evil"))
			require.NoError(t, err)
			require.NoError(t, tw.Close())
			require.NoError(t, gw.Close())

			require.Error(t, Extract(&buf, t.TempDir()))
		})
	}
}

func TestExtractAllowsDottedNames(t *testing.T) {
	src := t.TempDir()
	writeTree(t, src, map[string]string{"notes..md": "dots, not traversal"})

	var buf bytes.Buffer
	require.NoError(t, Archive(src, &buf))

	dst := t.TempDir()
	require.NoError(t, Extract(&buf, dst))
	require.Equal(t, "dots, not traversal", readTree(t, dst)["notes..md"])
}

func TestHydrateFirstRun(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, Hydrate(context.Background(), newFakeStore(), dir, Key("tenant-a")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries, "first run must leave the workspace untouched")
}

func TestHydrateStorageError(t *testing.T) {
	store := newFakeStore()
	store.err = errors.New("connection refused")

	err := Hydrate(context.Background(), store, t.TempDir(), Key("tenant-a"))
	require.Error(t, err)
}

func TestBackupHydrateRoundTrip(t *testing.T) {
	files := map[string]string{
		"journal.md":  "day 1",
		"out/run.log": "ok",
	}

	src := t.TempDir()
	writeTree(t, src, files)

	store := newFakeStore()
	key := Key("tenant-a")
	require.NoError(t, Backup(context.Background(), store, src, key))
	require.Contains(t, store.objects, key)

	dst := t.TempDir()
	require.NoError(t, Hydrate(context.Background(), store, dst, key))
	require.Equal(t, files, readTree(t, dst))
}

// flakyStore fails the first failures uploads, then delegates to an
// in-memory store. Locked because the backup loop uploads from its own
// goroutine.
type flakyStore struct {
	mu       sync.Mutex
	failures int
	uploads  int
	inner    *fakeStore
}

func (f *flakyStore) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inner.Download(ctx, key)
}

func (f *flakyStore) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	if f.uploads <= f.failures {
		return errors.New("upload refused")
	}
	return f.inner.Upload(ctx, key, r, size)
}

func (f *flakyStore) uploadCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploads
}

func (f *flakyStore) hasObject(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.inner.objects[key]
	return ok
}

func TestBackupLoopContinuesAfterFailure(t *testing.T) {
	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"state.txt": "v1"})

	store := &flakyStore{failures: 1, inner: newFakeStore()}
	key := Key("tenant-a")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		BackupLoop(ctx, zap.NewNop(), store, dir, key, 5*time.Millisecond)
	}()

	// The first tick fails; a later tick must still land the backup.
	require.Eventually(t, func() bool { return store.hasObject(key) }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done

	require.GreaterOrEqual(t, store.uploadCount(), 2)
}

func TestBackupOverwritesPrevious(t *testing.T) {
	store := newFakeStore()
	key := Key("tenant-a")

	src := t.TempDir()
	writeTree(t, src, map[string]string{"state.txt": "v1"})
	require.NoError(t, Backup(context.Background(), store, src, key))

	writeTree(t, src, map[string]string{"state.txt": "v2"})
	require.NoError(t, Backup(context.Background(), store, src, key))

	dst := t.TempDir()
	require.NoError(t, Hydrate(context.Background(), store, dst, key))
	require.Equal(t, "v2", readTree(t, dst)["state.txt"])
}
