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
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotExist reports that no backup object exists under the key. Callers
// must distinguish this (legitimate first run) from transport or
// credential failures, which are returned as-is.
var ErrNotExist = errors.New("backup object does not exist")

// Store reads and writes workspace archives in object storage.
type Store interface {
	// Download returns the object at key. ErrNotExist when the key is
	// absent.
	Download(ctx context.Context, key string) (io.ReadCloser, error)

	// Upload replaces the object at key with size bytes read from r.
	Upload(ctx context.Context, key string, r io.Reader, size int64) error
}

// S3Config locates and authenticates against the object-storage service.
// Credentials follow the AWS environment convention because they arrive
// via the platform secret's env injection.
type S3Config struct {
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

type s3Store struct {
	client *minio.Client
	bucket string
}

// NewS3Store builds a Store over an S3-compatible endpoint.
func NewS3Store(cfg S3Config) (Store, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object storage %q: %w", cfg.Endpoint, err)
	}
	return &s3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *s3Store) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	// GetObject is lazy; Stat forces the first request so a missing key
	// surfaces here rather than on first read.
	if _, err := obj.Stat(); err != nil {
		obj.Close()
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return nil, ErrNotExist
		}
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return obj, nil
}

func (s *s3Store) Upload(ctx context.Context, key string, r io.Reader, size int64) error {
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{
		ContentType: "application/gzip",
	})
	if err != nil {
		return fmt.Errorf("uploading %s: %w", key, err)
	}
	return nil
}
