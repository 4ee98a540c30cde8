// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	// EnvCredentials holds a service-account key file path or inline JSON.
	EnvCredentials = "GOOGLE_APPLICATION_CREDENTIALS"

	uploadTimeout = 2 * time.Minute
	listTimeout   = 30 * time.Second
)

// ObjectStore is the subset of a bucket the publisher needs.
type ObjectStore interface {
	Put(ctx context.Context, key, contentType string, r io.Reader) error
	List(ctx context.Context, prefix string) ([]string, error)
}

// GCSStore writes objects to one Google Cloud Storage bucket.
//
// Thread Safety: Safe for concurrent use.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// ClientOptions builds client options from a credentials value. An empty
// value uses application default credentials; a value starting with "{" is
// inline JSON, anything else a key file path.
func ClientOptions(creds string) []option.ClientOption {
	creds = strings.TrimSpace(creds)
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	return opts
}

// NewGCSStore opens a client for bucket.
func NewGCSStore(ctx context.Context, bucket string, opts ...option.ClientOption) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("publish: bucket name is required")
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("publish: create storage client: %w", err)
	}
	return &GCSStore{client: client, bucket: bucket}, nil
}

// Put uploads r to key.
func (s *GCSStore) Put(ctx context.Context, key, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("publish: write gs://%s/%s: %w", s.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("publish: close gs://%s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// List returns object names under prefix.
func (s *GCSStore) List(ctx context.Context, prefix string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	var out []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("publish: list gs://%s/%s: %w", s.bucket, prefix, err)
		}
		out = append(out, attrs.Name)
	}
	return out, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
