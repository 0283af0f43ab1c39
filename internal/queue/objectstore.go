// Pricepipe - Retail Price Extract Ingestion Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/pricepipe

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// DefaultBucket is the object store bucket for overflow item batches.
const DefaultBucket = "pricepipe-items"

// ObjectStore holds item batches that are pointed to rather than inlined.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Bucket() string
}

// NATSObjectStore is an ObjectStore on a JetStream object store bucket.
type NATSObjectStore struct {
	bucket string
	obs    jetstream.ObjectStore
}

// NewNATSObjectStore creates the bucket if needed.
func NewNATSObjectStore(ctx context.Context, js jetstream.JetStream, bucket string) (*NATSObjectStore, error) {
	if bucket == "" {
		bucket = DefaultBucket
	}
	obs, err := js.CreateOrUpdateObjectStore(ctx, jetstream.ObjectStoreConfig{
		Bucket:      bucket,
		Description: "pricepipe overflow item batches",
		Storage:     jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create object store %s: %w", bucket, err)
	}
	return &NATSObjectStore{bucket: bucket, obs: obs}, nil
}

// Put implements ObjectStore.
func (s *NATSObjectStore) Put(ctx context.Context, key string, data []byte) error {
	if _, err := s.obs.PutBytes(ctx, key, data); err != nil {
		return fmt.Errorf("put object %s/%s: %w", s.bucket, key, err)
	}
	return nil
}

// Get implements ObjectStore. A missing key yields ErrObjectNotFound.
func (s *NATSObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.obs.GetBytes(ctx, key)
	if errors.Is(err, jetstream.ErrObjectNotFound) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, s.bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("get object %s/%s: %w", s.bucket, key, err)
	}
	return data, nil
}

// Bucket implements ObjectStore.
func (s *NATSObjectStore) Bucket() string {
	return s.bucket
}

// MemoryObjectStore is an in-process ObjectStore.
type MemoryObjectStore struct {
	mu      sync.RWMutex
	bucket  string
	objects map[string][]byte
}

// NewMemoryObjectStore creates an empty store.
func NewMemoryObjectStore(bucket string) *MemoryObjectStore {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return &MemoryObjectStore{bucket: bucket, objects: make(map[string][]byte)}
}

// Put implements ObjectStore.
func (s *MemoryObjectStore) Put(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), data...)
	return nil
}

// Get implements ObjectStore.
func (s *MemoryObjectStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, s.bucket, key)
	}
	return append([]byte(nil), data...), nil
}

// Bucket implements ObjectStore.
func (s *MemoryObjectStore) Bucket() string {
	return s.bucket
}
