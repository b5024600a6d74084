// Copyright 2025 UMH Systems GmbH
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

// Package persistence stores opaque snapshots by key.
package persistence

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Load for keys that were never saved or were deleted.
	ErrNotFound = errors.New("key not found")
	// ErrClosed is returned by every method after Close.
	ErrClosed = errors.New("store is closed")
)

// Store is a key/value store for serialized component state.
type Store interface {
	Save(ctx context.Context, key string, value []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Close() error
}
