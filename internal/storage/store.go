// Package storage provides the object store backing the message archive.
package storage

import (
	"context"
	"errors"
)

// ErrKeyExists is returned by Put when the key is already present. Archive
// files are write-once; a collision is a per-group failure for the caller.
var ErrKeyExists = errors.New("storage: key already exists")

// ErrNotFound is returned by Get for missing keys.
var ErrNotFound = errors.New("storage: key not found")

// ObjectStore is the durable store for archive files. Put has no-overwrite
// semantics, and List returns keys in lexical order so archive filenames
// read back chronologically.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
}
