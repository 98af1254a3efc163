// Package store defines the remote file share contract consumed by the
// connection pool and the mutation workflow.
package store

import (
	"context"
	"time"
)

// FileDescriptor is a read-only snapshot of a remote file returned by
// listing operations. It is never mutated; callers re-fetch on every listing.
type FileDescriptor struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified"`
	Created  time.Time `json:"created"`
}

// RemoteStore is a single session against the remote file share. One
// RemoteStore is owned by one connection-pool slot at a time; implementations
// are not required to be safe for concurrent use.
type RemoteStore interface {
	// Connect establishes and authenticates the session.
	Connect(ctx context.Context) error

	// List returns descriptors for the files in dir, non-recursively.
	// Directories are skipped. pattern is a shell-style filename pattern
	// ("*" matches everything, "*.pdf" matches by suffix).
	List(ctx context.Context, dir, pattern string) ([]FileDescriptor, error)

	// Download copies the remote object's bytes into the local file at
	// localPath, creating or truncating it.
	Download(ctx context.Context, remotePath, localPath string) error

	// Upload writes the local file at localPath to remotePath, overwriting
	// any existing object. Servers that honor it carry the local file's
	// modification time onto the stored object; that behavior is
	// server-dependent and not guaranteed.
	Upload(ctx context.Context, localPath, remotePath string) error

	// Delete removes the remote object.
	Delete(ctx context.Context, remotePath string) error

	// Exists reports whether the remote object exists.
	Exists(ctx context.Context, remotePath string) (bool, error)

	// Ping is a lightweight liveness probe.
	Ping(ctx context.Context) error

	// Close tears the session down. Safe to call on a dead session.
	Close() error
}

// Factory creates an unconnected RemoteStore session. The connection pool
// calls it whenever a slot needs a fresh session.
type Factory func() RemoteStore
