// Package storetest provides an in-memory RemoteStore for tests, with
// fault-injection hooks and per-operation counters.
package storetest

import (
	"context"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dateshift/dateshift/internal/store"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
)

type object struct {
	data     []byte
	modified time.Time
	created  time.Time
}

// Server is a shared in-memory file share. Sessions created by Factory all
// see the same objects, mirroring how pool slots share one remote server.
type Server struct {
	mu      sync.Mutex
	objects map[string]object

	// Fault hooks. A non-nil return aborts the operation with that error.
	// Hooks run under the server lock; keep them cheap.
	ConnectHook  func() error
	PingHook     func() error
	DownloadHook func(remotePath string) error
	UploadHook   func(remotePath string) error
	DeleteHook   func(remotePath string) error
	ListHook     func(dir string) error

	// Counters
	Connects  int
	Pings     int
	Downloads int
	Uploads   int
	Deletes   int
	Lists     int
	Closes    int
}

// NewServer returns an empty in-memory share.
func NewServer() *Server {
	return &Server{objects: make(map[string]object)}
}

// PutObject seeds a remote object directly, bypassing the session API.
func (s *Server) PutObject(remotePath string, data []byte, modified time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[normalize(remotePath)] = object{
		data:     append([]byte(nil), data...),
		modified: modified,
		created:  modified,
	}
}

// Object returns a remote object's bytes and modification time.
func (s *Server) Object(remotePath string) ([]byte, time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	obj, ok := s.objects[normalize(remotePath)]
	if !ok {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), obj.data...), obj.modified, true
}

// Factory returns a store.Factory producing sessions against this server.
func (s *Server) Factory() store.Factory {
	return func() store.RemoteStore {
		return &session{server: s}
	}
}

// NewSession returns a single connected session, for tests that bypass the pool.
func (s *Server) NewSession() store.RemoteStore {
	sess := &session{server: s}
	_ = sess.Connect(context.Background())
	return sess
}

type session struct {
	server    *Server
	connected bool
}

var _ store.RemoteStore = (*session)(nil)

func (c *session) Connect(ctx context.Context) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Connects++
	if c.server.ConnectHook != nil {
		if err := c.server.ConnectHook(); err != nil {
			return err
		}
	}
	c.connected = true
	return nil
}

func (c *session) List(ctx context.Context, dir, pattern string) ([]store.FileDescriptor, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Lists++
	if err := c.check(); err != nil {
		return nil, err
	}
	if c.server.ListHook != nil {
		if err := c.server.ListHook(dir); err != nil {
			return nil, err
		}
	}

	prefix := normalize(dir)
	if prefix != "/" {
		prefix += "/"
	}
	var files []store.FileDescriptor
	for p, obj := range c.server.objects {
		if !strings.HasPrefix(p, prefix) {
			continue
		}
		name := strings.TrimPrefix(p, prefix)
		if strings.Contains(name, "/") {
			continue
		}
		if pattern != "" && pattern != "*" {
			if ok, _ := path.Match(strings.ToLower(pattern), strings.ToLower(name)); !ok {
				continue
			}
		}
		files = append(files, store.FileDescriptor{
			Name:     name,
			Path:     p,
			Size:     int64(len(obj.data)),
			Modified: obj.modified,
			Created:  obj.created,
		})
	}
	return files, nil
}

func (c *session) Download(ctx context.Context, remotePath, localPath string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Downloads++
	if err := c.check(); err != nil {
		return err
	}
	if c.server.DownloadHook != nil {
		if err := c.server.DownloadHook(remotePath); err != nil {
			return err
		}
	}
	obj, ok := c.server.objects[normalize(remotePath)]
	if !ok {
		return dserrors.Newf(dserrors.ErrCodeObjectNotFound, "no such object: %s", remotePath)
	}
	return os.WriteFile(localPath, obj.data, 0600)
}

func (c *session) Upload(ctx context.Context, localPath, remotePath string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Uploads++
	if err := c.check(); err != nil {
		return err
	}
	if c.server.UploadHook != nil {
		if err := c.server.UploadHook(remotePath); err != nil {
			return err
		}
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation, "read of upload source failed", err)
	}
	// Model a server that preserves the uploaded file's modification time.
	fi, err := os.Stat(localPath)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation, "stat of upload source failed", err)
	}
	key := normalize(remotePath)
	created := fi.ModTime()
	if prev, ok := c.server.objects[key]; ok {
		created = prev.created
	}
	c.server.objects[key] = object{data: data, modified: fi.ModTime(), created: created}
	return nil
}

func (c *session) Delete(ctx context.Context, remotePath string) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Deletes++
	if err := c.check(); err != nil {
		return err
	}
	if c.server.DeleteHook != nil {
		if err := c.server.DeleteHook(remotePath); err != nil {
			return err
		}
	}
	key := normalize(remotePath)
	if _, ok := c.server.objects[key]; !ok {
		return dserrors.Newf(dserrors.ErrCodeObjectNotFound, "no such object: %s", remotePath)
	}
	delete(c.server.objects, key)
	return nil
}

func (c *session) Exists(ctx context.Context, remotePath string) (bool, error) {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	if err := c.check(); err != nil {
		return false, err
	}
	_, ok := c.server.objects[normalize(remotePath)]
	return ok, nil
}

func (c *session) Ping(ctx context.Context) error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Pings++
	if err := c.check(); err != nil {
		return err
	}
	if c.server.PingHook != nil {
		return c.server.PingHook()
	}
	return nil
}

func (c *session) Close() error {
	c.server.mu.Lock()
	defer c.server.mu.Unlock()
	c.server.Closes++
	c.connected = false
	return nil
}

func (c *session) check() error {
	if !c.connected {
		return dserrors.New(dserrors.ErrCodeConnectFailed, "session not connected")
	}
	return nil
}

func normalize(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimSuffix(p, "/")
}
