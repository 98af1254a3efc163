// Package smb implements the RemoteStore contract over SMB2/3 shares.
package smb

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"

	"github.com/dateshift/dateshift/internal/store"
	dserrors "github.com/dateshift/dateshift/pkg/errors"
)

// Config identifies an SMB share and its credentials.
type Config struct {
	Host           string
	Port           int
	ShareName      string
	Username       string
	Password       string
	Domain         string
	ConnectTimeout time.Duration
}

// Client is one SMB session against a share. It is not safe for concurrent
// use; the connection pool guarantees single ownership per slot.
type Client struct {
	config  Config
	conn    net.Conn
	session *smb2.Session
	share   *smb2.Share
}

var _ store.RemoteStore = (*Client)(nil)

// NewClient returns an unconnected client.
func NewClient(config Config) *Client {
	if config.Port == 0 {
		config.Port = 445
	}
	if config.ConnectTimeout == 0 {
		config.ConnectTimeout = 30 * time.Second
	}
	return &Client{config: config}
}

// NewFactory returns a store.Factory producing unconnected clients for the
// connection pool.
func NewFactory(config Config) store.Factory {
	return func() store.RemoteStore {
		return NewClient(config)
	}
}

// Connect dials the server, authenticates, and mounts the share.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.config.Host, fmt.Sprintf("%d", c.config.Port))

	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeConnectFailed,
			fmt.Sprintf("dial %s failed", addr), err).WithComponent("smb")
	}

	d := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.config.Username,
			Password: c.config.Password,
			Domain:   c.config.Domain,
		},
	}

	session, err := d.DialContext(ctx, conn)
	if err != nil {
		_ = conn.Close()
		return dserrors.Wrap(dserrors.ErrCodeConnectFailed,
			fmt.Sprintf("authentication to %s failed", addr), err).WithComponent("smb")
	}

	share, err := session.Mount(c.config.ShareName)
	if err != nil {
		_ = session.Logoff()
		_ = conn.Close()
		return dserrors.Wrap(dserrors.ErrCodeConnectFailed,
			fmt.Sprintf("mount of share %q failed", c.config.ShareName), err).WithComponent("smb")
	}

	c.conn = conn
	c.session = session
	c.share = share
	return nil
}

// List returns descriptors for the files in dir matching pattern.
func (c *Client) List(ctx context.Context, dir, pattern string) ([]store.FileDescriptor, error) {
	if err := c.connected(); err != nil {
		return nil, err
	}
	infos, err := c.share.ReadDir(toSharePath(dir))
	if err != nil {
		return nil, dserrors.Classify(err).WithComponent("smb").WithOperation("list")
	}

	var files []store.FileDescriptor
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		if !matchPattern(pattern, fi.Name()) {
			continue
		}
		fd := store.FileDescriptor{
			Name:     fi.Name(),
			Path:     joinRemote(dir, fi.Name()),
			Size:     fi.Size(),
			Modified: fi.ModTime(),
		}
		if st, ok := fi.Sys().(*smb2.FileStat); ok {
			fd.Created = st.CreationTime
		}
		files = append(files, fd)
	}
	return files, nil
}

// Download copies the remote object's bytes into the local file at localPath.
func (c *Client) Download(ctx context.Context, remotePath, localPath string) error {
	if err := c.connected(); err != nil {
		return err
	}
	src, err := c.share.Open(toSharePath(remotePath))
	if err != nil {
		return dserrors.Classify(err).WithComponent("smb").WithOperation("download")
	}
	defer src.Close()

	dst, err := os.Create(localPath)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			fmt.Sprintf("create of %s failed", localPath), err).WithComponent("smb")
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return dserrors.Wrap(dserrors.ErrCodeNetworkError,
			fmt.Sprintf("read of %s failed", remotePath), err).WithComponent("smb")
	}
	return nil
}

// Upload writes the local file at localPath to remotePath, overwriting any
// existing object.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) error {
	if err := c.connected(); err != nil {
		return err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return dserrors.Wrap(dserrors.ErrCodeLocalFileOperation,
			fmt.Sprintf("open of %s failed", localPath), err).WithComponent("smb")
	}
	defer src.Close()

	dst, err := c.share.Create(toSharePath(remotePath))
	if err != nil {
		return dserrors.Classify(err).WithComponent("smb").WithOperation("upload")
	}

	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return dserrors.Wrap(dserrors.ErrCodeNetworkError,
			fmt.Sprintf("write of %s failed", remotePath), err).WithComponent("smb")
	}
	return dst.Close()
}

// Delete removes the remote object.
func (c *Client) Delete(ctx context.Context, remotePath string) error {
	if err := c.connected(); err != nil {
		return err
	}
	if err := c.share.Remove(toSharePath(remotePath)); err != nil {
		return dserrors.Classify(err).WithComponent("smb").WithOperation("delete")
	}
	return nil
}

// Exists reports whether the remote object exists.
func (c *Client) Exists(ctx context.Context, remotePath string) (bool, error) {
	if err := c.connected(); err != nil {
		return false, err
	}
	_, err := c.share.Stat(toSharePath(remotePath))
	if err == nil {
		return true, nil
	}
	classified := dserrors.Classify(err)
	if classified.Code == dserrors.ErrCodeObjectNotFound {
		return false, nil
	}
	return false, classified.WithComponent("smb").WithOperation("exists")
}

// Ping stats the share root as a liveness probe. A single QUERY_INFO round
// trip is the cheapest request that exercises the full session.
func (c *Client) Ping(ctx context.Context) error {
	if c.share == nil {
		return dserrors.New(dserrors.ErrCodeConnectFailed, "not connected").WithComponent("smb")
	}
	if _, err := c.share.Stat("."); err != nil {
		return dserrors.Wrap(dserrors.ErrCodeNetworkError, "share probe failed", err).WithComponent("smb")
	}
	return nil
}

// Close tears the session down. Errors from an already-dead session are
// ignored; the pool calls Close on connections it is about to retire.
func (c *Client) Close() error {
	var firstErr error
	if c.share != nil {
		if err := c.share.Umount(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.share = nil
	}
	if c.session != nil {
		if err := c.session.Logoff(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.session = nil
	}
	if c.conn != nil {
		if err := c.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		c.conn = nil
	}
	return firstErr
}

func (c *Client) connected() error {
	if c.share == nil {
		return dserrors.New(dserrors.ErrCodeConnectFailed, "not connected").WithComponent("smb")
	}
	return nil
}

// toSharePath converts a slash-separated remote path into the
// backslash-separated, relative form the share expects.
func toSharePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	return strings.ReplaceAll(p, "/", `\`)
}

func joinRemote(dir, name string) string {
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return "/" + name
	}
	if !strings.HasPrefix(dir, "/") {
		dir = "/" + dir
	}
	return dir + "/" + name
}

func matchPattern(pattern, name string) bool {
	if pattern == "" || pattern == "*" {
		return true
	}
	ok, err := path.Match(strings.ToLower(pattern), strings.ToLower(name))
	return err == nil && ok
}
