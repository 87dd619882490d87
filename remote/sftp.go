package remote

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// SFTPDialer connects over TCP, authenticates with SSH and opens an SFTP channel.
type SFTPDialer struct{}

// Dial opens a new session. ctx and cfg.Timeout bound connection establishment only.
func (d SFTPDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(port))

	if cfg.HostKey == nil {
		Log.Warnf("No host key pinned for %s, accepting any server key", addr)
	}

	nd := net.Dialer{Timeout: cfg.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", addr)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(cfg.Timeout))
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, addr, clientConfig(cfg))
	if err != nil {
		conn.Close()
		return nil, errors.Wrapf(err, "ssh handshake with %s", addr)
	}
	sshClient := ssh.NewClient(c, chans, reqs)

	client, err := sftp.NewClient(sshClient)
	if err != nil {
		sshClient.Close()
		return nil, errors.Wrap(err, "open sftp channel")
	}
	_ = conn.SetDeadline(time.Time{})

	Log.Debugf("Connected to remote SFTP server %s as %s", addr, cfg.User)
	return newSession(client, sshClient), nil
}

// ErrConnectionLost is returned once a session was torn down under a running operation.
var ErrConnectionLost = errors.New("remote connection lost")

// IsConnectionLost reports whether err means the session can not be used any more.
func IsConnectionLost(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrConnectionLost),
		errors.Is(err, sftp.ErrSSHFxConnectionLost),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrClosedPipe),
		errors.Is(err, net.ErrClosed):
		return true
	}
	return false
}

type sftpSession struct {
	client    *sftp.Client
	transport io.Closer
	cwd       string
	closeOnce sync.Once
	closeErr  error
}

func newSession(client *sftp.Client, transport io.Closer) *sftpSession {
	return &sftpSession{client: client, transport: transport}
}

func (s *sftpSession) resolve(name string) string {
	if s.cwd == "" || path.IsAbs(name) {
		return name
	}
	return path.Join(s.cwd, name)
}

// SFTP has no server side working directory, relative names are joined with dir instead.
func (s *sftpSession) Chdir(dir string) error {
	target := s.resolve(dir)
	fi, err := s.client.Stat(target)
	if err != nil {
		return errors.Wrapf(err, "chdir %s", dir)
	}
	if !fi.IsDir() {
		return fmt.Errorf("chdir %s: not a directory", dir)
	}
	s.cwd = target
	Log.Debugf("Switched into remote directory %s", target)
	return nil
}

func (s *sftpSession) Create(name string) (io.WriteCloser, error) {
	f, err := s.client.OpenFile(s.resolve(name), os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, errors.Wrapf(err, "open remote file %s", name)
	}
	return f, nil
}

// Close may be called concurrently with a blocked Create or write.
// The transport goes first so in-flight requests fail instead of waiting on the server.
func (s *sftpSession) Close() error {
	s.closeOnce.Do(func() {
		if s.transport != nil {
			s.closeErr = s.transport.Close()
		}
		if err := s.client.Close(); s.closeErr == nil {
			s.closeErr = err
		}
	})
	return s.closeErr
}
