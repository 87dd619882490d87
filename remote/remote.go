// Package remote opens authenticated SFTP sessions used as transfer destinations.
package remote

import (
	"context"
	"io"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/ssh"
)

// Log implement Logrus logger for debug logging.
var Log = logrus.New()

// DefaultPort is the standard SSH port.
const DefaultPort = 22

// Config describes how to reach and authenticate against an SFTP endpoint.
//
// Exactly one of Password and Signer is expected to be set.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Signer   ssh.Signer
	// HostKey pins the server key. Any key is accepted when nil.
	HostKey ssh.PublicKey
	// Timeout bounds TCP connect and SSH handshake. Zero means no limit.
	Timeout time.Duration
}

// Session is an open file transfer session.
type Session interface {
	// Chdir changes the directory relative names are resolved against.
	Chdir(dir string) error
	// Create opens name for writing, creating or truncating it.
	Create(name string) (io.WriteCloser, error)
	// Close tears the session down. It may be called more than once and from another
	// goroutine, pending writes then fail with a connection lost error.
	Close() error
}

// Dialer opens sessions.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}
