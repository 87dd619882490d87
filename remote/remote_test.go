package remote

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

func rsaPEM(t *testing.T) ([]byte, *rsa.PrivateKey) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	return pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}), key
}

func TestParseRSAKey(t *testing.T) {
	pemBytes, key := rsaPEM(t)

	signer, err := ParseRSAKey(pemBytes)
	if err != nil {
		t.Fatal(err)
	}
	pub, err := ssh.NewPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(signer.PublicKey().Marshal(), pub.Marshal()) {
		t.Error("signer does not match key")
	}
}

func TestParseRSAKeyRejects(t *testing.T) {
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	der, err := x509.MarshalECPrivateKey(ecKey)
	if err != nil {
		t.Fatal(err)
	}
	ecPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der})

	cases := map[string][]byte{
		"ecdsa":   ecPEM,
		"garbage": []byte("not a key"),
		"binary":  {0xff, 0xfe, 0xfd},
	}
	for name, in := range cases {
		if _, err := ParseRSAKey(in); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestParseHostKey(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		t.Fatal(err)
	}

	got, err := ParseHostKey(string(ssh.MarshalAuthorizedKey(sshPub)))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got.Marshal(), sshPub.Marshal()) {
		t.Error("host key mismatch")
	}

	if _, err := ParseHostKey("ssh-rsa nope"); err == nil {
		t.Error("expected error")
	}
}

type pipeRWC struct {
	io.Reader
	io.WriteCloser
}

// newPipeSession returns a session backed by an in-memory SFTP server.
func newPipeSession(t *testing.T) (*sftpSession, *sftp.Client) {
	t.Helper()
	cr, sw := io.Pipe()
	sr, cw := io.Pipe()

	server := sftp.NewRequestServer(pipeRWC{sr, sw}, sftp.InMemHandler())
	go server.Serve()

	client, err := sftp.NewClientPipe(cr, cw)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return newSession(client, nil), client
}

func readRemote(t *testing.T, client *sftp.Client, name string) string {
	t.Helper()
	f, err := client.Open(name)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

func TestSessionChdirAndCreate(t *testing.T) {
	s, client := newPipeSession(t)

	if err := client.Mkdir("/upload"); err != nil {
		t.Fatal(err)
	}
	if err := s.Chdir("/upload"); err != nil {
		t.Fatal(err)
	}

	w, err := s.Create("data_2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(w, bytes.NewBufferString("a,b\n1,2\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	if got := readRemote(t, client, "/upload/data_2024-01-01"); got != "a,b\n1,2\n" {
		t.Errorf("got remote content %q", got)
	}

	// truncates on rewrite
	w, err = s.Create("/upload/data_2024-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err != nil {
		t.Fatal(err)
	}
	w.Close()
	if got := readRemote(t, client, "/upload/data_2024-01-01"); got != "x" {
		t.Errorf("got remote content %q after rewrite", got)
	}
}

func TestSessionClosedIsConnectionLost(t *testing.T) {
	sess, _ := newPipeSession(t)

	if err := sess.Close(); err != nil && !IsConnectionLost(err) {
		t.Fatalf("close: %s", err)
	}
	if err := sess.Close(); err != nil && !IsConnectionLost(err) {
		t.Fatalf("second close: %s", err)
	}

	_, err := sess.Create("after-close.txt")
	if err == nil {
		t.Fatal("create on a closed session must fail")
	}
	if !IsConnectionLost(err) {
		t.Errorf("create on a closed session: %v is not a connection lost error", err)
	}
}

func TestIsConnectionLost(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{io.EOF, true},
		{sftp.ErrSSHFxConnectionLost, true},
		{fmt.Errorf("write: %w", ErrConnectionLost), true},
		{fmt.Errorf("dial: %w", net.ErrClosed), true},
		{os.ErrPermission, false},
		{errors.New("no space left on device"), false},
	}
	for _, tc := range cases {
		if got := IsConnectionLost(tc.err); got != tc.want {
			t.Errorf("IsConnectionLost(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestSessionChdirFails(t *testing.T) {
	s, client := newPipeSession(t)

	if err := s.Chdir("/missing"); err == nil {
		t.Error("expected error for missing dir")
	}

	f, err := client.Create("/plain")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	if err := s.Chdir("/plain"); err == nil {
		t.Error("expected error for non directory")
	}
}

// serveSFTP runs a single connection SSH server exposing the sftp subsystem from memory.
func serveSFTP(t *testing.T, password string) (string, ssh.PublicKey) {
	t.Helper()
	_, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	hostSigner, err := ssh.NewSignerFromKey(hostPriv)
	if err != nil {
		t.Fatal(err)
	}

	config := &ssh.ServerConfig{
		PasswordCallback: func(c ssh.ConnMetadata, pass []byte) (*ssh.Permissions, error) {
			if c.User() == "relay" && string(pass) == password {
				return nil, nil
			}
			return nil, io.EOF
		},
	}
	config.AddHostKey(hostSigner)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })

	go func() {
		nConn, err := l.Accept()
		if err != nil {
			return
		}
		_, chans, reqs, err := ssh.NewServerConn(nConn, config)
		if err != nil {
			nConn.Close()
			return
		}
		go ssh.DiscardRequests(reqs)

		for newChannel := range chans {
			if newChannel.ChannelType() != "session" {
				newChannel.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			channel, requests, err := newChannel.Accept()
			if err != nil {
				return
			}
			go func(in <-chan *ssh.Request) {
				for req := range in {
					ok := req.Type == "subsystem" && len(req.Payload) > 4 && string(req.Payload[4:]) == "sftp"
					req.Reply(ok, nil)
				}
			}(requests)

			server := sftp.NewRequestServer(channel, sftp.InMemHandler())
			go func() {
				server.Serve()
				server.Close()
			}()
		}
	}()

	return l.Addr().String(), hostSigner.PublicKey()
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatal(err)
	}
	port, err := net.LookupPort("tcp", portStr)
	if err != nil {
		t.Fatal(err)
	}
	return host, port
}

func TestSFTPDialerPassword(t *testing.T) {
	addr, hostKey := serveSFTP(t, "secret")
	host, port := splitAddr(t, addr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sess, err := SFTPDialer{}.Dial(ctx, Config{
		Host:     host,
		Port:     port,
		User:     "relay",
		Password: "secret",
		HostKey:  hostKey,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	w, err := sess.Create("/data")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestSFTPDialerWrongPassword(t *testing.T) {
	addr, _ := serveSFTP(t, "secret")
	host, port := splitAddr(t, addr)

	_, err := SFTPDialer{}.Dial(context.Background(), Config{
		Host:     host,
		Port:     port,
		User:     "relay",
		Password: "wrong",
		Timeout:  5 * time.Second,
	})
	if err == nil {
		t.Fatal("expected auth failure")
	}
}

func TestSFTPDialerRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	host, port := splitAddr(t, l.Addr().String())
	l.Close()

	_, err = SFTPDialer{}.Dial(context.Background(), Config{Host: host, Port: port, User: "relay", Password: "x", Timeout: time.Second})
	if err == nil {
		t.Fatal("expected dial failure")
	}
}
