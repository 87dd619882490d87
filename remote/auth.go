package remote

import (
	"crypto/rsa"
	"fmt"
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// ParseRSAKey parses a PEM encoded RSA private key and returns a signer for it.
func ParseRSAKey(pemBytes []byte) (ssh.Signer, error) {
	if !utf8.Valid(pemBytes) {
		return nil, errors.New("private key is not valid UTF-8 text")
	}

	raw, err := ssh.ParseRawPrivateKey(pemBytes)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}

	key, ok := raw.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, RSA key expected", raw)
	}

	signer, err := ssh.NewSignerFromKey(key)
	if err != nil {
		return nil, errors.Wrap(err, "create signer")
	}
	return signer, nil
}

// ParseHostKey parses a host key in authorized_keys format, e.g. "ssh-ed25519 AAAA...".
func ParseHostKey(line string) (ssh.PublicKey, error) {
	key, _, _, _, err := ssh.ParseAuthorizedKey([]byte(line))
	if err != nil {
		return nil, errors.Wrap(err, "parse host key")
	}
	return key, nil
}

func clientConfig(cfg Config) *ssh.ClientConfig {
	var auth []ssh.AuthMethod
	if cfg.Signer != nil {
		auth = append(auth, ssh.PublicKeys(cfg.Signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.HostKey != nil {
		hostKeyCallback = ssh.FixedHostKey(cfg.HostKey)
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            auth,
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}
}
