package app

import (
	"crypto/rsa"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"sigchat/internal/cryptographic/signature"
)

type credentials struct {
	privateKey *rsa.PrivateKey
	deviceID   string
}

// loadOrCreateCredentials keeps one RSA keypair per username plus a
// stable device id under dir, generating both on first run.
func loadOrCreateCredentials(dir, username string) (*credentials, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, errors.Wrap(err, "resolve home dir")
		}
		dir = filepath.Join(home, ".sigchat")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrap(err, "create key dir")
	}

	priv, err := loadOrCreateKey(filepath.Join(dir, "key_"+username+".pem"))
	if err != nil {
		return nil, err
	}

	deviceID, err := loadOrCreateDeviceID(filepath.Join(dir, "device_id"))
	if err != nil {
		return nil, err
	}

	return &credentials{privateKey: priv, deviceID: deviceID}, nil
}

func loadOrCreateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		priv, err := signature.ParsePrivateKeyPEM(string(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", path)
		}
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, "read key file")
	}

	priv, err := signature.GenerateKeyPair()
	if err != nil {
		return nil, errors.Wrap(err, "generate keypair")
	}
	pem, err := signature.MarshalPrivateKeyPEM(priv)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(pem), 0o600); err != nil {
		return nil, errors.Wrap(err, "write key file")
	}
	return priv, nil
}

func loadOrCreateDeviceID(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err == nil {
		return strings.TrimSpace(string(raw)), nil
	}
	if !os.IsNotExist(err) {
		return "", errors.Wrap(err, "read device id")
	}

	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", errors.Wrap(err, "write device id")
	}
	return id, nil
}
