package signature

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"strings"
)

// SaltLength matches the hash output length, the same PSS parameters the
// client uses when signing.
const SaltLength = 32

var pssOpts = &rsa.PSSOptions{
	SaltLength: SaltLength,
	Hash:       crypto.SHA256,
}

// Hash computes the SHA-256 content digest of the canonical payload.
// The digest doubles as the stored body hash.
func Hash(payload []byte) []byte {
	sum := sha256.Sum256(payload)
	return sum[:]
}

// Sign signs a pre-computed 32-byte digest with RSA-PSS. The digest is
// signed directly; there is no second hashing pass on either side.
func Sign(priv *rsa.PrivateKey, digest []byte) ([]byte, error) {
	return rsa.SignPSS(rand.Reader, priv, crypto.SHA256, digest, pssOpts)
}

// Verify reports whether sig is a valid RSA-PSS signature over digest by
// the key in publicKeyPEM. Malformed key material or any verification
// error yields false, never a panic.
func Verify(publicKeyPEM string, digest, sig []byte) bool {
	pub, err := ParsePublicKeyPEM(publicKeyPEM)
	if err != nil {
		return false
	}
	return rsa.VerifyPSS(pub, crypto.SHA256, digest, sig, pssOpts) == nil
}

// NormalizePEM restores key material that went through storage with its
// line breaks escaped (literal backslash-n) and trims surrounding space.
func NormalizePEM(raw string) string {
	return strings.TrimSpace(strings.ReplaceAll(raw, `\n`, "\n"))
}

// ParsePublicKeyPEM parses an SPKI public key, normalizing escaped
// newlines first. Only RSA keys are accepted.
func ParsePublicKeyPEM(raw string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw)))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key material")
	}

	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse public key: %w", err)
	}

	pub, ok := parsed.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}
	return pub, nil
}

// GenerateKeyPair creates a 2048-bit RSA keypair for signing.
func GenerateKeyPair() (*rsa.PrivateKey, error) {
	return rsa.GenerateKey(rand.Reader, 2048)
}

// MarshalPublicKeyPEM encodes the public half as SPKI PEM, the format
// clients submit on registration and enrollment.
func MarshalPublicKeyPEM(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}

// MarshalPrivateKeyPEM encodes the private key as PKCS#8 PEM for client
// side storage on disk.
func MarshalPrivateKeyPEM(priv *rsa.PrivateKey) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return "", err
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}

// ParsePrivateKeyPEM reads a PKCS#8 RSA private key.
func ParsePrivateKeyPEM(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(NormalizePEM(raw)))
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key material")
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	priv, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA private key")
	}
	return priv, nil
}
