package attest

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
)

const (
	privateKeyFile = "attest_ed25519.pem"
	publicKeyFile  = "attest_ed25519.pub.pem"
)

// KeyPair is the service signing key. The private half never leaves the
// package.
type KeyPair struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateKeyPair creates a fresh Ed25519 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// PublicKey returns the raw 32-byte public key.
func (k *KeyPair) PublicKey() ed25519.PublicKey { return k.pub }

// PublicKeyBase64 returns the public key as base64 X.509 SPKI DER, the
// form carried in bundles.
func (k *KeyPair) PublicKeyBase64() string {
	der, err := x509.MarshalPKIXPublicKey(k.pub)
	if err != nil {
		// ed25519 public keys always marshal
		panic(err)
	}
	return base64.StdEncoding.EncodeToString(der)
}

func (k *KeyPair) sign(msg []byte) []byte {
	return ed25519.Sign(k.priv, msg)
}

// KeyConfig names where the signing key comes from. Base64 material wins
// over Dir; with neither, an ephemeral key is generated.
type KeyConfig struct {
	PrivateKeyB64 string
	PublicKeyB64  string
	Dir           string
}

// LoadKeys resolves cfg to a key pair.
func LoadKeys(cfg KeyConfig, logger *slog.Logger) (*KeyPair, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch {
	case cfg.PrivateKeyB64 != "" || cfg.PublicKeyB64 != "":
		kp, err := LoadKeyPairFromBase64(cfg.PrivateKeyB64, cfg.PublicKeyB64)
		if err != nil {
			return nil, err
		}
		logger.Info("loaded attestation key from configuration")
		return kp, nil
	case cfg.Dir != "":
		kp, created, err := LoadOrGenerateKeyPair(cfg.Dir)
		if err != nil {
			return nil, err
		}
		if created {
			logger.Info("generated attestation key", "dir", cfg.Dir)
		} else {
			logger.Info("loaded attestation key", "dir", cfg.Dir)
		}
		return kp, nil
	default:
		logger.Warn("no attestation key configured, using an ephemeral key; bundles will not verify after restart")
		return GenerateKeyPair()
	}
}

// LoadKeyPairFromBase64 decodes a base64 PKCS#8 private key and a base64
// SPKI public key, and checks that they belong together. An empty public
// key is derived from the private key.
func LoadKeyPairFromBase64(privB64, pubB64 string) (*KeyPair, error) {
	if privB64 == "" {
		return nil, errors.New("attestation private key is required when a public key is configured")
	}
	der, err := base64.StdEncoding.DecodeString(privB64)
	if err != nil {
		return nil, fmt.Errorf("decode attestation private key: %w", err)
	}
	priv, err := parsePrivateKey(der)
	if err != nil {
		return nil, err
	}
	kp := &KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}
	if pubB64 == "" {
		return kp, nil
	}
	pub, err := DecodePublicKey(pubB64)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(pub, kp.pub) {
		return nil, errors.New("attestation public key does not match the private key")
	}
	return kp, nil
}

// LoadOrGenerateKeyPair reads the PEM key pair from dir, creating it on
// first use. created reports whether a new pair was written.
func LoadOrGenerateKeyPair(dir string) (kp *KeyPair, created bool, err error) {
	privPath := filepath.Join(dir, privateKeyFile)
	data, err := os.ReadFile(privPath)
	switch {
	case err == nil:
		block, _ := pem.Decode(data)
		if block == nil {
			return nil, false, fmt.Errorf("%s: no PEM block", privPath)
		}
		priv, err := parsePrivateKey(block.Bytes)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", privPath, err)
		}
		return &KeyPair{priv: priv, pub: priv.Public().(ed25519.PublicKey)}, false, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, false, fmt.Errorf("read %s: %w", privPath, err)
	}

	kp, err = GenerateKeyPair()
	if err != nil {
		return nil, false, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, false, fmt.Errorf("create key dir %s: %w", dir, err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(kp.priv)
	if err != nil {
		return nil, false, fmt.Errorf("marshal private key: %w", err)
	}
	pubDER, err := x509.MarshalPKIXPublicKey(kp.pub)
	if err != nil {
		return nil, false, fmt.Errorf("marshal public key: %w", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})
	if err := os.WriteFile(privPath, privPEM, 0o600); err != nil {
		return nil, false, fmt.Errorf("write %s: %w", privPath, err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})
	pubPath := filepath.Join(dir, publicKeyFile)
	if err := os.WriteFile(pubPath, pubPEM, 0o644); err != nil {
		return nil, false, fmt.Errorf("write %s: %w", pubPath, err)
	}
	return kp, true, nil
}

func parsePrivateKey(der []byte) (ed25519.PrivateKey, error) {
	key, err := x509.ParsePKCS8PrivateKey(der)
	if err != nil {
		return nil, fmt.Errorf("parse PKCS#8 private key: %w", err)
	}
	priv, ok := key.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is %T, not ed25519", key)
	}
	return priv, nil
}

// DecodePublicKey accepts base64 SPKI DER or a base64 raw 32-byte key.
func DecodePublicKey(b64 string) (ed25519.PublicKey, error) {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, &CryptoError{Reason: "public key is not valid base64", Err: err}
	}
	if len(raw) == ed25519.PublicKeySize {
		return ed25519.PublicKey(raw), nil
	}
	key, err := x509.ParsePKIXPublicKey(raw)
	if err != nil {
		return nil, &CryptoError{Reason: "public key is not an X.509 SubjectPublicKeyInfo", Err: err}
	}
	pub, ok := key.(ed25519.PublicKey)
	if !ok {
		return nil, &CryptoError{Reason: fmt.Sprintf("public key is %T, not ed25519", key)}
	}
	return pub, nil
}
