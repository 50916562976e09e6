package printer

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orrn/printdispatch/internal/model"
)

// CertificateFunc returns the PEM certificate presented to the agent. It is
// called on every connect.
type CertificateFunc func(ctx context.Context) (string, error)

// SignFunc signs the claims of one request and returns a compact JWS.
type SignFunc func(ctx context.Context, claims *model.RequestClaims) (string, error)

type Handshake struct {
	Certificate CertificateFunc
	Sign        SignFunc
	Algorithm   string
}

func (h Handshake) validate() error {
	if h.Certificate == nil || h.Sign == nil {
		return errors.New("handshake needs a certificate and a signer")
	}
	if h.Algorithm == "" {
		return errors.New("handshake algorithm is required")
	}
	return nil
}

// NewJWTSigner signs with an Ed25519 (EdDSA) or P-256 (ES256) key.
func NewJWTSigner(key crypto.Signer) (SignFunc, string, error) {
	var method jwt.SigningMethod
	var alg string
	switch k := key.(type) {
	case ed25519.PrivateKey:
		method, alg = jwt.SigningMethodEdDSA, model.AlgorithmEdDSA
	case *ecdsa.PrivateKey:
		if k.Curve.Params().BitSize != 256 {
			return nil, "", fmt.Errorf("unsupported ecdsa curve %s", k.Curve.Params().Name)
		}
		method, alg = jwt.SigningMethodES256, model.AlgorithmES256
	default:
		return nil, "", fmt.Errorf("unsupported key type %T", key)
	}

	sign := func(_ context.Context, claims *model.RequestClaims) (string, error) {
		if claims.IssuedAt == nil {
			claims.IssuedAt = jwt.NewNumericDate(time.Now())
		}
		token, err := jwt.NewWithClaims(method, claims).SignedString(key)
		if err != nil {
			return "", fmt.Errorf("failed to sign request: %w", err)
		}
		return token, nil
	}
	return sign, alg, nil
}

// StaticCertificate serves a certificate held in memory.
func StaticCertificate(certPEM string) CertificateFunc {
	return func(context.Context) (string, error) { return certPEM, nil }
}

// FileCertificate reads the certificate from disk at connect time, so a
// rotated certificate is picked up on the next connection.
func FileCertificate(path string) CertificateFunc {
	return func(context.Context) (string, error) {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read certificate: %w", err)
		}
		return string(data), nil
	}
}

// LoadHandshake builds a handshake from a PEM certificate and a PEM private
// key (PKCS#8, or SEC 1 for ECDSA).
func LoadHandshake(certPath, keyPath string) (Handshake, error) {
	data, err := os.ReadFile(keyPath)
	if err != nil {
		return Handshake{}, fmt.Errorf("failed to read private key: %w", err)
	}
	key, err := ParsePrivateKey(data)
	if err != nil {
		return Handshake{}, err
	}
	sign, alg, err := NewJWTSigner(key)
	if err != nil {
		return Handshake{}, err
	}
	return Handshake{Certificate: FileCertificate(certPath), Sign: sign, Algorithm: alg}, nil
}

func ParsePrivateKey(data []byte) (crypto.Signer, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("no PEM block in private key")
	}
	if block.Type == "EC PRIVATE KEY" {
		return x509.ParseECPrivateKey(block.Bytes)
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	signer, ok := key.(crypto.Signer)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", key)
	}
	return signer, nil
}
