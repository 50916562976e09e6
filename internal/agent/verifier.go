package agent

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orrn/printdispatch/internal/model"
)

var (
	ErrUntrustedCertificate = errors.New("certificate is not trusted")
	ErrInvalidCertificate   = errors.New("invalid certificate")
	ErrBadSignature         = errors.New("bad request signature")
	ErrReplayedRequest      = errors.New("request id already used")
)

// Verifier checks client certificates against a trust list. With an empty
// list any well-formed, currently valid certificate is accepted.
type Verifier struct {
	trusted map[[32]byte]bool
	now     func() time.Time
}

func NewVerifier(trustedPaths []string) (*Verifier, error) {
	v := &Verifier{trusted: make(map[[32]byte]bool), now: time.Now}
	for _, path := range trustedPaths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read trusted certificate: %w", err)
		}
		if err := v.Trust(string(data)); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return v, nil
}

// Trust adds every certificate in certPEM to the trust list.
func (v *Verifier) Trust(certPEM string) error {
	rest := []byte(certPEM)
	added := 0
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		if _, err := x509.ParseCertificate(block.Bytes); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
		}
		v.trusted[sha256.Sum256(block.Bytes)] = true
		added++
	}
	if added == 0 {
		return fmt.Errorf("%w: no certificate found", ErrInvalidCertificate)
	}
	return nil
}

// Authenticate validates the certificate a client presents and returns the
// key its requests must be signed with.
func (v *Verifier) Authenticate(certPEM, algorithm string) (crypto.PublicKey, error) {
	block, _ := pem.Decode([]byte(certPEM))
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("%w: no PEM certificate", ErrInvalidCertificate)
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	now := v.now()
	if now.Before(cert.NotBefore) || now.After(cert.NotAfter) {
		return nil, fmt.Errorf("%w: outside validity period", ErrInvalidCertificate)
	}
	if len(v.trusted) > 0 && !v.trusted[sha256.Sum256(block.Bytes)] {
		return nil, ErrUntrustedCertificate
	}

	switch key := cert.PublicKey.(type) {
	case ed25519.PublicKey:
		if algorithm != model.AlgorithmEdDSA {
			return nil, fmt.Errorf("%w: ed25519 key requires %s", ErrInvalidCertificate, model.AlgorithmEdDSA)
		}
		return key, nil
	case *ecdsa.PublicKey:
		if key.Curve != elliptic.P256() || algorithm != model.AlgorithmES256 {
			return nil, fmt.Errorf("%w: ecdsa key requires P-256 and %s", ErrInvalidCertificate, model.AlgorithmES256)
		}
		return key, nil
	default:
		return nil, fmt.Errorf("%w: unsupported key type %T", ErrInvalidCertificate, cert.PublicKey)
	}
}

// verifyRequest checks that m carries a signature by key over this session's
// nonce, the request id and the request digest.
func verifyRequest(key crypto.PublicKey, algorithm, nonce string, m *model.Message) error {
	if m.ID == "" || m.Signature == "" {
		return fmt.Errorf("%w: missing id or signature", ErrBadSignature)
	}
	claims := &model.RequestClaims{}
	_, err := jwt.ParseWithClaims(m.Signature, claims, func(*jwt.Token) (any, error) {
		return key, nil
	}, jwt.WithValidMethods([]string{algorithm}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if claims.Nonce != nonce {
		return fmt.Errorf("%w: nonce mismatch", ErrBadSignature)
	}
	if claims.ID != m.ID {
		return fmt.Errorf("%w: id mismatch", ErrBadSignature)
	}
	if claims.Digest != m.Digest() {
		return fmt.Errorf("%w: digest mismatch", ErrBadSignature)
	}
	return nil
}
