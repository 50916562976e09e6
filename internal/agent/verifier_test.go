package agent

import (
	"crypto/ecdsa"
	"crypto/ed25519"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/orrn/printdispatch/internal/model"
	"github.com/orrn/printdispatch/internal/testutil"
)

func sign(t *testing.T, key ed25519.PrivateKey, nonce string, m *model.Message) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodEdDSA, model.NewRequestClaims(nonce, m)).SignedString(key)
	testutil.AssertNotError(t, err)
	return token
}

func TestAuthenticateTrustList(t *testing.T) {
	trusted := testutil.NewIdentity(t, "pos-1")
	stranger := testutil.NewIdentity(t, "pos-2")

	path := filepath.Join(t.TempDir(), "trusted.pem")
	testutil.AssertNotError(t, os.WriteFile(path, []byte(trusted.CertPEM), 0644))
	v, err := NewVerifier([]string{path})
	testutil.AssertNotError(t, err)

	key, err := v.Authenticate(trusted.CertPEM, model.AlgorithmEdDSA)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, key, trusted.Key.Public())

	if _, err := v.Authenticate(stranger.CertPEM, model.AlgorithmEdDSA); !errors.Is(err, ErrUntrustedCertificate) {
		t.Fatalf("expected ErrUntrustedCertificate, got %v", err)
	}
}

func TestAuthenticateOpenTrust(t *testing.T) {
	id := testutil.NewIdentity(t, "pos-1")
	v, err := NewVerifier(nil)
	testutil.AssertNotError(t, err)

	_, err = v.Authenticate(id.CertPEM, model.AlgorithmEdDSA)
	testutil.AssertNotError(t, err)

	tests := []struct {
		name string
		cert string
		alg  string
	}{
		{"wrong algorithm", id.CertPEM, model.AlgorithmES256},
		{"not pem", "hello", model.AlgorithmEdDSA},
		{"key instead of cert", string(id.KeyPEM), model.AlgorithmEdDSA},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := v.Authenticate(tt.cert, tt.alg); !errors.Is(err, ErrInvalidCertificate) {
				t.Fatalf("expected ErrInvalidCertificate, got %v", err)
			}
		})
	}

	v.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	if _, err := v.Authenticate(id.CertPEM, model.AlgorithmEdDSA); !errors.Is(err, ErrInvalidCertificate) {
		t.Fatalf("expired certificate accepted: %v", err)
	}
}

func TestAuthenticateECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	testutil.AssertNotError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "pos-ec"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	testutil.AssertNotError(t, err)
	certPEM := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))

	v, _ := NewVerifier(nil)
	_, err = v.Authenticate(certPEM, model.AlgorithmES256)
	testutil.AssertNotError(t, err)
	testutil.AssertError(t, func() error { _, err := v.Authenticate(certPEM, model.AlgorithmEdDSA); return err }())
}

func TestTrustRejectsEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.pem")
	testutil.AssertNotError(t, os.WriteFile(path, nil, 0644))
	_, err := NewVerifier([]string{path})
	testutil.AssertError(t, err)
}

func TestVerifyRequest(t *testing.T) {
	id := testutil.NewIdentity(t, "pos-1")
	other := testutil.NewIdentity(t, "pos-2")
	pub := id.Key.Public()

	valid := func() *model.Message {
		m := &model.Message{Type: model.MessageTypePrint, ID: "r1", Printer: "kitchen", Image: "aGk=", Width: 384, Margin: 8}
		m.Signature = sign(t, id.Key, "n1", m)
		return m
	}
	testutil.AssertNotError(t, verifyRequest(pub, model.AlgorithmEdDSA, "n1", valid()))

	tests := []struct {
		name   string
		nonce  string
		mutate func(*model.Message)
	}{
		{"other session", "n2", func(*model.Message) {}},
		{"tampered printer", "n1", func(m *model.Message) { m.Printer = "bar" }},
		{"tampered image", "n1", func(m *model.Message) { m.Image = "Ynll" }},
		{"tampered id", "n1", func(m *model.Message) { m.ID = "r2" }},
		{"other key", "n1", func(m *model.Message) { m.Signature = sign(t, other.Key, "n1", m) }},
		{"unsigned", "n1", func(m *model.Message) { m.Signature = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := valid()
			tt.mutate(m)
			if err := verifyRequest(pub, model.AlgorithmEdDSA, tt.nonce, m); !errors.Is(err, ErrBadSignature) {
				t.Fatalf("expected ErrBadSignature, got %v", err)
			}
		})
	}
}
