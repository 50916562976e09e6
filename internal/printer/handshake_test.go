package printer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/grandcat/zeroconf"

	"github.com/orrn/printdispatch/internal/model"
	"github.com/orrn/printdispatch/internal/testutil"
)

func TestLoadHandshake(t *testing.T) {
	id := testutil.NewIdentity(t, "pos-1")
	dir := t.TempDir()
	certPath := filepath.Join(dir, "client.crt")
	keyPath := filepath.Join(dir, "client.key")
	testutil.AssertNotError(t, os.WriteFile(certPath, []byte(id.CertPEM), 0644))
	testutil.AssertNotError(t, os.WriteFile(keyPath, id.KeyPEM, 0600))

	hs, err := LoadHandshake(certPath, keyPath)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, hs.Algorithm, model.AlgorithmEdDSA)

	cert, err := hs.Certificate(context.Background())
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, cert, id.CertPEM)

	msg := &model.Message{Type: model.MessageTypePrint, ID: "req-1", Printer: "kitchen"}
	token, err := hs.Sign(context.Background(), model.NewRequestClaims("n1", msg))
	testutil.AssertNotError(t, err)

	claims := &model.RequestClaims{}
	_, err = jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return id.Key.Public(), nil
	})
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, claims.Nonce, "n1")
	testutil.AssertEquals(t, claims.ID, "req-1")
	testutil.AssertEquals(t, claims.Digest, msg.Digest())
}

func TestES256Signer(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	testutil.AssertNotError(t, err)
	der, err := x509.MarshalECPrivateKey(key)
	testutil.AssertNotError(t, err)

	parsed, err := ParsePrivateKey(pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}))
	testutil.AssertNotError(t, err)
	_, alg, err := NewJWTSigner(parsed)
	testutil.AssertNotError(t, err)
	testutil.AssertEquals(t, alg, model.AlgorithmES256)

	p384, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	testutil.AssertNotError(t, err)
	_, _, err = NewJWTSigner(p384)
	testutil.AssertError(t, err)
}

func TestParsePrivateKeyRejectsGarbage(t *testing.T) {
	_, err := ParsePrivateKey([]byte("not a key"))
	testutil.AssertError(t, err)
}

func TestHandshakeValidate(t *testing.T) {
	testutil.AssertError(t, Handshake{}.validate())
	testutil.AssertError(t, Handshake{Certificate: StaticCertificate("x"), Sign: func(context.Context, *model.RequestClaims) (string, error) { return "", nil }}.validate())
}

func TestAgentURL(t *testing.T) {
	entry := zeroconf.NewServiceEntry("agent", model.ServiceType, "local.")
	entry.Port = 8765
	testutil.AssertEquals(t, agentURL(entry), "")

	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.0.20")}
	testutil.AssertEquals(t, agentURL(entry), "ws://192.168.0.20:8765/ws")
}
