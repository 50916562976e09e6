package agent

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/escpos"
	"github.com/orrn/printdispatch/internal/model"
	"github.com/orrn/printdispatch/internal/testutil"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type agentHarness struct {
	srv     *httptest.Server
	printer *fakePrinter
}

func newAgentHarness(t *testing.T, trusted ...string) *agentHarness {
	t.Helper()
	fp := newFakePrinter(t)
	pm := newManager(t, []config.AgentPrinter{{Name: "kitchen", Address: "127.0.0.1", Port: fp.port(), PaperWidth: 58}}, nil)

	v, err := NewVerifier(nil)
	testutil.AssertNotError(t, err)
	for _, cert := range trusted {
		testutil.AssertNotError(t, v.Trust(cert))
	}

	srv := httptest.NewServer(NewServer(pm, v).Router())
	t.Cleanup(srv.Close)
	return &agentHarness{srv: srv, printer: fp}
}

// dial runs the client side of the handshake and returns the connection and
// the session nonce.
func (h *agentHarness) dial(t *testing.T, id testutil.Identity) (*websocket.Conn, string, model.Message) {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(h.srv.URL, "http")+"/ws", nil)
	testutil.AssertNotError(t, err)
	t.Cleanup(func() { ws.Close() })
	ws.SetReadDeadline(time.Now().Add(5 * time.Second))

	var challenge model.Message
	testutil.AssertNotError(t, ws.ReadJSON(&challenge))
	testutil.AssertEquals(t, challenge.Type, model.MessageTypeChallenge)
	if challenge.Nonce == "" {
		t.Fatal("challenge without nonce")
	}

	testutil.AssertNotError(t, ws.WriteJSON(model.Message{
		Type:        model.MessageTypeHello,
		Certificate: id.CertPEM,
		Algorithm:   model.AlgorithmEdDSA,
	}))
	var reply model.Message
	testutil.AssertNotError(t, ws.ReadJSON(&reply))
	return ws, challenge.Nonce, reply
}

func roundTrip(t *testing.T, ws *websocket.Conn, key ed25519.PrivateKey, nonce string, m *model.Message) model.Message {
	t.Helper()
	if m.Signature == "" {
		m.Signature = sign(t, key, nonce, m)
	}
	testutil.AssertNotError(t, ws.WriteJSON(m))
	var reply model.Message
	testutil.AssertNotError(t, ws.ReadJSON(&reply))
	testutil.AssertEquals(t, reply.ID, m.ID)
	return reply
}

func whitePNG(t *testing.T, w, h int) string {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	img.SetGray(0, 0, color.Gray{Y: 0})
	var buf bytes.Buffer
	testutil.AssertNotError(t, png.Encode(&buf, img))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func TestAgentSession(t *testing.T) {
	id := testutil.NewIdentity(t, "pos-1")
	h := newAgentHarness(t, id.CertPEM)

	ws, nonce, ready := h.dial(t, id)
	testutil.AssertEquals(t, ready.Type, model.MessageTypeReady)

	list := roundTrip(t, ws, id.Key, nonce, &model.Message{Type: model.MessageTypeListPrinters, ID: "1"})
	testutil.AssertEquals(t, list.Type, model.MessageTypePrinters)
	testutil.AssertEquals(t, list.Printers, []model.PrinterInfo{{Name: "kitchen", PaperWidth: 58}})

	job := &model.Message{Type: model.MessageTypePrint, ID: "2", Printer: "kitchen", Image: whitePNG(t, 40, 4), Width: 288, Margin: 4}
	reply := roundTrip(t, ws, id.Key, nonce, job)
	testutil.AssertEquals(t, reply.Type, model.MessageTypePrinted)

	waitFor(t, func() bool { return bytes.HasSuffix(h.printer.data(), escpos.CmdCut) })
	data := h.printer.data()
	if !bytes.HasPrefix(data, []byte{escpos.ESC, '@', escpos.GS, 'v', '0', 0, 36, 0, 4, 0}) {
		t.Fatalf("unexpected job prefix % x", data[:12])
	}

	replay := roundTrip(t, ws, id.Key, nonce, &model.Message{Type: model.MessageTypePrint, ID: "2", Printer: "kitchen", Image: job.Image, Width: 288, Margin: 4, Signature: job.Signature})
	testutil.AssertEquals(t, replay.Type, model.MessageTypeError)

	missing := roundTrip(t, ws, id.Key, nonce, &model.Message{Type: model.MessageTypePrint, ID: "3", Printer: "bar", Image: job.Image})
	testutil.AssertEquals(t, missing.Type, model.MessageTypePrintFailed)
	if !strings.Contains(missing.Error, ErrPrinterNotFound.Error()) {
		t.Errorf("unexpected error %q", missing.Error)
	}

	forged := roundTrip(t, ws, id.Key, "other-nonce", &model.Message{Type: model.MessageTypeListPrinters, ID: "4"})
	testutil.AssertEquals(t, forged.Type, model.MessageTypeError)
}

func TestAgentRejectsUntrustedClient(t *testing.T) {
	trusted := testutil.NewIdentity(t, "pos-1")
	stranger := testutil.NewIdentity(t, "pos-2")
	h := newAgentHarness(t, trusted.CertPEM)

	_, _, reply := h.dial(t, stranger)
	testutil.AssertEquals(t, reply.Type, model.MessageTypeError)
	testutil.AssertEquals(t, reply.Error, ErrUntrustedCertificate.Error())
}

func TestAgentHTTPEndpoints(t *testing.T) {
	h := newAgentHarness(t)

	resp, err := http.Get(h.srv.URL + "/health")
	testutil.AssertNotError(t, err)
	resp.Body.Close()
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)

	resp, err = http.Get(h.srv.URL + "/printers")
	testutil.AssertNotError(t, err)
	resp.Body.Close()
	testutil.AssertEquals(t, resp.StatusCode, http.StatusOK)
}
