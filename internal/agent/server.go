// Package agent is the local print agent: it accepts authenticated
// connections from dispatch services and drives ESC/POS network printers.
package agent

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/orrn/printdispatch/internal/escpos"
	"github.com/orrn/printdispatch/internal/model"
	"github.com/orrn/printdispatch/internal/receipt"
)

const (
	handshakeWait = 10 * time.Second
	maxMessage    = 8 << 20
)

type Server struct {
	printers *PrinterManager
	verifier *Verifier
	upgrader websocket.Upgrader
}

func NewServer(pm *PrinterManager, v *Verifier) *Server {
	return &Server{
		printers: pm,
		verifier: v,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/ws", s.ServeWS)
	r.GET("/health", s.Health)
	r.GET("/printers", s.ListPrinters)
	return r
}

func (s *Server) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "printers": len(s.printers.ListPrinters())})
}

func (s *Server) ListPrinters(c *gin.Context) {
	c.JSON(http.StatusOK, s.printers.ListPrinters())
}

// conn is one authenticated dispatch client.
type conn struct {
	ws        *websocket.Conn
	nonce     string
	key       crypto.PublicKey
	algorithm string
	seen      map[string]bool
}

func (s *Server) ServeWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[agent] websocket upgrade failed: %v", err)
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxMessage)

	cn, err := s.handshake(ws)
	if err != nil {
		log.Printf("[agent] handshake from %s failed: %v", c.Request.RemoteAddr, err)
		ws.WriteJSON(model.Message{Type: model.MessageTypeError, Error: err.Error()})
		return
	}
	log.Printf("[agent] client %s authenticated", c.Request.RemoteAddr)

	for {
		var m model.Message
		if err := ws.ReadJSON(&m); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[agent] read error: %v", err)
			}
			return
		}
		if err := ws.WriteJSON(s.handle(cn, &m)); err != nil {
			return
		}
	}
}

func (s *Server) handshake(ws *websocket.Conn) (*conn, error) {
	nonce, err := newNonce()
	if err != nil {
		return nil, err
	}
	ws.SetReadDeadline(time.Now().Add(handshakeWait))
	defer ws.SetReadDeadline(time.Time{})

	challenge := model.Message{Type: model.MessageTypeChallenge, Nonce: nonce, Algorithms: model.SupportedAlgorithms}
	if err := ws.WriteJSON(challenge); err != nil {
		return nil, err
	}

	var hello model.Message
	if err := ws.ReadJSON(&hello); err != nil {
		return nil, err
	}
	if hello.Type != model.MessageTypeHello {
		return nil, errors.New("expected hello")
	}
	key, err := s.verifier.Authenticate(hello.Certificate, hello.Algorithm)
	if err != nil {
		return nil, err
	}
	if err := ws.WriteJSON(model.Message{Type: model.MessageTypeReady}); err != nil {
		return nil, err
	}
	return &conn{ws: ws, nonce: nonce, key: key, algorithm: hello.Algorithm, seen: make(map[string]bool)}, nil
}

func newNonce() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

func (s *Server) handle(cn *conn, m *model.Message) model.Message {
	if err := verifyRequest(cn.key, cn.algorithm, cn.nonce, m); err != nil {
		return model.Message{Type: model.MessageTypeError, ID: m.ID, Error: err.Error()}
	}
	if cn.seen[m.ID] {
		return model.Message{Type: model.MessageTypeError, ID: m.ID, Error: ErrReplayedRequest.Error()}
	}
	cn.seen[m.ID] = true

	switch m.Type {
	case model.MessageTypeListPrinters:
		return model.Message{Type: model.MessageTypePrinters, ID: m.ID, Printers: s.printerInfo()}
	case model.MessageTypePrint:
		if err := s.print(m); err != nil {
			log.Printf("[agent] print on %s failed: %v", m.Printer, err)
			return model.Message{Type: model.MessageTypePrintFailed, ID: m.ID, Error: err.Error()}
		}
		return model.Message{Type: model.MessageTypePrinted, ID: m.ID}
	default:
		return model.Message{Type: model.MessageTypeError, ID: m.ID, Error: "unsupported message type " + string(m.Type)}
	}
}

func (s *Server) printerInfo() []model.PrinterInfo {
	printers := s.printers.ListPrinters()
	info := make([]model.PrinterInfo, 0, len(printers))
	for _, p := range printers {
		info = append(info, model.PrinterInfo{
			Name:       p.Name,
			PaperWidth: p.PaperWidth,
			Online:     p.Status == StatusOnline,
		})
	}
	return info
}

func (s *Server) print(m *model.Message) error {
	p, err := s.printers.GetPrinter(m.Printer)
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(m.Image)
	if err != nil {
		return err
	}
	img, err := escpos.DecodePNG(data)
	if err != nil {
		return err
	}

	width := m.Width
	if width <= 0 {
		width = receipt.DotsForWidth(p.PaperWidth)
	}
	return s.printers.Print(p.Name, escpos.Encode(img, escpos.Options{
		Width:  width,
		Margin: m.Margin,
		Cut:    true,
	}))
}
