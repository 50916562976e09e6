// Package model holds the wire format spoken between the dispatch service
// and the local print agent.
package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceType is the mDNS service the print agent announces.
const ServiceType = "_printagent._tcp"

type MessageType string

const (
	MessageTypeChallenge    MessageType = "challenge"
	MessageTypeHello        MessageType = "hello"
	MessageTypeReady        MessageType = "ready"
	MessageTypeError        MessageType = "error"
	MessageTypeListPrinters MessageType = "list_printers"
	MessageTypePrinters     MessageType = "printers"
	MessageTypePrint        MessageType = "print"
	MessageTypePrinted      MessageType = "printed"
	MessageTypePrintFailed  MessageType = "print_failed"
)

// Signature algorithms accepted by the agent.
const (
	AlgorithmEdDSA = "EdDSA"
	AlgorithmES256 = "ES256"
)

var SupportedAlgorithms = []string{AlgorithmEdDSA, AlgorithmES256}

type Message struct {
	Type MessageType `json:"type"`
	ID   string      `json:"id,omitempty"`

	// handshake
	Nonce       string   `json:"nonce,omitempty"`
	Algorithms  []string `json:"algorithms,omitempty"`
	Certificate string   `json:"certificate,omitempty"`
	Algorithm   string   `json:"algorithm,omitempty"`

	// Signature is a compact JWS carrying RequestClaims.
	Signature string `json:"signature,omitempty"`

	Printer string `json:"printer,omitempty"`
	// Image is a base64 PNG.
	Image  string `json:"image,omitempty"`
	Width  int    `json:"width,omitempty"`
	Margin int    `json:"margin,omitempty"`

	Printers []PrinterInfo `json:"printers,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type PrinterInfo struct {
	Name       string `json:"name"`
	PaperWidth int    `json:"paper_width"`
	Online     bool   `json:"online"`
}

// Digest is the hex SHA-256 of the request fields a signature covers.
func (m *Message) Digest() string {
	h := sha256.New()
	h.Write([]byte(m.Type))
	h.Write([]byte{0})
	h.Write([]byte(m.Printer))
	h.Write([]byte{0})
	h.Write([]byte(m.Image))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(m.Width)))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(m.Margin)))
	return hex.EncodeToString(h.Sum(nil))
}

// RequestClaims bind a request to the session nonce. The JWT ID is the
// request id.
type RequestClaims struct {
	Nonce  string `json:"nonce"`
	Digest string `json:"digest"`
	jwt.RegisteredClaims
}

func NewRequestClaims(nonce string, m *Message) *RequestClaims {
	return &RequestClaims{
		Nonce:            nonce,
		Digest:           m.Digest(),
		RegisteredClaims: jwt.RegisteredClaims{ID: m.ID},
	}
}
