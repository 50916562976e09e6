// Package printer is the dispatch side of the print path: it renders
// documents to raster images and hands them to the local print agent over an
// authenticated websocket, or to the desktop browser in browser mode.
package printer

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/model"
	"github.com/orrn/printdispatch/internal/receipt"
)

var (
	ErrNoPrinter        = errors.New("no printer configured")
	ErrAgentUnavailable = errors.New("print agent unavailable")
	ErrAgentRejected    = errors.New("print agent rejected the request")
	ErrNotConnected     = errors.New("not connected to print agent")
	ErrPrintFailed      = errors.New("print failed")
)

type Adapter struct {
	cfg        config.AgentClient
	store      *ConfigStore
	handshake  Handshake
	rasterizer Rasterizer
	open       Opener
	discover   func(ctx context.Context, timeout time.Duration) (string, error)

	mu   sync.Mutex
	sess *session

	docsMu  sync.Mutex
	docsDir string
}

func NewAdapter(cfg config.AgentClient, store *ConfigStore, hs Handshake, r Rasterizer) *Adapter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.DiscoverTimeout <= 0 {
		cfg.DiscoverTimeout = 3 * time.Second
	}
	return &Adapter{
		cfg:        cfg,
		store:      store,
		handshake:  hs,
		rasterizer: r,
		open:       openInBrowser,
		discover:   DiscoverAgent,
	}
}

// SetOpener replaces the command used to open documents in browser mode.
func (a *Adapter) SetOpener(open Opener) {
	a.open = open
}

// PrinterConfigured reports whether submissions currently have a destination.
func (a *Adapter) PrinterConfigured() bool {
	return a.store.PrinterConfigured()
}

// Connect opens and authenticates the agent session. It is a no-op while a
// session is alive.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, err := a.connectLocked(ctx)
	return err
}

func (a *Adapter) connectLocked(ctx context.Context) (*session, error) {
	if a.sess != nil && a.sess.alive() {
		return a.sess, nil
	}
	if err := a.handshake.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAgentUnavailable, err)
	}

	url := a.cfg.URL
	if url == "" {
		found, err := a.discover(ctx, a.cfg.DiscoverTimeout)
		if err != nil {
			return nil, err
		}
		url = found
	}

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.ConnectTimeout)
	defer cancel()
	sess, err := dialSession(dialCtx, url, a.handshake, a.cfg.ConnectTimeout)
	if err != nil {
		return nil, err
	}
	log.Printf("[printer] connected to agent at %s", url)
	a.sess = sess
	return sess, nil
}

func (a *Adapter) request(ctx context.Context, m *model.Message) (*model.Message, error) {
	a.mu.Lock()
	sess, err := a.connectLocked(ctx)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	m.ID = uuid.NewString()
	ctx, cancel := context.WithTimeout(ctx, a.cfg.RequestTimeout)
	defer cancel()
	return sess.request(ctx, m)
}

// ListPrinters returns the printers the agent reports.
func (a *Adapter) ListPrinters(ctx context.Context) ([]model.PrinterInfo, error) {
	reply, err := a.request(ctx, &model.Message{Type: model.MessageTypeListPrinters})
	if err != nil {
		return nil, err
	}
	if reply.Type != model.MessageTypePrinters {
		return nil, fmt.Errorf("%w: unexpected %q", ErrAgentRejected, reply.Type)
	}
	return reply.Printers, nil
}

// DiscoverPrinters lists printer names, or nothing when the agent cannot be
// reached.
func (a *Adapter) DiscoverPrinters(ctx context.Context) []string {
	printers, err := a.ListPrinters(ctx)
	if err != nil {
		log.Printf("[printer] printer discovery failed: %v", err)
		return []string{}
	}
	names := make([]string, 0, len(printers))
	for _, p := range printers {
		names = append(names, p.Name)
	}
	return names
}

// Submit prints document on printerName, or on the configured printer when
// printerName is empty.
func (a *Adapter) Submit(ctx context.Context, document, printerName string) error {
	cfg := a.store.Get()
	if cfg.Mode == ModeBrowser {
		dir, err := a.documentsDir()
		if err != nil {
			return err
		}
		pruneDocuments(dir, browserDocTTL, time.Now())
		return printViaBrowser(a.open, dir, document)
	}

	if printerName == "" {
		printerName = cfg.PrinterName
	}
	if printerName == "" {
		return ErrNoPrinter
	}

	png, err := a.rasterizer.Rasterize(ctx, document, receipt.ContentWidth(cfg.PaperWidth, cfg.Model))
	if err != nil {
		return err
	}

	reply, err := a.request(ctx, &model.Message{
		Type:    model.MessageTypePrint,
		Printer: printerName,
		Image:   base64.StdEncoding.EncodeToString(png),
		Width:   receipt.DotsForWidth(cfg.PaperWidth),
		Margin:  receipt.MarginForModel(cfg.Model),
	})
	if err != nil {
		return err
	}

	switch reply.Type {
	case model.MessageTypePrinted:
		return nil
	case model.MessageTypePrintFailed:
		return fmt.Errorf("%w: %s", ErrPrintFailed, reply.Error)
	default:
		return fmt.Errorf("%w: unexpected %q", ErrAgentRejected, reply.Type)
	}
}

// PrintNow submits synchronously and reports success.
func (a *Adapter) PrintNow(ctx context.Context, document, printerName string) bool {
	if err := a.Submit(ctx, document, printerName); err != nil {
		log.Printf("[printer] direct print failed: %v", err)
		return false
	}
	return true
}

// documentsDir returns the per-process directory holding browser-mode
// documents, creating it on first use.
func (a *Adapter) documentsDir() (string, error) {
	a.docsMu.Lock()
	defer a.docsMu.Unlock()
	if a.docsDir == "" {
		dir, err := os.MkdirTemp("", "printdispatch-receipts-")
		if err != nil {
			return "", fmt.Errorf("failed to create document directory: %w", err)
		}
		a.docsDir = dir
	}
	return a.docsDir, nil
}

// Close drops the agent session and removes browser-mode documents.
func (a *Adapter) Close() {
	a.mu.Lock()
	if a.sess != nil {
		a.sess.close(errors.New("adapter closed"))
		a.sess = nil
	}
	a.mu.Unlock()

	a.docsMu.Lock()
	defer a.docsMu.Unlock()
	if a.docsDir != "" {
		os.RemoveAll(a.docsDir)
		a.docsDir = ""
	}
}
