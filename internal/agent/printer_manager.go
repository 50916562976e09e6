package agent

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/orrn/printdispatch/internal/config"
	"github.com/orrn/printdispatch/internal/escpos"
)

var (
	ErrPrinterNotFound    = errors.New("printer not found")
	ErrPrinterOffline     = errors.New("printer is offline")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrInvalidStatus      = errors.New("invalid status response")
	ErrPrinterCannotPrint = errors.New("printer cannot print in current state")
)

const (
	defaultTCPPort          = 9100
	defaultReadWriteTimeout = 10 * time.Second
)

const (
	StatusUnknown  = "unknown"
	StatusOnline   = "online"
	StatusOffline  = "offline"
	StatusPaperOut = "paper_out"
	StatusError    = "error"
)

type Printer struct {
	Name        string     `json:"name"`
	Address     string     `json:"address"`
	Port        int        `json:"port"`
	PaperWidth  int        `json:"paper_width"`
	Status      string     `json:"status"`
	PaperLow    bool       `json:"paper_low"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	TotalPrints int64      `json:"total_prints"`
}

type PrinterStatus struct {
	escpos.Status
	LastChecked time.Time `json:"last_checked"`
}

// StatusListener is told when a printer's status string changes.
type StatusListener func(name, oldStatus, newStatus string)

// PrinterManager keeps one raw TCP connection per network printer. A
// printer's connection is used by one caller at a time.
type PrinterManager struct {
	config      *config.AgentConfig
	printers    map[string]*Printer
	connections map[string]net.Conn
	locks       map[string]*sync.Mutex
	mu          sync.RWMutex
	onChange    StatusListener
	stopCh      chan struct{}
	wg          sync.WaitGroup
}

func NewPrinterManager(cfg *config.AgentConfig, onChange StatusListener) *PrinterManager {
	pm := &PrinterManager{
		config:      cfg,
		printers:    make(map[string]*Printer),
		connections: make(map[string]net.Conn),
		locks:       make(map[string]*sync.Mutex),
		onChange:    onChange,
		stopCh:      make(chan struct{}),
	}
	for _, p := range cfg.Printers {
		port := p.Port
		if port == 0 {
			port = defaultTCPPort
		}
		width := p.PaperWidth
		if width == 0 {
			width = 80
		}
		pm.printers[p.Name] = &Printer{
			Name:       p.Name,
			Address:    p.Address,
			Port:       port,
			PaperWidth: width,
			Status:     StatusUnknown,
		}
		pm.locks[p.Name] = &sync.Mutex{}
	}
	return pm
}

func (pm *PrinterManager) Start() {
	pm.wg.Add(1)
	go pm.healthCheckLoop()
}

func (pm *PrinterManager) Stop() {
	close(pm.stopCh)
	pm.wg.Wait()

	pm.mu.Lock()
	for name, conn := range pm.connections {
		conn.Close()
		delete(pm.connections, name)
	}
	pm.mu.Unlock()
}

func (pm *PrinterManager) GetPrinter(name string) (*Printer, error) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	p, exists := pm.printers[name]
	if !exists {
		return nil, ErrPrinterNotFound
	}
	cp := *p
	return &cp, nil
}

// ListPrinters returns copies sorted by name.
func (pm *PrinterManager) ListPrinters() []Printer {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	printers := make([]Printer, 0, len(pm.printers))
	for _, p := range pm.printers {
		printers = append(printers, *p)
	}
	sort.Slice(printers, func(i, j int) bool { return printers[i].Name < printers[j].Name })
	return printers
}

func (pm *PrinterManager) timeout() time.Duration {
	if pm.config.ConnectionTimeout > 0 {
		return pm.config.ConnectionTimeout
	}
	return defaultReadWriteTimeout
}

func (pm *PrinterManager) connect(name string) (net.Conn, error) {
	pm.mu.RLock()
	p, exists := pm.printers[name]
	if !exists {
		pm.mu.RUnlock()
		return nil, ErrPrinterNotFound
	}
	if conn, exists := pm.connections[name]; exists {
		pm.mu.RUnlock()
		return conn, nil
	}
	address := net.JoinHostPort(p.Address, strconv.Itoa(p.Port))
	pm.mu.RUnlock()

	conn, err := net.DialTimeout("tcp", address, pm.timeout())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	pm.mu.Lock()
	pm.connections[name] = conn
	pm.mu.Unlock()

	log.Printf("[agent] connected to printer %s at %s", name, address)

	return conn, nil
}

func (pm *PrinterManager) disconnect(name string) {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if conn, exists := pm.connections[name]; exists {
		conn.Close()
		delete(pm.connections, name)
	}
}

func (pm *PrinterManager) lock(name string) (func(), error) {
	pm.mu.RLock()
	l, exists := pm.locks[name]
	pm.mu.RUnlock()
	if !exists {
		return nil, ErrPrinterNotFound
	}
	l.Lock()
	return l.Unlock, nil
}

// CheckStatus queries the printer with DLE EOT 1 and DLE EOT 4.
func (pm *PrinterManager) CheckStatus(name string) (*PrinterStatus, error) {
	unlock, err := pm.lock(name)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return pm.checkStatus(name)
}

func (pm *PrinterManager) checkStatus(name string) (*PrinterStatus, error) {
	offline := &PrinterStatus{LastChecked: time.Now()}

	conn, err := pm.connect(name)
	if err != nil {
		pm.updatePrinterStatus(name, StatusOffline, false)
		return offline, err
	}

	printer, err := pm.query(conn, escpos.CmdPrinterStatus)
	if err != nil {
		// stale connection: one fresh attempt
		pm.disconnect(name)
		if conn, err = pm.connect(name); err == nil {
			printer, err = pm.query(conn, escpos.CmdPrinterStatus)
		}
	}
	if err != nil {
		pm.disconnect(name)
		pm.updatePrinterStatus(name, StatusOffline, false)
		return offline, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	paper, err := pm.query(conn, escpos.CmdPaperStatus)
	if err != nil {
		pm.disconnect(name)
		pm.updatePrinterStatus(name, StatusOffline, false)
		return offline, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	st, ok := escpos.ParseStatus(printer, paper)
	if !ok {
		pm.updatePrinterStatus(name, StatusError, false)
		return offline, ErrInvalidStatus
	}

	status := &PrinterStatus{Status: st, LastChecked: time.Now()}
	pm.updatePrinterStatus(name, determineStatusString(st), st.PaperLow)
	return status, nil
}

func (pm *PrinterManager) query(conn net.Conn, cmd []byte) (byte, error) {
	_ = conn.SetDeadline(time.Now().Add(pm.timeout()))
	if _, err := conn.Write(cmd); err != nil {
		return 0, err
	}
	var b [1]byte
	if _, err := io.ReadFull(conn, b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

func determineStatusString(st escpos.Status) string {
	switch {
	case !st.Online:
		return StatusError
	case st.PaperOut:
		return StatusPaperOut
	default:
		return StatusOnline
	}
}

func (pm *PrinterManager) updatePrinterStatus(name, status string, paperLow bool) {
	pm.mu.Lock()
	p, exists := pm.printers[name]
	if !exists {
		pm.mu.Unlock()
		return
	}
	oldStatus := p.Status
	p.Status = status
	p.PaperLow = paperLow
	if status != StatusOffline {
		now := time.Now()
		p.LastSeenAt = &now
	}
	pm.mu.Unlock()

	if oldStatus == status {
		return
	}
	log.Printf("[agent] printer %s: %s -> %s", name, oldStatus, status)
	if pm.onChange != nil {
		pm.onChange(name, oldStatus, status)
	}
}

func (pm *PrinterManager) CheckAllStatuses() {
	pm.mu.RLock()
	names := make([]string, 0, len(pm.printers))
	for name := range pm.printers {
		names = append(names, name)
	}
	pm.mu.RUnlock()

	for _, name := range names {
		_, _ = pm.CheckStatus(name)
	}
}

func (pm *PrinterManager) healthCheckLoop() {
	defer pm.wg.Done()

	interval := pm.config.HealthCheckInterval
	if interval == 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pm.CheckAllStatuses()

	for {
		select {
		case <-pm.stopCh:
			return
		case <-ticker.C:
			pm.CheckAllStatuses()
		}
	}
}

// Print checks the printer can take a job and writes data to it.
func (pm *PrinterManager) Print(name string, data []byte) error {
	unlock, err := pm.lock(name)
	if err != nil {
		return err
	}
	defer unlock()

	status, err := pm.checkStatus(name)
	if err != nil {
		if errors.Is(err, ErrConnectionFailed) {
			return fmt.Errorf("%w: %v", ErrPrinterOffline, err)
		}
		return err
	}
	if !status.CanPrint() {
		return ErrPrinterCannotPrint
	}

	conn, err := pm.connect(name)
	if err != nil {
		return ErrPrinterOffline
	}
	_ = conn.SetDeadline(time.Now().Add(pm.timeout()))
	if _, err := conn.Write(data); err != nil {
		pm.disconnect(name)
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	pm.mu.Lock()
	if p, exists := pm.printers[name]; exists {
		p.TotalPrints++
	}
	pm.mu.Unlock()

	return nil
}
