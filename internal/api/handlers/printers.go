package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/printer"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func respondError(c *gin.Context, status int, code, message string) {
	c.JSON(status, ErrorResponse{Error: code, Message: message})
}

// PrinterDiscoverer lists the printers the local agent can reach.
type PrinterDiscoverer interface {
	DiscoverPrinters(ctx context.Context) []string
}

type PrintersResponse struct {
	Printers   []string `json:"printers"`
	Configured string   `json:"configured,omitempty"`
}

type PrinterHandler struct {
	discoverer PrinterDiscoverer
	store      *printer.ConfigStore
}

func NewPrinterHandler(discoverer PrinterDiscoverer, store *printer.ConfigStore) *PrinterHandler {
	return &PrinterHandler{
		discoverer: discoverer,
		store:      store,
	}
}

// ListPrinters never fails; an unreachable agent yields an empty list.
func (h *PrinterHandler) ListPrinters(c *gin.Context) {
	names := h.discoverer.DiscoverPrinters(c.Request.Context())
	if names == nil {
		names = []string{}
	}

	c.JSON(http.StatusOK, PrintersResponse{
		Printers:   names,
		Configured: h.store.Get().PrinterName,
	})
}

func (h *PrinterHandler) GetConfiguration(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Get())
}

func (h *PrinterHandler) UpdateConfiguration(c *gin.Context) {
	cfg := h.store.Get()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := cfg.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	if err := h.store.Save(cfg); err != nil {
		respondError(c, http.StatusInternalServerError, "storage_error", "Failed to save printer configuration")
		return
	}

	c.JSON(http.StatusOK, cfg)
}

func (h *PrinterHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/printers", h.ListPrinters)
	r.GET("/printer-config", h.GetConfiguration)
	r.PUT("/printer-config", h.UpdateConfiguration)
}
