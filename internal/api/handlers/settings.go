package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/config"
)

type SettingsHandler struct {
	config *config.Config
}

type ServerConfigResponse struct {
	Port           int      `json:"port"`
	DatabaseDriver string   `json:"database_driver"`
	ArchivePath    string   `json:"archive_path"`
	Role           string   `json:"role"`
	InstanceID     string   `json:"instance_id"`
	PollInterval   string   `json:"poll_interval"`
	StuckAfter     string   `json:"stuck_after"`
	NotifyPeers    []string `json:"notify_peers"`
	MaxAttempts    int      `json:"max_attempts"`
	RetryDelay     string   `json:"retry_delay"`
	AgentURL       string   `json:"agent_url,omitempty"`
	OrdersURL      string   `json:"orders_url,omitempty"`
	LogLevel       string   `json:"log_level"`
	LogFormat      string   `json:"log_format"`
}

func NewSettingsHandler(cfg *config.Config) *SettingsHandler {
	return &SettingsHandler{config: cfg}
}

// GetServerConfig reports the effective configuration. Secrets are left out.
func (h *SettingsHandler) GetServerConfig(c *gin.Context) {
	peers := h.config.Processor.NotifyPeers
	if peers == nil {
		peers = []string{}
	}

	c.JSON(http.StatusOK, ServerConfigResponse{
		Port:           h.config.Server.Port,
		DatabaseDriver: h.config.Database.Driver,
		ArchivePath:    h.config.Database.ArchivePath,
		Role:           h.config.Processor.Role,
		InstanceID:     h.config.Processor.InstanceID,
		PollInterval:   h.config.Processor.PollInterval.String(),
		StuckAfter:     h.config.Processor.StuckAfter.String(),
		NotifyPeers:    peers,
		MaxAttempts:    h.config.Queue.MaxAttempts,
		RetryDelay:     h.config.Queue.RetryDelay.String(),
		AgentURL:       h.config.Agent.URL,
		OrdersURL:      h.config.Orders.BaseURL,
		LogLevel:       h.config.Logging.Level,
		LogFormat:      h.config.Logging.Format,
	})
}

func RegisterSettingsRoutes(r *gin.RouterGroup, h *SettingsHandler) {
	r.GET("/settings/server", h.GetServerConfig)
}
