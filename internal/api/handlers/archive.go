package handlers

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/printdispatch/internal/archive"
)

// ArchiveHandler exposes the sealed monthly job archives.
type ArchiveHandler struct {
	archiver *archive.Archiver
}

func NewArchiveHandler(archiver *archive.Archiver) *ArchiveHandler {
	return &ArchiveHandler{archiver: archiver}
}

func (h *ArchiveHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/archives", h.ListArchives)
	r.GET("/archives/stats", h.GetArchiveStats)
	r.POST("/archives/run", h.TriggerArchive)
	r.GET("/archives/:filename", h.GetArchiveInfo)
	r.GET("/archives/:filename/download", h.DownloadArchive)
	r.DELETE("/archives/:filename", h.DeleteArchive)

	r.GET("/settings/archival", h.GetArchiveSettings)
	r.PUT("/settings/archival", h.UpdateArchiveSettings)
	r.PUT("/settings/archival/passphrase", h.SetPassphrase)
}

type ArchiveListResponse struct {
	Archives []*archive.ArchiveFile `json:"archives"`
	Count    int                    `json:"count"`
}

type ArchiveInfoResponse struct {
	*archive.ArchiveFile
	HasPassphrase bool `json:"has_passphrase"`
}

type ArchiveStatsResponse struct {
	TotalArchives int    `json:"total_archives"`
	TotalSize     int64  `json:"total_size_bytes"`
	TotalJobs     int    `json:"total_jobs"`
	Oldest        string `json:"oldest_archive,omitempty"`
	Newest        string `json:"newest_archive,omitempty"`
}

type ArchiveSettings struct {
	ArchivePath   string `json:"archive_path"`
	ArchiveDays   int    `json:"archive_days"`
	HasPassphrase bool   `json:"has_passphrase"`
}

type UpdateArchiveSettingsRequest struct {
	ArchiveDays int `json:"archive_days" binding:"required,min=1,max=365"`
}

type PassphraseRequest struct {
	Passphrase string `json:"passphrase" binding:"required,min=8"`
}

// archiveFailed maps archiver errors onto HTTP statuses.
func archiveFailed(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, archive.ErrInvalidName), errors.Is(err, archive.ErrNoPassphrase):
		status = http.StatusBadRequest
	case errors.Is(err, archive.ErrArchiveNotFound):
		status = http.StatusNotFound
	}
	respondError(c, status, "archive_error", err.Error())
}

func (h *ArchiveHandler) ListArchives(c *gin.Context) {
	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		archiveFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, ArchiveListResponse{Archives: archives, Count: len(archives)})
}

func (h *ArchiveHandler) GetArchiveInfo(c *gin.Context) {
	info, err := h.archiver.GetArchiveInfo(c.Request.Context(), c.Param("filename"))
	if err != nil {
		archiveFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, ArchiveInfoResponse{ArchiveFile: info, HasPassphrase: h.archiver.HasPassphrase()})
}

// DownloadArchive decrypts into a temp file and sends the plain sqlite database.
func (h *ArchiveHandler) DownloadArchive(c *gin.Context) {
	name := c.Param("filename")

	tmp, err := os.CreateTemp("", "dispatch-archive-*.db")
	if err != nil {
		archiveFailed(c, err)
		return
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := h.archiver.DecryptArchive(name, tmp.Name()); err != nil {
		archiveFailed(c, err)
		return
	}
	c.FileAttachment(tmp.Name(), strings.TrimSuffix(name, ".sealed"))
}

func (h *ArchiveHandler) DeleteArchive(c *gin.Context) {
	if err := h.archiver.DeleteArchive(c.Param("filename")); err != nil {
		archiveFailed(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// TriggerArchive runs one archival pass now instead of waiting for the daily tick.
func (h *ArchiveHandler) TriggerArchive(c *gin.Context) {
	started := time.Now()
	n, err := h.archiver.RunArchive(c.Request.Context())
	if err != nil {
		archiveFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"archived": n,
		"took":     time.Since(started).Round(time.Millisecond).String(),
	})
}

func (h *ArchiveHandler) GetArchiveStats(c *gin.Context) {
	archives, err := h.archiver.ListArchives(c.Request.Context())
	if err != nil {
		archiveFailed(c, err)
		return
	}

	var stats ArchiveStatsResponse
	for _, a := range archives {
		stats.TotalArchives++
		stats.TotalSize += a.Size
		stats.TotalJobs += a.JobCount
		if stats.Oldest == "" || a.Filename < stats.Oldest {
			stats.Oldest = a.Filename
		}
		if a.Filename > stats.Newest {
			stats.Newest = a.Filename
		}
	}
	c.JSON(http.StatusOK, stats)
}

func (h *ArchiveHandler) GetArchiveSettings(c *gin.Context) {
	c.JSON(http.StatusOK, h.settings())
}

func (h *ArchiveHandler) UpdateArchiveSettings(c *gin.Context) {
	var req UpdateArchiveSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	h.archiver.SetArchiveDays(req.ArchiveDays)
	c.JSON(http.StatusOK, h.settings())
}

// SetPassphrase replaces the passphrase for archives sealed from now on.
// Existing archives keep the one they were sealed with.
func (h *ArchiveHandler) SetPassphrase(c *gin.Context) {
	var req PassphraseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	h.archiver.SetPassphrase(req.Passphrase)
	c.JSON(http.StatusOK, h.settings())
}

func (h *ArchiveHandler) settings() ArchiveSettings {
	return ArchiveSettings{
		ArchivePath:   h.archiver.GetArchivePath(),
		ArchiveDays:   h.archiver.GetArchiveDays(),
		HasPassphrase: h.archiver.HasPassphrase(),
	}
}
