package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/audit"
	"github.com/orrn/cloudprnt/internal/configsource"
	"github.com/orrn/cloudprnt/internal/db"
)

// AuditReader is the read side of the audit trail an operator can page
// through. Implemented by *db.DB; narrowed here so this package doesn't
// need the rest of db's surface.
type AuditReader interface {
	RecentAuditEvents(limit int) ([]db.AuditRecord, error)
}

// AdminHandler exposes the operational actions spec.md §4.F adds beyond
// the printer protocol: forcing an out-of-cycle config reload, and
// paging through the audit trail. Setup/login/status live in
// internal/api/middleware since they're the session guard's own
// concern, not dispatch's.
type AdminHandler struct {
	loader    *configsource.Loader
	audit     audit.Sink
	auditRead AuditReader
}

func NewAdminHandler(loader *configsource.Loader, sink audit.Sink, auditRead AuditReader) *AdminHandler {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &AdminHandler{loader: loader, audit: sink, auditRead: auditRead}
}

// RegisterRoutes wires the admin-gated routes onto r, which the caller
// has already scoped to /api/admin and guarded with RequireAuth().
func (h *AdminHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/config/reload", h.ReloadConfig)
	r.GET("/audit", h.AuditLog)
}

func (h *AdminHandler) ReloadConfig(c *gin.Context) {
	h.loader.RefreshNow()
	count := len(h.loader.LastGood())
	h.audit.Record(audit.Event{Time: time.Now(), Kind: "config_reload"})
	c.JSON(http.StatusOK, gin.H{"ok": true, "pairCount": count})
}

// AuditLog pages through recently recorded audit events, most recent
// first. ?limit caps the page size (default 100, per db.RecentAuditEvents).
func (h *AdminHandler) AuditLog(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		if v, err := strconv.Atoi(raw); err == nil {
			limit = v
		}
	}

	events, err := h.auditRead.RecentAuditEvents(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read audit log"})
		return
	}
	c.JSON(http.StatusOK, events)
}
