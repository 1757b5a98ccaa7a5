package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/core"
)

// QueryHandler serves the read-only reporting surface (§4.G). None of
// these handlers mutate dispatch state.
type QueryHandler struct {
	registry *core.DeviceRegistry
	store    *core.JobStore
	presence *core.PresenceTracker
	history  *core.History
}

func NewQueryHandler(registry *core.DeviceRegistry, store *core.JobStore, presence *core.PresenceTracker, history *core.History) *QueryHandler {
	return &QueryHandler{registry: registry, store: store, presence: presence, history: history}
}

func (h *QueryHandler) RegisterRoutes(r gin.IRoutes) {
	r.GET("/api/printers", h.ListPrinters)
	r.GET("/api/printers/online", h.OnlinePrinters)
	r.GET("/api/printers/:serial/history", h.PrinterHistory)
	r.GET("/api/tenants/:tenant/queue", h.TenantQueue)
	r.GET("/api/presence", h.Presence)
}

type printerStatusResponse struct {
	Serial   string   `json:"serial"`
	Tenants  []string `json:"tenants"`
	Online   bool     `json:"online"`
	LastSeen *string  `json:"lastSeen,omitempty"`
	AgeMS    int64    `json:"ageMs,omitempty"`
}

// ListPrinters reports every configured serial, online or not.
func (h *QueryHandler) ListPrinters(c *gin.Context) {
	now := time.Now()
	records := h.presence.AllConfiguredSnapshot(now, h.registry.Serials(), h.registry.TenantsFor)
	c.JSON(http.StatusOK, toPrinterResponses(records))
}

// OnlinePrinters reports only serials seen within the presence window,
// most-recently-seen first.
func (h *QueryHandler) OnlinePrinters(c *gin.Context) {
	now := time.Now()
	records := h.presence.OnlineSnapshot(now, h.registry.TenantsFor)
	c.JSON(http.StatusOK, toPrinterResponses(records))
}

func toPrinterResponses(records []core.PresenceRecord) []printerStatusResponse {
	out := make([]printerStatusResponse, 0, len(records))
	for _, r := range records {
		resp := printerStatusResponse{Serial: r.Serial, Tenants: r.Tenants, Online: r.Online, AgeMS: r.AgeMS}
		if !r.LastSeen.IsZero() {
			ts := r.LastSeen.Format(time.RFC3339)
			resp.LastSeen = &ts
		}
		out = append(out, resp)
	}
	return out
}

type historyEntryResponse struct {
	Timestamp string `json:"timestamp"`
	Tenant    string `json:"tenant"`
	Stage     string `json:"stage"`
	Token     string `json:"token"`
	Customer  string `json:"customer,omitempty"`
	Order     string `json:"order,omitempty"`
}

// PrinterHistory returns a serial's bounded lifecycle log, oldest first.
func (h *QueryHandler) PrinterHistory(c *gin.Context) {
	serial := c.Param("serial")
	entries := h.history.Snapshot(serial)

	out := make([]historyEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, historyEntryResponse{
			Timestamp: e.Timestamp.Format(time.RFC3339),
			Tenant:    e.Tenant,
			Stage:     e.Stage,
			Token:     e.Token,
			Customer:  e.Customer,
			Order:     e.Order,
		})
	}
	c.JSON(http.StatusOK, out)
}

type jobResponse struct {
	Token        string  `json:"token"`
	Tenant       string  `json:"tenant"`
	Status       string  `json:"status"`
	OfferedAt    *string `json:"offeredAt,omitempty"`
	SentAt       *string `json:"sentAt,omitempty"`
	ReceivedAt   string  `json:"receivedAt"`
	CustomerName string  `json:"customerName,omitempty"`
	OrderNumber  string  `json:"orderNumber,omitempty"`
	OrderID      string  `json:"orderId,omitempty"`
}

// TenantQueue reports a tenant's current jobs, content omitted.
func (h *QueryHandler) TenantQueue(c *gin.Context) {
	tenant := c.Param("tenant")
	jobs := h.store.QueueSnapshot(tenant)

	out := make([]jobResponse, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, jobResponse{
			Token:        j.Token,
			Tenant:       j.Tenant,
			Status:       string(j.Status),
			OfferedAt:    formatOptionalTime(j.OfferedAt),
			SentAt:       formatOptionalTime(j.SentAt),
			ReceivedAt:   j.ReceivedAt.Format(time.RFC3339),
			CustomerName: j.CustomerName,
			OrderNumber:  j.OrderNumber,
			OrderID:      j.OrderID,
		})
	}
	c.JSON(http.StatusOK, out)
}

func formatOptionalTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// Presence dumps the presence state of every configured serial, intended
// for debugging. Its body is the same as ListPrinters; the recorded
// network address is not included.
func (h *QueryHandler) Presence(c *gin.Context) {
	now := time.Now()
	records := h.presence.AllConfiguredSnapshot(now, h.registry.Serials(), h.registry.TenantsFor)
	c.JSON(http.StatusOK, toPrinterResponses(records))
}
