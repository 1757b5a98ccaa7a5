package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/audit"
	"github.com/orrn/cloudprnt/internal/configsource"
	"github.com/orrn/cloudprnt/internal/core"
	"github.com/orrn/cloudprnt/internal/render"
)

// restaurantID accepts either a single tenant id or an array of them,
// matching the wire shape spec.md §6 defines for /api/print.
type restaurantID []string

func (r *restaurantID) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*r = []string{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*r = many
	return nil
}

type printRequest struct {
	RestaurantID restaurantID `json:"restaurantId" binding:"required"`
	Order        OrderPayload `json:"order" binding:"required"`
}

type printResponse struct {
	OK     bool     `json:"ok"`
	Tokens []string `json:"tokens,omitempty"`
	Error  string   `json:"error,omitempty"`
}

// IntakeHandler implements POST /api/print (§4.F.1). Grounded on the
// teacher's JobHandler.CreateJob (internal/api/handlers/jobs.go): same
// validate-then-enqueue-then-return-immediately shape, adapted from one
// job per request to a fan-out of one job per tenant sharing a single
// render.
type IntakeHandler struct {
	registry  *core.DeviceRegistry
	store     *core.JobStore
	broker    *render.Broker
	templater Templater
	audit     audit.Sink
	loader    *configsource.Loader
}

func NewIntakeHandler(registry *core.DeviceRegistry, store *core.JobStore, broker *render.Broker, templater Templater, sink audit.Sink, loader *configsource.Loader) *IntakeHandler {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &IntakeHandler{registry: registry, store: store, broker: broker, templater: templater, audit: sink, loader: loader}
}

func (h *IntakeHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/api/print", h.Print)
}

func (h *IntakeHandler) Print(c *gin.Context) {
	var req printRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, printResponse{OK: false, Error: err.Error()})
		return
	}

	// A tenant onboarded moments ago may not have reached the registry via
	// the periodic 5-minute pull yet. RefreshNow is throttled to once per
	// 30s (configsource.refreshThrottle) so a burst of intake traffic
	// can't turn this into a request-rate poll of the remote source.
	if h.loader != nil {
		h.loader.RefreshNow()
	}

	unknown := h.unknownTenants(req.RestaurantID)
	if len(unknown) > 0 {
		c.JSON(http.StatusNotFound, printResponse{OK: false, Error: fmt.Sprintf("Unknown restaurantId(s): %s", strings.Join(unknown, ", "))})
		return
	}

	meta := extractMetadata(req.Order)

	tokens := make([]string, 0, len(req.RestaurantID))
	for _, tenant := range req.RestaurantID {
		tokens = append(tokens, h.store.Create(tenant, meta))
	}

	now := time.Now()
	correlationID := audit.NewCorrelationID()
	for i, tenant := range req.RestaurantID {
		h.audit.Record(audit.Event{ID: correlationID, Time: now, Kind: "job_created", Tenant: tenant, Token: tokens[i]})
	}

	html, err := h.templater.Render(req.Order)
	if err != nil {
		for _, token := range tokens {
			h.store.MarkRenderFailed(token)
		}
		c.JSON(http.StatusAccepted, printResponse{OK: true, Tokens: tokens})
		return
	}

	h.broker.Submit(context.Background(), tokens, html)
	c.JSON(http.StatusAccepted, printResponse{OK: true, Tokens: tokens})
}

// unknownTenants finds every requested tenant the registry has no serial
// mapping for. Order preserved from the request for a stable error
// message.
func (h *IntakeHandler) unknownTenants(tenants []string) []string {
	knownTenants := make(map[string]bool)
	for _, serial := range h.registry.Serials() {
		for _, t := range h.registry.TenantsFor(serial) {
			knownTenants[t] = true
		}
	}

	var unknown []string
	for _, t := range tenants {
		if !knownTenants[t] {
			unknown = append(unknown, t)
		}
	}
	return unknown
}

func extractMetadata(order OrderPayload) core.Metadata {
	str := func(key string) string {
		if v, ok := order[key].(string); ok {
			return v
		}
		return ""
	}
	return core.Metadata{
		CustomerName: str("customer_name"),
		OrderNumber:  str("order_number"),
		OrderID:      str("order_id"),
	}
}
