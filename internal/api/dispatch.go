package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/audit"
	"github.com/orrn/cloudprnt/internal/core"
)

const serialHeader = "X-Star-Serial-Number"

const acceptedMediaType = "image/png"

// DispatchHandler implements the three printer-facing /cloudprnt verbs.
// Grounded on the teacher's JobHandler (internal/api/handlers/jobs.go):
// same struct-holds-collaborators-plus-RegisterRoutes shape, generalized
// from a SQL-backed job queue to the in-memory core.JobStore.
type DispatchHandler struct {
	registry     *core.DeviceRegistry
	store        *core.JobStore
	presence     *core.PresenceTracker
	audit        audit.Sink
	offerTimeout time.Duration
	sentTimeout  time.Duration
}

func NewDispatchHandler(registry *core.DeviceRegistry, store *core.JobStore, presence *core.PresenceTracker, sink audit.Sink, offerTimeout, sentTimeout time.Duration) *DispatchHandler {
	if sink == nil {
		sink = audit.NoopSink{}
	}
	return &DispatchHandler{
		registry:     registry,
		store:        store,
		presence:     presence,
		audit:        sink,
		offerTimeout: offerTimeout,
		sentTimeout:  sentTimeout,
	}
}

func (h *DispatchHandler) RegisterRoutes(r gin.IRoutes) {
	r.POST("/cloudprnt", h.Poll)
	r.GET("/cloudprnt", h.Fetch)
	r.DELETE("/cloudprnt", h.Confirm)
}

type pollResponse struct {
	JobReady     bool     `json:"jobReady"`
	JobToken     string   `json:"jobToken,omitempty"`
	MediaTypes   []string `json:"mediaTypes,omitempty"`
	DeleteMethod string   `json:"deleteMethod,omitempty"`
}

// Poll handles POST /cloudprnt. Presence is only recorded for serials the
// registry recognizes, so typo'd or third-party probes never accumulate
// state.
func (h *DispatchHandler) Poll(c *gin.Context) {
	serial := c.GetHeader(serialHeader)
	now := time.Now()

	if serial == "" || !h.registry.Known(serial) {
		c.JSON(http.StatusOK, pollResponse{JobReady: false})
		return
	}

	h.presence.MarkSeen(serial, c.ClientIP(), now)
	h.auditRewinds(h.store.SweepSerial(serial, now, h.offerTimeout, h.sentTimeout), now)

	job := h.store.SelectForSerial(serial, now)
	if job == nil {
		c.JSON(http.StatusOK, pollResponse{JobReady: false})
		return
	}

	h.audit.Record(audit.Event{Time: now, Kind: "job_offered", Tenant: job.Tenant, Serial: serial, Token: job.Token})
	c.JSON(http.StatusOK, pollResponse{
		JobReady:     true,
		JobToken:     job.Token,
		MediaTypes:   []string{acceptedMediaType},
		DeleteMethod: http.MethodDelete,
	})
}

// Fetch handles GET /cloudprnt?token=...&type=.... A not-yet-rendered
// job returns 200 {jobReady:false} rather than 404 or 202, matching
// firmware behaviour that must be preserved bit-exact per spec.
func (h *DispatchHandler) Fetch(c *gin.Context) {
	token := c.Query("token")
	mediaType := c.Query("type")

	if mediaType != acceptedMediaType {
		c.Status(http.StatusUnsupportedMediaType)
		return
	}

	job, err := h.store.Peek(token)
	if err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	if job.Content == nil {
		c.JSON(http.StatusOK, pollResponse{JobReady: false})
		return
	}

	now := time.Now()
	if err := h.store.Transition(token, core.StatusSent, now); err != nil {
		c.Status(http.StatusNotFound)
		return
	}

	if job.Status == core.StatusQueued {
		// Fetched without ever being offered: served, but recorded.
		h.audit.Record(audit.Event{Time: now, Kind: "protocol_violation", Tenant: job.Tenant, Serial: job.Serial, Token: token, Detail: "fetched_while_queued"})
	}
	h.audit.Record(audit.Event{Time: now, Kind: "job_sent", Tenant: job.Tenant, Serial: job.Serial, Token: token})
	c.Data(http.StatusOK, acceptedMediaType, job.Content)
}

// Confirm handles DELETE /cloudprnt?token=...&code=.... Always 200,
// including for unknown tokens, so a job that already aged out via the
// sweeper doesn't trigger a printer-side retry storm.
func (h *DispatchHandler) Confirm(c *gin.Context) {
	token := c.Query("token")
	code := c.Query("code")
	now := time.Now()

	job, err := h.store.Peek(token)
	if err != nil {
		c.Status(http.StatusOK)
		return
	}

	if isSuccessCode(code) {
		if err := h.store.Transition(token, core.StatusDone, now); err == nil {
			h.audit.Record(audit.Event{Time: now, Kind: "job_confirmed", Tenant: job.Tenant, Serial: job.Serial, Token: token})
		}
	} else {
		if err := h.store.Transition(token, core.StatusQueued, now); err == nil {
			h.audit.Record(audit.Event{Time: now, Kind: "job_rejected", Tenant: job.Tenant, Serial: job.Serial, Token: token, Detail: code})
		}
	}
	c.Status(http.StatusOK)
}

// auditRewinds records one "job_requeued" event per job the sweep just
// pulled back to queued, matching the "requeued" stage JobStore already
// writes to History for the same transition. Automatic, timeout-driven
// requeues (a printer that went silent mid-offer or mid-fetch) are
// otherwise invisible to the audit trail: job_rejected only covers the
// DELETE-driven path in Confirm above.
func (h *DispatchHandler) auditRewinds(rewound []core.RewoundJob, now time.Time) {
	for _, r := range rewound {
		h.audit.Record(audit.Event{Time: now, Kind: "job_requeued", Tenant: r.Tenant, Serial: r.Serial, Token: r.Token})
	}
}

// isSuccessCode matches the CloudPRNT firmware's success-code vocabulary:
// "OK", "200 OK", "200", or anything starting with "2", case-insensitive.
func isSuccessCode(code string) bool {
	upper := strings.ToUpper(strings.TrimSpace(code))
	if upper == "OK" {
		return true
	}
	return strings.HasPrefix(upper, "2")
}
