package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/audit"
	"github.com/orrn/cloudprnt/internal/configsource"
	"github.com/orrn/cloudprnt/internal/core"
	"github.com/orrn/cloudprnt/internal/db"
)

var errBoom = errors.New("boom")

type recordingSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *recordingSink) Record(e audit.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) recorded() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Event, len(s.events))
	copy(out, s.events)
	return out
}

type fakeAuditReader struct {
	records []db.AuditRecord
	err     error
}

func (f *fakeAuditReader) RecentAuditEvents(limit int) ([]db.AuditRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	if limit > 0 && limit < len(f.records) {
		return f.records[:limit], nil
	}
	return f.records, nil
}

func TestReloadConfigRecordsAuditEventAndReturnsOK(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := core.NewDeviceRegistry()
	loader := configsource.NewLoader("", 0, []configsource.Entry{{Tenant: "t1", Serial: "S1"}}, registry)
	sink := &recordingSink{}

	handler := NewAdminHandler(loader, sink, &fakeAuditReader{})
	router := gin.New()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/config/reload", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		OK        bool `json:"ok"`
		PairCount int  `json:"pairCount"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.OK {
		t.Fatal("expected ok=true in response")
	}
	if body.PairCount != 1 {
		t.Fatalf("expected pairCount 1 from the fallback mapping, got %d", body.PairCount)
	}

	events := sink.recorded()
	if len(events) != 1 || events[0].Kind != "config_reload" {
		t.Fatalf("expected one config_reload event, got %+v", events)
	}
}

func TestReloadConfigWithNilSinkDoesNotPanic(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := core.NewDeviceRegistry()
	loader := configsource.NewLoader("", 0, nil, registry)

	handler := NewAdminHandler(loader, nil, &fakeAuditReader{})
	router := gin.New()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodPost, "/config/reload", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestAuditLogReturnsRecentEvents(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := core.NewDeviceRegistry()
	loader := configsource.NewLoader("", 0, nil, registry)
	reader := &fakeAuditReader{records: []db.AuditRecord{
		{ID: 2, Kind: "job_confirmed", Serial: "S1"},
		{ID: 1, Kind: "job_offered", Serial: "S1"},
	}}

	handler := NewAdminHandler(loader, nil, reader)
	router := gin.New()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var records []db.AuditRecord
	if err := json.Unmarshal(resp.Body.Bytes(), &records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 2 || records[0].Kind != "job_confirmed" {
		t.Fatalf("unexpected audit records: %+v", records)
	}
}

func TestAuditLogPropagatesReaderError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	registry := core.NewDeviceRegistry()
	loader := configsource.NewLoader("", 0, nil, registry)
	reader := &fakeAuditReader{err: errBoom}

	handler := NewAdminHandler(loader, nil, reader)
	router := gin.New()
	handler.RegisterRoutes(router)

	req := httptest.NewRequest(http.MethodGet, "/audit", nil)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
