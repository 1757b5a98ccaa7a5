package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/orrn/cloudprnt/internal/configsource"
	"github.com/orrn/cloudprnt/internal/core"
	"github.com/orrn/cloudprnt/internal/render"
)

type instantRenderer struct{ payload []byte }

func (r *instantRenderer) Render(ctx context.Context, html string) ([]byte, error) {
	return r.payload, nil
}

func newTestIntake(t *testing.T, entries []core.ConfigEntry) (*gin.Engine, *core.JobStore) {
	t.Helper()
	router, store, _ := newTestIntakeWithLoader(t, entries, nil)
	return router, store
}

func newTestIntakeWithLoader(t *testing.T, entries []core.ConfigEntry, loader *configsource.Loader) (*gin.Engine, *core.JobStore, *core.DeviceRegistry) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	registry := core.NewDeviceRegistry()
	registry.ReplaceAll(entries)
	store := core.NewJobStore(registry, core.NewHistory())
	broker := render.NewBroker(&instantRenderer{payload: []byte("rendered")}, store, 2)
	templater, err := NewHTMLTemplater()
	if err != nil {
		t.Fatalf("templater: %v", err)
	}

	handler := NewIntakeHandler(registry, store, broker, templater, nil, loader)
	router := gin.New()
	handler.RegisterRoutes(router)
	return router, store, registry
}

func TestIntakeSingleTenant(t *testing.T) {
	router, store := newTestIntake(t, []core.ConfigEntry{{Tenant: "t1", Serial: "S1"}})

	body := `{"restaurantId":"t1","order":{"customer_name":"Ada"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/print", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", resp.Code, resp.Body.String())
	}

	var parsed printResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !parsed.OK || len(parsed.Tokens) != 1 {
		t.Fatalf("expected 1 token, got %+v", parsed)
	}

	deadline := 0
	for deadline < 100 {
		job, err := store.Peek(parsed.Tokens[0])
		if err == nil && job.Content != nil {
			return
		}
		time.Sleep(time.Millisecond)
		deadline++
	}
	t.Fatal("expected content attached to job after render")
}

func TestIntakeMultiTenantFanOutSharesContent(t *testing.T) {
	router, store := newTestIntake(t, []core.ConfigEntry{
		{Tenant: "tA", Serial: "S1"},
		{Tenant: "tB", Serial: "S1"},
		{Tenant: "tC", Serial: "S1"},
	})

	body := `{"restaurantId":["tA","tB","tC"],"order":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/print", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var parsed printResponse
	json.Unmarshal(resp.Body.Bytes(), &parsed)
	if len(parsed.Tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(parsed.Tokens))
	}

	seen := map[string]bool{}
	for _, tok := range parsed.Tokens {
		if seen[tok] {
			t.Fatalf("duplicate token %s", tok)
		}
		seen[tok] = true
	}

	// One render: every token ends up with the same content bytes.
	for _, tok := range parsed.Tokens {
		var content []byte
		for attempt := 0; attempt < 100 && content == nil; attempt++ {
			if job, err := store.Peek(tok); err == nil {
				content = job.Content
			}
			if content == nil {
				time.Sleep(time.Millisecond)
			}
		}
		if string(content) != "rendered" {
			t.Fatalf("token %s: expected shared rendered content, got %q", tok, content)
		}
	}
}

func TestIntakeRefreshesConfigSourceBeforeValidatingTenants(t *testing.T) {
	remote := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"tenant":"tNew","serial":"S1"}]`))
	}))
	defer remote.Close()

	registry := core.NewDeviceRegistry()
	loader := configsource.NewLoader(remote.URL, 0, nil, registry)
	store := core.NewJobStore(registry, core.NewHistory())
	broker := render.NewBroker(&instantRenderer{payload: []byte("rendered")}, store, 2)
	templater, err := NewHTMLTemplater()
	if err != nil {
		t.Fatalf("templater: %v", err)
	}
	handler := NewIntakeHandler(registry, store, broker, templater, nil, loader)
	router := gin.New()
	handler.RegisterRoutes(router)

	body := `{"restaurantId":"tNew","order":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/print", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202 once the on-demand refresh picks up tNew, got %d: %s", resp.Code, resp.Body.String())
	}
}

func TestIntakeUnknownTenantReturns404(t *testing.T) {
	router, _ := newTestIntake(t, []core.ConfigEntry{{Tenant: "t1", Serial: "S1"}})

	body := `{"restaurantId":"ghost","order":{}}`
	req := httptest.NewRequest(http.MethodPost, "/api/print", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", resp.Code, resp.Body.String())
	}
	var parsed printResponse
	json.Unmarshal(resp.Body.Bytes(), &parsed)
	if parsed.OK || !strings.Contains(parsed.Error, "ghost") {
		t.Fatalf("expected error naming bad tenant, got %+v", parsed)
	}
}
