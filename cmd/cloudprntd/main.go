// Command cloudprntd is the print-dispatch process: it wires together
// the device registry, job store, presence tracker, sweeper, render
// broker, and HTTP surface, then serves until told to stop.
package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/orrn/cloudprnt/internal/api"
	"github.com/orrn/cloudprnt/internal/api/middleware"
	"github.com/orrn/cloudprnt/internal/audit"
	"github.com/orrn/cloudprnt/internal/config"
	"github.com/orrn/cloudprnt/internal/configsource"
	"github.com/orrn/cloudprnt/internal/core"
	"github.com/orrn/cloudprnt/internal/db"
	"github.com/orrn/cloudprnt/internal/render"
)

func main() {
	logger := log.New(os.Stdout, "[cloudprntd] ", log.LstdFlags|log.LUTC)

	configPath := os.Getenv("CLOUDPRNT_CONFIG")
	if configPath == "" {
		configPath = "./config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	config.ApplyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("invalid config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	sink := audit.NewDBSink(store, 100, 2)
	defer sink.Stop()

	registry := core.NewDeviceRegistry()
	history := core.NewHistory()
	jobStore := core.NewJobStore(registry, history)
	presence := core.NewPresenceTracker()

	sweeper := core.NewSweeper(jobStore, cfg.Dispatch.OfferTimeout, cfg.Dispatch.SentTimeout, func(rewound []core.RewoundJob) {
		now := time.Now()
		for _, r := range rewound {
			sink.Record(audit.Event{Time: now, Kind: "job_requeued", Tenant: r.Tenant, Serial: r.Serial, Token: r.Token})
		}
	})
	sweeper.Start()
	defer sweeper.Stop()

	var renderer render.Renderer
	if cfg.Render.Endpoint != "" {
		renderer = render.NewHTTPRenderer(cfg.Render.Endpoint, cfg.Render.Timeout)
	} else {
		logger.Printf("no render endpoint configured, using stub renderer")
		renderer = render.NewStubRenderer()
	}
	broker := render.NewBroker(renderer, jobStore, cfg.Render.Concurrency)

	fallback := make([]configsource.Entry, 0, len(cfg.ConfigSource.Fallback))
	for _, e := range cfg.ConfigSource.Fallback {
		fallback = append(fallback, configsource.Entry{Tenant: e.Tenant, Serial: e.Serial})
	}
	loader := configsource.NewLoader(cfg.ConfigSource.URL, cfg.ConfigSource.Interval, fallback, registry)
	loader.Start()
	defer loader.Stop()

	auth, err := middleware.NewAuth(store)
	if err != nil {
		logger.Fatalf("failed to initialize admin auth: %v", err)
	}

	templater, err := api.NewHTMLTemplater()
	if err != nil {
		logger.Fatalf("failed to initialize templater: %v", err)
	}

	router := &api.Router{
		Auth:     auth,
		Dispatch: api.NewDispatchHandler(registry, jobStore, presence, sink, cfg.Dispatch.OfferTimeout, cfg.Dispatch.SentTimeout),
		Intake:   api.NewIntakeHandler(registry, jobStore, broker, templater, sink, loader),
		Query:    api.NewQueryHandler(registry, jobStore, presence, history),
		Admin:    api.NewAdminHandler(loader, sink, store),
	}
	engine := router.Build()

	httpHandler := http.Handler(engine)
	if cfg.Server.ForceHTTPToHTTPS {
		httpHandler = redirectToHTTPS(cfg.Server.HTTPSPort)
	}

	server := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           httpHandler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Printf("listening on %s", server.Addr)
		errChan <- server.ListenAndServe()
	}()

	var httpsServer *http.Server
	if cfg.Server.HTTPSPort != 0 && cfg.Server.TLSCertPath != "" && cfg.Server.TLSKeyPath != "" {
		httpsServer = &http.Server{
			Addr:              ":" + strconv.Itoa(cfg.Server.HTTPSPort),
			Handler:           engine,
			ReadTimeout:       cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Printf("listening on %s (tls)", httpsServer.Addr)
			errChan <- httpsServer.ListenAndServeTLS(cfg.Server.TLSCertPath, cfg.Server.TLSKeyPath)
		}()
	}

	select {
	case <-ctx.Done():
		logger.Printf("shutdown signal received")
	case err := <-errChan:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Printf("server failed: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Printf("graceful shutdown of http server failed: %v", err)
	}
	if httpsServer != nil {
		if err := httpsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("graceful shutdown of https server failed: %v", err)
		}
	}

	broker.Wait()
	logger.Printf("shutdown complete")
}

// redirectToHTTPS answers every plain-HTTP request with a 301 to the same
// host and path on httpsPort. Used as the HTTP server's handler in place
// of the gin engine when FORCE_HTTP_TO_HTTPS is set.
func redirectToHTTPS(httpsPort int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host := r.Host
		if h, _, err := net.SplitHostPort(host); err == nil {
			host = h
		}
		target := "https://" + net.JoinHostPort(host, strconv.Itoa(httpsPort)) + r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}
