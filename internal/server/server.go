package server

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/strefethen/timelineresolver-go/internal/api"
	"github.com/strefethen/timelineresolver-go/internal/audit"
	"github.com/strefethen/timelineresolver-go/internal/auth"
	"github.com/strefethen/timelineresolver-go/internal/clock"
	"github.com/strefethen/timelineresolver-go/internal/conductor"
	"github.com/strefethen/timelineresolver-go/internal/config"
	"github.com/strefethen/timelineresolver-go/internal/db"
	"github.com/strefethen/timelineresolver-go/internal/device"
	"github.com/strefethen/timelineresolver-go/internal/httpdevice"
	"github.com/strefethen/timelineresolver-go/internal/timeline"
	"github.com/strefethen/timelineresolver-go/internal/videoserver"
	"github.com/strefethen/timelineresolver-go/internal/wsstatus"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack implements http.Hijacker for WebSocket support
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if hijacker, ok := rw.ResponseWriter.(http.Hijacker); ok {
		return hijacker.Hijack()
	}
	return nil, nil, http.ErrNotSupported
}

// requestLoggerMiddleware logs all incoming HTTP requests
func requestLoggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		log.Printf("%s %s %d %s", r.Method, r.URL.RequestURI(), wrapped.status, time.Since(start).Round(time.Millisecond))
	})
}

// Options controls server wiring.
type Options struct {
	// Manifest overrides loading cfg.DevicesManifestPath, for tests.
	Manifest *config.Manifest
	// Collaborators supplies the protocol client for each video-server
	// device, keyed by device id. Entries without a collaborator are
	// skipped with a warning.
	Collaborators map[string]videoserver.Collaborator
	// DisableResync skips starting the cron resync runner.
	DisableResync bool
}

// NewHandler builds the HTTP handler and returns a shutdown function.
func NewHandler(cfg config.Config, options Options) (http.Handler, func(context.Context) error, error) {
	log.Printf("Using database: %s", cfg.SQLiteDBPath)
	dbPair, err := db.Init(cfg.SQLiteDBPath)
	if err != nil {
		return nil, nil, err
	}

	manifest := options.Manifest
	if manifest == nil {
		loaded, err := config.LoadManifest(cfg.DevicesManifestPath)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		manifest = &loaded
	}

	auditService := audit.NewService(cfg, dbPair, nil)

	mappings := make(timeline.MappingTable, len(manifest.Mappings))
	for layerID, m := range manifest.Mappings {
		mappings[layerID] = timeline.Mapping{
			Device:   timeline.DeviceKind(m.Device),
			DeviceID: m.DeviceID,
			Options:  m.Options,
		}
	}

	cond := conductor.New(mappings, nil)
	hub := wsstatus.NewHub(nil)

	for _, dc := range manifest.Devices {
		if err := registerDevice(cfg, cond, hub, auditService, dc, options); err != nil {
			dbPair.Close()
			return nil, nil, fmt.Errorf("device %s: %w", dc.ID, err)
		}
	}

	router := chi.NewRouter()
	router.Use(middleware.StripSlashes)
	router.Use(requestLoggerMiddleware)
	router.Use(api.RequestIDMiddleware)
	router.Use(api.RecovererMiddleware)
	router.Use(auth.Middleware(cfg))

	registerHealthRoutes(router)
	auth.RegisterRoutes(router, cfg)
	audit.RegisterRoutes(router, auditService)
	conductor.RegisterRoutes(router, cond)
	wsstatus.RegisterRoutes(router, hub, func(deviceID string) bool {
		_, ok := cond.Device(deviceID)
		return ok
	})

	auditService.StartPruneJob()

	var resyncRunner *conductor.ResyncRunner
	if cfg.ResyncCron != "" && !options.DisableResync {
		resyncRunner, err = conductor.NewResyncRunner(cond, cfg.ResyncCron, nil)
		if err != nil {
			dbPair.Close()
			return nil, nil, err
		}
		resyncRunner.Start()
	}

	shutdown := func(ctx context.Context) error {
		if resyncRunner != nil {
			resyncRunner.Stop()
		}
		if ctx == nil {
			ctx = context.Background()
		}
		cond.TerminateAll(ctx)
		hub.Close()
		auditService.StopPruneJob()
		return dbPair.Close()
	}

	return router, shutdown, nil
}

// registerDevice builds, initializes and registers one façade from its
// manifest entry.
func registerDevice(cfg config.Config, cond *conductor.Conductor, hub *wsstatus.Hub, auditService *audit.Service, dc config.DeviceConfig, options Options) error {
	signals := wsstatus.SignalsFor(hub, dc.ID, auditSignals(auditService, dc.ID))

	opts := device.InitOptions{
		ResendTimeMs:       dc.ResendTimeMs,
		MakeReadyDoesReset: dc.MakeReadyDoesReset,
		UseScheduling:      dc.UseScheduling,
		TimeBase:           dc.TimeBase,
		GatewayURL:         dc.GatewayURL,
		ISAUrl:             dc.ISAUrl,
		ZoneID:             dc.ZoneID,
		ServerID:           dc.ServerID,
	}
	if opts.ResendTimeMs == 0 {
		opts.ResendTimeMs = cfg.DefaultResendTimeMs
	}

	switch timeline.DeviceKind(dc.Kind) {
	case httpdevice.KindHTTP:
		for _, entry := range dc.MakeReadyCommands {
			if cmd, ok := httpdevice.CommandFromConfig(entry); ok {
				opts.MakeReadyCommands = append(opts.MakeReadyCommands, cmd)
			}
		}
		facade := httpdevice.NewFacade(dc.ID, httpdevice.NewHTTPSender(0), clock.Real(), signals)
		facade.Queue.SetSlowThreshold(time.Duration(cfg.QueueSlowCommandMs) * time.Millisecond)
		if err := facade.Init(context.Background(), opts); err != nil {
			return err
		}
		return cond.Register(dc.ID, httpdevice.KindHTTP, facade)

	case videoserver.KindVideoServer:
		collab, ok := options.Collaborators[dc.ID]
		if !ok {
			log.Printf("SERVER: no protocol collaborator wired for video-server device %s, skipping", dc.ID)
			return nil
		}
		facade := videoserver.NewFacade(dc.ID, collab, clock.Real(), signals)
		facade.Queue.SetSlowThreshold(time.Duration(cfg.QueueSlowCommandMs) * time.Millisecond)
		if cfg.ClipCacheTTLSeconds > 0 {
			facade.SetClipCacheTTL(time.Duration(cfg.ClipCacheTTLSeconds) * time.Second)
		}
		if err := facade.Init(context.Background(), opts); err != nil {
			return err
		}
		return cond.Register(dc.ID, videoserver.KindVideoServer, facade)

	default:
		return fmt.Errorf("unknown device kind %q", dc.Kind)
	}
}

// auditSignals records façade events into the audit log.
func auditSignals(auditService *audit.Service, deviceID string) device.Signals {
	record := func(eventType audit.EventType, level audit.EventLevel, message string, payload map[string]any) {
		lvl := level
		if _, err := auditService.RecordEvent(audit.WriteEventInput{
			Type:     string(eventType),
			Level:    &lvl,
			DeviceID: &deviceID,
			Message:  message,
			Payload:  payload,
		}); err != nil {
			log.Printf("SERVER: audit write failed for %s: %v", deviceID, err)
		}
	}

	return device.Signals{
		OnError: func(source string, err error) {
			record(audit.EventSystemError, audit.EventLevelError, err.Error(), map[string]any{"source": source})
		},
		OnWarning: func(msg string) {
			record(audit.EventSystemError, audit.EventLevelWarn, msg, nil)
		},
		OnCommandError: func(err error, commandContext string) {
			record(audit.EventCommandFailed, audit.EventLevelError, err.Error(), map[string]any{"context": commandContext})
		},
		OnConnectionChanged: func(status device.Status) {
			eventType := audit.EventDeviceConnected
			level := audit.EventLevelInfo
			if status.Code == device.StatusBad {
				eventType = audit.EventDeviceDisconnected
				level = audit.EventLevelWarn
			}
			record(eventType, level, "connection status: "+string(status.Code), map[string]any{
				"messages": status.Messages,
				"active":   status.Active,
			})
		},
		OnSlowCommand: func(msg string) {
			record(audit.EventSystemError, audit.EventLevelWarn, msg, nil)
		},
	}
}

func registerHealthRoutes(router chi.Router) {
	router.Method(http.MethodGet, "/v1/health", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		response := map[string]any{
			"status":    "healthy",
			"service":   "timeline-resolver",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}
		return api.WriteJSON(w, http.StatusOK, response)
	}))
	router.Method(http.MethodGet, "/v1/health/live", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	}))
	router.Method(http.MethodGet, "/v1/health/ready", api.Handler(func(w http.ResponseWriter, r *http.Request) error {
		return api.WriteJSON(w, http.StatusOK, map[string]any{"status": "ready"})
	}))
}
