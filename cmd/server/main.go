package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"landkeeper/pkg/admin"
	"landkeeper/pkg/config"
	"landkeeper/pkg/dungeon"
	"landkeeper/pkg/land"
	"landkeeper/pkg/metrics"
	"landkeeper/pkg/realm"
	"landkeeper/pkg/replay"
	"landkeeper/pkg/sessionregistry"
	"landkeeper/pkg/transport"
	"landkeeper/pkg/validation"
)

func main() {
	cfg := loadAndConfigureSystem()

	services := land.NewSystemServices(0)
	registry := realm.NewRegistry(services)
	registerLandTypes(cfg, registry)
	configureReplayRecording(cfg, registry)

	// No bearer-token authenticator is passed to the adapter: outside dev
	// mode the adapter requires authentication, so every join is rejected;
	// in dev mode a join's self-declared PlayerID is accepted as-is.
	adapter := transport.NewAdapter(registry, nil, nil, !cfg.EnableDevMode)
	adapter.SetValidator(validation.NewFrameValidator(cfg.MaxFrameSize))
	adapter.SetRateLimit(cfg.RateLimitEnabled, cfg.RateLimitRequestsPerSecond, cfg.RateLimitBurst)
	sessionReg := configureSessionRegistry(cfg, adapter)

	mux := chi.NewRouter()
	mux.Get("/ws", websocketHandler(cfg, adapter))
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	adminSrv := buildAdminServer(cfg, registry)

	lifecycleCtx, cancelLifecycle := context.WithCancel(context.Background())
	defer cancelLifecycle()
	go registry.RunIdleReaper(lifecycleCtx, 30*time.Second)
	if cfg.EnableReplayRecording && cfg.ReplayDir != "" {
		go registry.RunRecordFlusher(lifecycleCtx, cfg.MetricsInterval)
	}
	if sessionReg != nil {
		go forwardKicks(lifecycleCtx, sessionReg, adapter)
	}

	executeServerLifecycle(cfg, srv, adminSrv)
}

// loadAndConfigureSystem loads configuration and sets up logging.
func loadAndConfigureSystem() *config.Config {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	configureLogging(cfg.LogLevel)
	logStartupInfo(cfg)
	return cfg
}

// configureLogging sets up the logging system based on configuration.
func configureLogging(logLevel string) {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		logrus.WithError(err).Warn("Invalid log level, using info")
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}

// logStartupInfo logs server startup information.
func logStartupInfo(cfg *config.Config) {
	logrus.WithFields(logrus.Fields{
		"listenAddr":      cfg.ListenAddr,
		"adminListenAddr": cfg.AdminListenAddr,
		"logLevel":        cfg.LogLevel,
		"devMode":         cfg.EnableDevMode,
		"replayRecording": cfg.EnableReplayRecording,
		"nodeID":          cfg.NodeID,
	}).Info("Starting LandKeeper server")
}

// registerLandTypes registers every known Land type with the Realm,
// preferring a per-landType YAML config from LandConfigDir over
// land.DefaultConfig.
func registerLandTypes(cfg *config.Config, registry *realm.Registry) {
	landCfgs, err := config.LoadLandConfigs(cfg.LandConfigDir)
	if err != nil {
		logrus.WithError(err).WithField("dir", cfg.LandConfigDir).
			Warn("no per-landType config loaded, falling back to defaults")
		landCfgs = map[string]land.Config{}
	}

	dungeonCfg, ok := landCfgs["dungeon"]
	if !ok {
		dungeonCfg = land.DefaultConfig()
	}
	if err := registry.Register("dungeon", dungeon.NewDefinition, dungeonCfg); err != nil {
		logrus.WithError(err).Fatal("Failed to register dungeon land type")
	}
}

// configureReplayRecording attaches a RecorderFactory and record directory
// to registry when replay recording is enabled; a deployment with it off
// leaves both unset and every Keeper runs unrecorded.
func configureReplayRecording(cfg *config.Config, registry *realm.Registry) {
	if !cfg.EnableReplayRecording || cfg.ReplayDir == "" {
		return
	}
	if err := os.MkdirAll(cfg.ReplayDir, 0o755); err != nil {
		logrus.WithError(err).Fatal("Failed to create replay directory")
	}

	registry.SetRecorderFactory(func(landID, landType string) realm.Recorder {
		return replay.NewRecorder(replay.NewHeader(landType, landID))
	})
	registry.SetRecordDir(cfg.ReplayDir)
}

// configureSessionRegistry builds the multi-node single-session registry
// when NodeID is set, wiring it into the Adapter as its SessionClaimer.
// Returns nil for a single-node deployment (the default), in which case
// the Adapter enforces nothing beyond its own local join bookkeeping.
func configureSessionRegistry(cfg *config.Config, adapter *transport.Adapter) *sessionregistry.Registry {
	if cfg.NodeID == "" {
		return nil
	}

	store, err := sessionregistry.NewFileStore("./data/sessions")
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize session registry store")
	}
	inbox := sessionregistry.NewMemoryInbox()

	regCfg := sessionregistry.DefaultConfig()
	regCfg.TTL = cfg.SessionLeaseTTL
	regCfg.HeartbeatInterval = cfg.SessionHeartbeatInterval

	sessionReg := sessionregistry.NewRegistry(cfg.NodeID, store, inbox, regCfg)
	adapter.SetSessionClaimer(sessionReg)
	return sessionReg
}

// forwardKicks drains a multi-node session registry's kick feed and
// force-closes the named player's locally-joined session, the node-local
// half of a lease handoff to another node.
func forwardKicks(ctx context.Context, sessionReg *sessionregistry.Registry, adapter *transport.Adapter) {
	kicks, unsubscribe := sessionReg.Kicks()
	defer unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-kicks:
			if !ok {
				return
			}
			adapter.KickPlayer(msg.PlayerID, "session claimed by another node")
		}
	}
}

func websocketHandler(cfg *config.Config, adapter *transport.Adapter) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if !cfg.OriginAllowed(origin) {
				logrus.WithField("origin", origin).Warn("WebSocket connection rejected: origin not allowed")
				return false
			}
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logrus.WithError(err).Warn("WebSocket upgrade failed")
			return
		}
		conn := transport.NewWebSocketConn(wsConn, 10*time.Second)
		go adapter.Accept(conn)
	}
}

// buildAdminServer constructs the Admin HTTP API when AdminListenAddr is
// set; returns nil otherwise so executeServerLifecycle skips it entirely.
func buildAdminServer(cfg *config.Config, registry *realm.Registry) *http.Server {
	if cfg.AdminListenAddr == "" {
		return nil
	}

	var records admin.RecordStore
	if cfg.EnableReplayRecording && cfg.ReplayDir != "" {
		records = replayRecordStore{dir: cfg.ReplayDir}
	}

	adminServer := admin.NewServer(registry, records, admin.Config{
		APIKey:    cfg.AdminAPIKey,
		JWTSecret: cfg.AdminJWTSecret,
	})
	return &http.Server{Addr: cfg.AdminListenAddr, Handler: adminServer}
}

// replayRecordStore reads a landID's persisted replay record back off disk,
// using the same landID-to-filename convention realm.Registry wrote it
// under.
type replayRecordStore struct {
	dir string
}

func (s replayRecordStore) ReadRecord(landID string) ([]byte, error) {
	path := fmt.Sprintf("%s/%s", s.dir, realm.RecordFilename(landID))
	return os.ReadFile(path)
}

// executeServerLifecycle handles the complete server lifecycle including
// startup and graceful shutdown of both the client-facing and admin HTTP
// servers.
func executeServerLifecycle(cfg *config.Config, srv, adminSrv *http.Server) {
	sigChan, errChan := setupShutdownHandling()
	startServerAsync(srv, "client", errChan)
	if adminSrv != nil {
		startServerAsync(adminSrv, "admin", errChan)
	}
	waitForShutdownSignal(sigChan, errChan)
	performGracefulShutdown(cfg, srv, adminSrv)
}

// setupShutdownHandling creates channels for graceful shutdown signal handling.
func setupShutdownHandling() (chan os.Signal, chan error) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	errChan := make(chan error, 1)
	return sigChan, errChan
}

// startServerAsync starts an HTTP server in a background goroutine.
func startServerAsync(srv *http.Server, name string, errChan chan error) {
	go func() {
		logrus.WithFields(logrus.Fields{"server": name, "address": srv.Addr}).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("%s server failed: %w", name, err)
		}
	}()
}

// waitForShutdownSignal waits for either a shutdown signal or server error.
func waitForShutdownSignal(sigChan chan os.Signal, errChan chan error) {
	select {
	case sig := <-sigChan:
		logrus.WithField("signal", sig).Info("received shutdown signal")
	case err := <-errChan:
		logrus.WithError(err).Error("server error")
	}
}

// performGracefulShutdown shuts down both HTTP servers within the
// configured shutdown timeout, then waits out the configured grace
// period before returning.
func performGracefulShutdown(cfg *config.Config, srv, adminSrv *http.Server) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	logrus.Info("shutting down server gracefully...")

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("error shutting down client server")
	}
	if adminSrv != nil {
		if err := adminSrv.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("error shutting down admin server")
		}
	}

	time.Sleep(cfg.ShutdownGracePeriod)
	logrus.Info("server shutdown completed")
}
