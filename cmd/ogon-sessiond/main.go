// ogon-sessiond is the remote-desktop session manager daemon: it brokers
// authentication, launches backend display modules, and relays RPCs
// between the RDP front end, backend modules and the OTSAPI administrative
// surface (spec.md §1-2).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"connectrpc.com/grpchealth"
	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/config"
	"github.com/ogon-project/ogon-sessiond/internal/logon"
	"github.com/ogon-project/ogon-sessiond/internal/metrics"
	"github.com/ogon-project/ogon-sessiond/internal/module"
	"github.com/ogon-project/ogon-sessiond/internal/module/greeter"
	"github.com/ogon-project/ogon-sessiond/internal/module/x11dummy"
	"github.com/ogon-project/ogon-sessiond/internal/notify"
	"github.com/ogon-project/ogon-sessiond/internal/otsapi"
	"github.com/ogon-project/ogon-sessiond/internal/procmon"
	"github.com/ogon-project/ogon-sessiond/internal/rpcengine"
	"github.com/ogon-project/ogon-sessiond/internal/session"
	"github.com/ogon-project/ogon-sessiond/internal/token"
	appversion "github.com/ogon-project/ogon-sessiond/internal/version"
)

// shutdownTimeout is the maximum time to wait for HTTP servers to drain
// active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// tokenScratchDir is where session auth tokens are persisted (spec.md §6:
// "/tmp/ogon.session.<sessionId>") and purged from at startup (spec.md
// §4.8: "the store purges stale token files in a known scratch directory").
const tokenScratchDir = "/tmp"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("ogon-sessiond starting",
		slog.String("version", appversion.Version),
		slog.String("rpc_endpoint", cfg.RPC.Endpoint),
		slog.String("otsapi_addr", cfg.OTSAPI.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	app, err := newApplication(cfg, logger, collector)
	if err != nil {
		logger.Error("failed to build application", slog.String("error", err.Error()))
		return 1
	}

	if err := runServers(cfg, app, reg, logger); err != nil {
		logger.Error("ogon-sessiond exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("ogon-sessiond stopped")
	return 0
}

// application bundles the collaborators that make up the running daemon:
// the session/connection stores, module registry, token store, the logon
// orchestrator, the process monitor and the two external transports
// (rpcengine's backend-module server and otsapi's admin HTTP surface).
type application struct {
	sessions    *session.Store
	connections *session.ConnectionStore
	tokens      *token.Store
	modules     *module.Manager
	mgr         *logon.Manager
	monitor     *procmon.Monitor
	rpcServer   *rpcengine.Server
	otsapiSrv   *otsapi.Server
}

// newApplication wires every internal package together, following
// spec.md §2's data-flow description end to end: property store and
// token/permission store are leaves; session/connection stores sit on top
// of the module manager and notifier; the logon manager ties all of it
// into the call-routing contract internal/rpcengine.Router expects; the
// process monitor and otsapi surface are built last since they depend on
// the logon manager's exported collaborator methods.
func newApplication(cfg *config.Config, logger *slog.Logger, collector *metrics.Collector) (*application, error) {
	notifier, err := notify.NewDBusNotifier(logger)
	var sessionNotifier session.Notifier = notifier
	if err != nil {
		logger.Warn("dbus session notifier unavailable, falling back to no-op",
			slog.String("error", err.Error()))
		sessionNotifier = notify.NoopNotifier{}
	}

	modules := module.New(nil)

	sessions := session.NewStore(sessionNotifier, modules)
	connections := session.NewConnectionStore()

	tokens := token.New(token.WithScratchDir(tokenScratchDir))
	if err := tokens.PurgeStaleTokenFiles(); err != nil {
		logger.Warn("failed to purge stale token files", slog.String("error", err.Error()))
	}

	properties := config.NewPropertyStore()
	seedProperties(properties, cfg)

	// logon.Manager depends only on sessions/connections/tokens/modules/
	// properties, not on the process monitor, so it can be built before
	// the monitor and handed to it as the monitor's two collaborators
	// (spec §4.7: TaskEnd enqueueing and the current-context causality
	// check both resolve back through the session store the manager
	// already owns).
	mgr := logon.NewManager(logon.Config{
		Sessions:      sessions,
		Connections:   connections,
		Tokens:        tokens,
		Modules:       modules,
		Properties:    properties,
		Environment:   cfg.Environment,
		Policy:        cfg.Session,
		DefaultModule: cfg.Modules.Default,
		Metrics:       collector,
		Logger:        logger,
	})

	monitor := procmon.New(logger, mgr, mgr)

	if err := registerModules(context.Background(), modules, monitor, cfg.Modules.Enabled); err != nil {
		return nil, fmt.Errorf("register modules: %w", err)
	}

	factory := call.NewFactory()
	rpcServer := rpcengine.NewServer(cfg.RPC.Endpoint, logger, factory, mgr)

	otsapiSrv := otsapi.New(otsapi.Config{
		Sessions:    sessions,
		Connections: connections,
		Tokens:      tokens,
		Properties:  properties,
		VChannels:   cfg.OTSAPI.VirtualChannels,
		Ender:       mgr,
		Logon:       mgr,
		Frontend:    otsapi.NewFrontend(rpcServer),
		Metrics:     collector,
		Logger:      logger,
	})

	return &application{
		sessions:    sessions,
		connections: connections,
		tokens:      tokens,
		modules:     modules,
		mgr:         mgr,
		monitor:     monitor,
		rpcServer:   rpcServer,
		otsapiSrv:   otsapiSrv,
	}, nil
}

// registerModules registers every built-in module named in enabled.
// Unrecognized names are rejected at config.Validate time; this function
// only handles the set this repo ships with (spec.md §4.6's greeter and a
// real backend's stand-in, x11dummy).
func registerModules(ctx context.Context, modules *module.Manager, monitor *procmon.Monitor, enabled []string) error {
	for _, name := range enabled {
		switch name {
		case "greeter":
			if err := modules.Register(ctx, name, module.KindBackend, greeter.New()); err != nil {
				return err
			}
		case "x11dummy":
			if err := modules.Register(ctx, name, module.KindBackend, x11dummy.New(monitor, "")); err != nil {
				return err
			}
		default:
			return fmt.Errorf("ogon-sessiond: unknown built-in module %q", name)
		}
	}
	return nil
}

// seedProperties loads the session policy config into the property store's
// global tier so property-lookup-driven code paths (spec.md §3) see the
// same values config.SessionConfig carries, under the dotted names
// spec.md §4.5/§4.8 name directly.
func seedProperties(store *config.PropertyStore, cfg *config.Config) {
	store.SetGlobalBool("session.reconnect", cfg.Session.Reconnect)
	store.SetGlobalBool("session.reconnect.fromSameClient", cfg.Session.ReconnectFromSameClient)
	store.SetGlobalBool("session.singleSession", cfg.Session.SingleSession)
	if cfg.Session.MaxWidth > 0 {
		store.SetGlobalNumber("session.maxX", int64(cfg.Session.MaxWidth))
	}
	if cfg.Session.MaxHeight > 0 {
		store.SetGlobalNumber("session.maxY", int64(cfg.Session.MaxHeight))
	}
}

// runServers sets up and runs the RPC server, OTSAPI HTTP server, metrics
// server and process monitor using an errgroup with signal-aware context
// for graceful shutdown, mirroring the teacher's runServers shape.
func runServers(cfg *config.Config, app *application, reg *prometheus.Registry, logger *slog.Logger) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	otsapiSrv := newOTSAPIServer(cfg.OTSAPI, app.otsapiSrv)

	if err := app.rpcServer.Start(); err != nil {
		return fmt.Errorf("start rpc server: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return app.rpcServer.Run(gCtx)
	})

	g.Go(func() error {
		app.monitor.Run(gCtx)
		return nil
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("otsapi server listening", slog.String("addr", cfg.OTSAPI.Addr))
		return listenAndServe(gCtx, &lc, otsapiSrv, cfg.OTSAPI.Addr)
	})
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path))
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, app, logger, otsapiSrv, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

func gracefulShutdown(ctx context.Context, app *application, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if err := app.rpcServer.Close(); err != nil {
		logger.Warn("failed to close rpc server", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping", slog.String("error", err.Error()))
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newOTSAPIServer builds the administrative HTTP server: the chi-routed
// JSON surface plus a standard gRPC health check (grpc.health.v1), mirroring
// the teacher's newGRPCServer shape. h2c lets plain HTTP/1.1 JSON clients
// (ogonsessctl, curl) and HTTP/2 health-check clients share one cleartext
// listener.
func newOTSAPIServer(cfg config.OTSAPIConfig, srv *otsapi.Server) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/", otsapi.NewHandler(srv))

	checker := grpchealth.NewStaticChecker(grpchealth.HealthV1ServiceName)
	mux.Handle(grpchealth.NewHandler(checker))

	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
