// gonatd -- userspace NAT engine daemon.
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

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/dantte-lp/gonat/internal/admin"
	"github.com/dantte-lp/gonat/internal/config"
	natmetrics "github.com/dantte-lp/gonat/internal/metrics"
	"github.com/dantte-lp/gonat/internal/nat"
	"github.com/dantte-lp/gonat/internal/netio"
	appversion "github.com/dantte-lp/gonat/internal/version"
)

// shutdownTimeout bounds how long HTTP servers wait to drain active
// connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

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

	logger.Info("gonatd starting",
		slog.String("version", appversion.Version),
		slog.String("internal", cfg.NAT.Internal),
		slog.String("external_interface", cfg.NAT.External),
		slog.String("admin_addr", cfg.Admin.Addr),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	reg := prometheus.NewRegistry()
	collector := natmetrics.NewCollector(reg)

	table, engine, err := buildEngine(cfg, logger)
	if err != nil {
		logger.Error("failed to build NAT engine", slog.String("error", err.Error()))
		return 1
	}

	if err := runDaemon(cfg, table, engine, collector, reg, logger); err != nil {
		logger.Error("gonatd exited with error", slog.String("error", err.Error()))
		return 1
	}

	logger.Info("gonatd stopped")
	return 0
}

// buildEngine assembles the Table and Engine from configuration, resolving
// the external interface's current IPv4 address (spec §6).
func buildEngine(cfg *config.Config, logger *slog.Logger) (*nat.Table, *nat.Engine, error) {
	resolver := netio.NewNetInterfaceResolver(logger)
	externalAddr, err := resolver.Resolve(cfg.NAT.External)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve external interface %q: %w", cfg.NAT.External, err)
	}

	tableCfg, err := tableConfigFromNAT(cfg)
	if err != nil {
		return nil, nil, err
	}
	table := nat.NewTable(tableCfg)
	table.StartSweeper(cfg.Table.SweepInterval)

	engine := nat.NewEngine(nat.EngineConfig{
		InternalInterface: cfg.NAT.Internal,
		ExternalInterface: cfg.NAT.External,
		ExternalAddr:      externalAddr,
		AllowHairpin:      cfg.NAT.Hairpin,
	}, table, logger)

	return table, engine, nil
}

// tableConfigFromNAT translates the daemon's flat NATConfig/TableConfig
// into nat.Config's typed enums (spec §6 CFG -> TBL wiring).
func tableConfigFromNAT(cfg *config.Config) (nat.Config, error) {
	mapping, ok := mappingBehaviorFromString(cfg.NAT.MapMethod)
	if !ok {
		return nat.Config{}, fmt.Errorf("unknown map method %q", cfg.NAT.MapMethod)
	}
	filtering, ok := filteringBehaviorFromString(cfg.NAT.FilterMethod)
	if !ok {
		return nat.Config{}, fmt.Errorf("unknown filter method %q", cfg.NAT.FilterMethod)
	}
	portAssign, ok := portPolicyFromString(cfg.NAT.PortAssign)
	if !ok {
		return nat.Config{}, fmt.Errorf("unknown port assignment policy %q", cfg.NAT.PortAssign)
	}

	return nat.Config{
		MappingBehavior:    mapping,
		FilteringBehavior:  filtering,
		PortAssignment:     portAssign,
		PreservePortParity: cfg.NAT.PortParity,
		MapLifetime:        cfg.NAT.MapLifetime,
		MaxEntries:         cfg.Table.MaxEntries,
	}, nil
}

func mappingBehaviorFromString(s string) (nat.MappingBehavior, bool) {
	switch s {
	case "endpoint_independent":
		return nat.EndpointIndependentMapping, true
	case "address_dependent":
		return nat.AddressDependentMapping, true
	case "address_and_port_dependent":
		return nat.AddressAndPortDependentMapping, true
	default:
		return 0, false
	}
}

func filteringBehaviorFromString(s string) (nat.FilteringBehavior, bool) {
	switch s {
	case "endpoint_independent":
		return nat.EndpointIndependentFiltering, true
	case "address_dependent":
		return nat.AddressDependentFiltering, true
	case "address_and_port_dependent":
		return nat.AddressAndPortDependentFiltering, true
	default:
		return 0, false
	}
}

func portPolicyFromString(s string) (nat.PortAssignmentPolicy, bool) {
	switch s {
	case "preserve":
		return nat.PolicyPreserve, true
	case "overload":
		return nat.PolicyOverload, true
	case "none":
		return nat.PolicyNone, true
	default:
		return 0, false
	}
}

// runDaemon wires the queue dispatch loop, raw emitter, metrics server and
// admin server under one errgroup with signal-aware shutdown (spec §14).
func runDaemon(
	cfg *config.Config,
	table *nat.Table,
	engine *nat.Engine,
	collector *natmetrics.Collector,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	queue, err := netio.NewNFQueue(cfg.Queue.Num)
	if err != nil {
		return fmt.Errorf("bind nfqueue %d: %w", cfg.Queue.Num, err)
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("failed to close nfqueue", slog.String("error", err.Error()))
		}
	}()

	emitter := netio.NewLinuxRawEmitter()
	defer func() {
		if err := emitter.Close(); err != nil {
			logger.Warn("failed to close raw emitter", slog.String("error", err.Error()))
		}
	}()

	metricsSrv := newMetricsServer(cfg.Metrics, reg)
	adminSrv := newAdminServer(cfg.Admin, table, cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dispatchLoop(gCtx, queue, emitter, engine, table, collector, logger)
	})

	startHTTPServers(gCtx, g, cfg, metricsSrv, adminSrv, logger)

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, table, logger, metricsSrv, adminSrv)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run daemon: %w", err)
	}
	return nil
}

// dispatchLoop pulls packets off the kernel queue, runs them through the
// engine, and submits the resulting verdict -- raw-emitting rewritten
// packets on VerdictSend (and dropping the kernel's copy), and accepting
// VerdictForward packets unchanged (spec §4.3 ENG.PROCESS).
func dispatchLoop(
	ctx context.Context,
	queue netio.Queue,
	emitter netio.RawEmitter,
	engine *nat.Engine,
	table *nat.Table,
	collector *natmetrics.Collector,
	logger *slog.Logger,
) error {
	for {
		raw, id, inIface, err := queue.Recv(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, netio.ErrQueueClosed) {
				return nil
			}
			return fmt.Errorf("receive from queue: %w", err)
		}

		verdict, outIface := processPacket(raw, inIface, engine, collector, logger)

		switch verdict {
		case nat.VerdictForward:
			if err := queue.Verdict(id, netio.VerdictAccept, nil); err != nil {
				logger.Warn("submit accept verdict", slog.String("error", err.Error()))
			}
		case nat.VerdictSend:
			// The rewritten copy goes out the raw socket; the kernel's
			// own forwarding path must not also release the unmodified
			// (or now-stale) original, so it is dropped there.
			if err := emitter.Send(outIface, raw); err != nil {
				logger.Warn("raw emit failed", slog.String("interface", outIface), slog.String("error", err.Error()))
			}
			if err := queue.Verdict(id, netio.VerdictDrop, nil); err != nil {
				logger.Warn("submit drop verdict", slog.String("error", err.Error()))
			}
		default:
			collector.IncPacketsDropped("unknown", "dispatch")
			if err := queue.Verdict(id, netio.VerdictDrop, nil); err != nil {
				logger.Warn("submit drop verdict", slog.String("error", err.Error()))
			}
		}

		collector.SetMappings("total", float64(table.Len()))
	}
}

// processPacket parses raw into a Packet arriving on inIface and runs it
// through the engine, returning the verdict and, on VerdictSend, the
// interface the rewritten packet must be raw-emitted on.
func processPacket(raw []byte, inIface string, engine *nat.Engine, collector *natmetrics.Collector, logger *slog.Logger) (nat.Verdict, string) {
	pkt, err := nat.NewPacket(raw, inIface)
	if err != nil {
		logger.Debug("malformed packet dropped", slog.String("error", err.Error()))
		return nat.VerdictDrop, ""
	}

	verdict := engine.Process(pkt)
	switch verdict {
	case nat.VerdictSend:
		proto, _ := pkt.Protocol()
		collector.IncPacketsForwarded(proto.String(), "rewritten")
		return verdict, pkt.OutboundInterface()
	case nat.VerdictForward:
		return verdict, ""
	default:
		return nat.VerdictDrop, ""
	}
}

func startHTTPServers(
	ctx context.Context,
	g *errgroup.Group,
	cfg *config.Config,
	metricsSrv *http.Server,
	adminSrv *http.Server,
	logger *slog.Logger,
) {
	lc := net.ListenConfig{}

	g.Go(func() error {
		logger.Info("metrics server listening", slog.String("addr", cfg.Metrics.Addr), slog.String("path", cfg.Metrics.Path))
		return listenAndServe(ctx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		logger.Info("admin server listening", slog.String("addr", cfg.Admin.Addr))
		return listenAndServe(ctx, &lc, adminSrv, cfg.Admin.Addr)
	})
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

func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func newAdminServer(cfg config.AdminConfig, table *nat.Table, full *config.Config, logger *slog.Logger) *http.Server {
	srv := admin.New(table, full, logger)
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// -------------------------------------------------------------------------
// Systemd integration -- sd_notify + watchdog
// -------------------------------------------------------------------------

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

func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog", slog.String("error", err.Error()))
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive", slog.String("error", wdErr.Error()))
			}
		}
	}
}

// -------------------------------------------------------------------------
// Graceful shutdown
// -------------------------------------------------------------------------

func gracefulShutdown(ctx context.Context, table *nat.Table, logger *slog.Logger, servers ...*http.Server) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	table.StopSweeper()

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

// -------------------------------------------------------------------------
// Config + logging setup
// -------------------------------------------------------------------------

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
