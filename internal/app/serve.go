package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/fcgi"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/procfoundry/procgate/internal/admin"
	"github.com/procfoundry/procgate/internal/config"
	"github.com/procfoundry/procgate/internal/gateway"
	"github.com/procfoundry/procgate/internal/journal"
	"github.com/procfoundry/procgate/internal/query"
	"github.com/procfoundry/procgate/internal/runner"
)

func serve(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	configPath := fs.String("config", "", "path to config file (YAML)")
	watch := fs.Bool("watch", false, "watch config file for reload")
	listenAddr := fs.String("listen", "", "FastCGI TCP listener address (host:port)")
	fcgiSocket := fs.String("fcgi-socket", "", "FastCGI unix socket path")
	httpAddr := fs.String("http", "", "plain HTTP listener address (development)")
	adminAddr := fs.String("admin", "", "admin listener address")
	dbPath := fs.String("db", "", "journal sqlite database file")
	postgresDSN := fs.String("postgres-dsn", "", "journal postgres DSN")
	pidFile := fs.String("pid-file", "", "write process PID to file")
	logLevel := fs.String("log-level", "", "log level (debug|info|warn|error)")
	controlTool := fs.String("control-tool", "", "path of the process control tool")
	maxPostLength := fs.Int64("l", 0, "maximum POST data length in bytes")
	verbose := fs.Bool("v", false, "verbose output (shorthand for --log-level debug)")
	tracingEndpoint := fs.String("tracing-endpoint", "", "OTLP/HTTP trace collector endpoint URL")
	tracingInsecure := fs.Bool("tracing-insecure", false, "disable TLS for the trace exporter")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if strings.TrimSpace(*configPath) != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			return 2
		}
		cfg = loaded
	}
	applyServeFlags(&cfg, fs, serveFlagValues{
		dbPath:          *dbPath,
		postgresDSN:     *postgresDSN,
		adminAddr:       *adminAddr,
		logLevel:        *logLevel,
		controlTool:     *controlTool,
		maxPostLength:   *maxPostLength,
		verbose:         *verbose,
		tracingEndpoint: *tracingEndpoint,
		tracingInsecure: *tracingInsecure,
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}

	logger, err := newLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		return 2
	}
	slog.SetDefault(logger)

	releasePIDFile, err := claimPIDFile(strings.TrimSpace(*pidFile))
	if err != nil {
		logger.Error("pid_file_failed", slog.Any("err", err))
		return 1
	}
	defer releasePIDFile()

	logger.Info("config_ok",
		slog.String("control_tool", cfg.ControlTool),
		slog.Int64("max_post_length", cfg.MaxPostLength),
		slog.String("journal_backend", journalBackend(cfg)),
	)

	appMetrics := newRuntimeMetrics()

	var shutdownTracing func(context.Context) error
	if cfg.Observability.TracingEndpoint != "" {
		shutdownTracing, err = initTracing(context.Background(),
			cfg.Observability.TracingEndpoint,
			cfg.Observability.TracingInsecure,
			func(err error) {
				appMetrics.incTracingExportErrors()
				logger.Error("tracing_export_failed", slog.Any("err", err))
			})
		if err != nil {
			logger.Error("tracing_init_failed", slog.Any("err", err))
			return 1
		}
		appMetrics.setTracingEnabled(true)
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdownTracing(ctx)
		}()
		logger.Info("tracing_enabled")
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(rootCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, backend, closeStore, err := newJournalStore(cfg)
	if err != nil {
		logger.Error("open_journal_failed", slog.Any("err", err))
		return 1
	}
	defer func() { _ = closeStore() }()
	logger.Info("journal_backend_selected", slog.String("backend", backend))

	state := newRuntimeState(cfg)

	running := cfg
	var reloadMu sync.Mutex
	reloadNow := func(trigger string) {
		reloadMu.Lock()
		defer reloadMu.Unlock()

		if strings.TrimSpace(*configPath) == "" {
			logger.Warn("reload_skipped_no_config_file", slog.String("trigger", trigger))
			return
		}
		next, err := config.Load(*configPath)
		if err != nil {
			logger.Error("reload_failed", slog.String("trigger", trigger), slog.Any("err", err))
			return
		}
		for _, setting := range config.NonReloadableDiff(running, next) {
			logger.Warn("reload_requires_restart", slog.String("setting", setting))
		}
		state.update(next)
		running = next
		logger.Info("config_reloaded", slog.String("trigger", trigger))
	}

	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				reloadNow("signal_sighup")
			}
		}
	}()
	if *watch && strings.TrimSpace(*configPath) != "" {
		go watchConfig(ctx, *configPath, logger, func() {
			reloadNow("watch")
		})
	}

	run := &runner.Runner{Logger: logger}
	dispatcher := &query.Dispatcher{
		Actions: query.DefaultActions(state.controlTool, run),
		Logger:  logger,
		Observe: func(res query.Result) {
			entry := journalEntry(res)
			if err := store.Record(entry); err != nil {
				appMetrics.incJournalRecordFailures()
				logger.Error("journal_record_failed", slog.Any("err", err))
			}
			appMetrics.observeAction(entry.Outcome, res.Bytes)
		},
	}
	gw := gateway.New(dispatcher.Dispatch, state.maxPostLength, logger)
	gw.ObserveRequest = appMetrics.observeRequest

	handler := withAccessLog(logger,
		wrapTracingHandler(cfg.Observability.TracingEndpoint != "", "procgate", gw))

	var listeners []net.Listener
	var servers []*http.Server
	serveFCGI := func(name string, ln net.Listener) {
		go func() {
			err := fcgi.Serve(ln, handler)
			if err == nil || errors.Is(err, net.ErrClosed) {
				return
			}
			logger.Error("fcgi_serve_error", slog.String("name", name), slog.Any("err", err))
			cancel()
		}()
	}

	switch {
	case strings.TrimSpace(*listenAddr) != "":
		ln, err := net.Listen("tcp", *listenAddr)
		if err != nil {
			logger.Error("listen_failed", slog.Any("err", err))
			return 1
		}
		listeners = append(listeners, ln)
		serveFCGI("fcgi_tcp", ln)
		logger.Info("serve_started", slog.String("transport", "fcgi"), slog.String("addr", *listenAddr))
	case strings.TrimSpace(*fcgiSocket) != "":
		sock := strings.TrimSpace(*fcgiSocket)
		if err := os.MkdirAll(filepath.Dir(sock), 0o755); err != nil {
			logger.Error("listen_failed", slog.Any("err", err))
			return 1
		}
		_ = os.Remove(sock)
		ln, err := net.Listen("unix", sock)
		if err != nil {
			logger.Error("listen_failed", slog.Any("err", err))
			return 1
		}
		listeners = append(listeners, ln)
		serveFCGI("fcgi_unix", ln)
		logger.Info("serve_started", slog.String("transport", "fcgi"), slog.String("socket", sock))
	case strings.TrimSpace(*httpAddr) != "":
		// HTTP only; no FastCGI listener.
	default:
		// Web-server spawn mode: the FastCGI socket is stdin.
		go func() {
			if err := fcgi.Serve(nil, handler); err != nil {
				logger.Error("fcgi_serve_error", slog.String("name", "fcgi_stdin"), slog.Any("err", err))
			}
			cancel()
		}()
		logger.Info("serve_started", slog.String("transport", "fcgi"), slog.String("socket", "stdin"))
	}

	if strings.TrimSpace(*httpAddr) != "" {
		srv := &http.Server{Addr: *httpAddr, Handler: handler}
		servers = append(servers, srv)
		go func() {
			err := srv.ListenAndServe()
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return
			}
			logger.Error("http_serve_error", slog.Any("err", err))
			cancel()
		}()
		logger.Info("serve_started", slog.String("transport", "http"), slog.String("addr", *httpAddr))
	}

	if cfg.Admin.Addr != "" {
		adminSrv := &admin.Server{
			Journal:       store,
			Authorize:     admin.BearerTokenAuthorizer(cfg.Admin.Tokens),
			Logger:        logger,
			RenderMetrics: appMetrics.writeText,
		}
		srv := &http.Server{Addr: cfg.Admin.Addr, Handler: adminSrv.Handler()}
		servers = append(servers, srv)
		go func() {
			err := srv.ListenAndServe()
			if err == nil || errors.Is(err, http.ErrServerClosed) {
				return
			}
			logger.Error("admin_serve_error", slog.Any("err", err))
			cancel()
		}()
		logger.Info("admin_started", slog.String("addr", cfg.Admin.Addr))
	}

	<-ctx.Done()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	for _, srv := range servers {
		_ = srv.Shutdown(shutdownCtx)
	}
	logger.Info("serve_stopped")
	return 0
}

type serveFlagValues struct {
	dbPath          string
	postgresDSN     string
	adminAddr       string
	logLevel        string
	controlTool     string
	maxPostLength   int64
	verbose         bool
	tracingEndpoint string
	tracingInsecure bool
}

// applyServeFlags overlays explicitly-set flags on top of the config
// file. Flags always win over the file.
func applyServeFlags(cfg *config.Config, fs *flag.FlagSet, v serveFlagValues) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if set["control-tool"] {
		cfg.ControlTool = v.controlTool
	}
	if set["l"] {
		cfg.MaxPostLength = v.maxPostLength
	}
	if set["db"] {
		cfg.Journal.Backend = "sqlite"
		cfg.Journal.Path = v.dbPath
	}
	if set["postgres-dsn"] {
		cfg.Journal.Backend = "postgres"
		cfg.Journal.DSN = v.postgresDSN
	}
	if set["admin"] {
		cfg.Admin.Addr = v.adminAddr
	}
	if set["log-level"] {
		cfg.Observability.LogLevel = v.logLevel
	} else if v.verbose {
		cfg.Observability.LogLevel = "debug"
	}
	if set["tracing-endpoint"] {
		cfg.Observability.TracingEndpoint = v.tracingEndpoint
	}
	if set["tracing-insecure"] {
		cfg.Observability.TracingInsecure = v.tracingInsecure
	}
}

func journalBackend(cfg config.Config) string {
	if cfg.Journal.Backend == "" {
		return "memory"
	}
	return cfg.Journal.Backend
}

func newJournalStore(cfg config.Config) (journal.Store, string, func() error, error) {
	retention := cfg.Journal.Retention
	backend := journalBackend(cfg)
	switch backend {
	case "sqlite":
		store, err := journal.NewSQLiteStore(
			cfg.Journal.Path,
			journal.WithSQLiteRetention(retention.MaxAge.Std(), retention.PruneInterval.Std()),
		)
		if err != nil {
			return nil, backend, nil, err
		}
		return store, backend, store.Close, nil
	case "postgres":
		store, err := journal.NewPostgresStore(
			cfg.Journal.DSN,
			journal.WithPostgresRetention(retention.MaxAge.Std(), retention.PruneInterval.Std()),
		)
		if err != nil {
			return nil, backend, nil, err
		}
		return store, backend, store.Close, nil
	case "memory":
		store := journal.NewMemoryStore(
			journal.WithMemoryRetention(retention.MaxAge.Std(), retention.PruneInterval.Std()),
		)
		return store, backend, func() error { return nil }, nil
	default:
		return nil, backend, nil, fmt.Errorf("unsupported journal backend %q", backend)
	}
}

// journalEntry classifies a dispatch result for the journal. Only a
// spawn failure counts as exec_failed; everything else that errors is a
// validation rejection.
func journalEntry(res query.Result) journal.Entry {
	entry := journal.Entry{
		Action:       strings.TrimSuffix(res.Tag, "="),
		Subject:      res.Subject,
		Outcome:      journal.OutcomeOK,
		Duration:     res.Duration,
		BytesRelayed: res.Bytes,
	}
	if res.Err != nil {
		entry.Error = res.Err.Error()
		if errors.Is(res.Err, runner.ErrNotExecuted) {
			entry.Outcome = journal.OutcomeExecFailed
		} else {
			entry.Outcome = journal.OutcomeRejected
		}
	}
	return entry
}

// runtimeState holds the reloadable settings consulted on every request.
type runtimeState struct {
	mu          sync.RWMutex
	controlPath string
	maxPostLen  int64
}

func newRuntimeState(cfg config.Config) *runtimeState {
	return &runtimeState{
		controlPath: cfg.ControlTool,
		maxPostLen:  cfg.MaxPostLength,
	}
}

func (s *runtimeState) update(cfg config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controlPath = cfg.ControlTool
	s.maxPostLen = cfg.MaxPostLength
}

func (s *runtimeState) controlTool() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.controlPath
}

func (s *runtimeState) maxPostLength() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.maxPostLen
}

func watchConfig(ctx context.Context, path string, logger *slog.Logger, reload func()) {
	if logger == nil {
		logger = slog.Default()
	}
	if reload == nil {
		return
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}
	defer w.Close()

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	if err := w.Add(dir); err != nil {
		logger.Warn("watch_disabled", slog.Any("err", err))
		return
	}

	logger.Info("watching_config", slog.String("path", path))

	// Debounce to coalesce bursty editor/atomic-write events.
	var timer *time.Timer
	var timerCh <-chan time.Time
	schedule := func() {
		if timer == nil {
			timer = time.NewTimer(200 * time.Millisecond)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(200 * time.Millisecond)
		}
		timerCh = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			schedule()
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			logger.Warn("watch_error", slog.Any("err", err))
		case <-timerCh:
			timerCh = nil
			reload()
		}
	}
}
