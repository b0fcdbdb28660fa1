// Package daemon wires the synchronizer's subsystems together and runs the
// tick scheduler until a shutdown signal arrives.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crateio/carrier/internal/bulk"
	"github.com/crateio/carrier/internal/config"
	"github.com/crateio/carrier/internal/metrics"
	"github.com/crateio/carrier/internal/pypi"
	"github.com/crateio/carrier/internal/store"
	syncer "github.com/crateio/carrier/internal/sync"
	"github.com/crateio/carrier/internal/vault"
	"github.com/crateio/carrier/internal/version"
	"github.com/crateio/carrier/internal/warehouse"
)

// app is the wired set of subsystems shared by the daemon and the bulk
// import.
type app struct {
	store        *store.Store
	fingerprints *store.Fingerprints
	index        *pypi.Client
	warehouse    *warehouse.Client
	processor    *syncer.Processor
	engine       *syncer.Engine
	metrics      *metrics.Metrics
}

// newApp connects the store and builds the clients, processor, and engine
// from configuration. The warehouse password is resolved through the
// credential vault when the config leaves it empty.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	st, err := store.Open(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}

	fingerprints, err := store.NewFingerprints(st, 0)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("creating fingerprint cache: %w", err)
	}

	ua := version.UserAgent()

	index, err := pypi.NewClient(cfg.Index, cfg.Resilience, ua)
	if err != nil {
		st.Close()
		return nil, err
	}

	whCfg := cfg.Warehouse
	if whCfg.Auth.Username != "" && whCfg.Auth.Password == "" {
		secret, err := vault.New().Get("warehouse")
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("resolving warehouse credentials: %w", err)
		}
		whCfg.Auth.Password = secret
	}

	wh, err := warehouse.New(whCfg, cfg.Resilience, ua)
	if err != nil {
		st.Close()
		return nil, err
	}

	m := metrics.New()
	processor := syncer.NewProcessor(index, wh, fingerprints, m)
	dispatcher := syncer.NewDispatcher(processor)
	engine := syncer.NewEngine(st, index, dispatcher, wh, m)

	return &app{
		store:        st,
		fingerprints: fingerprints,
		index:        index,
		warehouse:    wh,
		processor:    processor,
		engine:       engine,
		metrics:      m,
	}, nil
}

func (a *app) Close() {
	a.store.Close()
}

// setupLogger configures the global zerolog logger: always to a file in
// dataDir, plus a console writer in foreground mode.
func setupLogger(cfg *config.Config, dataDir string, foreground bool) (io.Closer, error) {
	zerolog.SetGlobalLevel(parseLogLevel(cfg.Logging.Level))

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "carrier.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	writers = append(writers, logFile)

	if foreground || cfg.Logging.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		})
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "carrier").Logger()

	return logFile, nil
}

// Run is the daemon orchestrator. It initialises all subsystems, starts
// the ops server and the tick scheduler, and blocks until a shutdown
// signal is received.
func Run(cfg *config.Config, foreground bool) error {
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logFile, err := setupLogger(cfg, dataDir, foreground)
	if err != nil {
		return err
	}
	defer logFile.Close()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("carrier starting")

	if IsRunning(dataDir) {
		return fmt.Errorf("carrier is already running (PID file exists at %s)", filepath.Join(dataDir, pidFilename))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// The engine refuses to run without a cursor; surface that at startup
	// instead of on the first tick.
	if _, ok, err := a.store.Since(ctx); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("%w (run 'carrier bulk' first)", syncer.ErrNoCursor)
	}

	if err := WritePID(dataDir); err != nil {
		return err
	}
	defer RemovePID(dataDir)

	// Hot-reload the log level when the config file changes.
	var watcher *config.Watcher
	if cf := config.LoadedFile(); cf != "" {
		watcher, err = config.Watch(cf)
		if err != nil {
			log.Warn().Err(err).Msg("config watcher unavailable")
		} else {
			watcher.OnChange(func(_, newCfg *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(newCfg.Logging.Level))
			})
			defer watcher.Close()
		}
	}

	errCh := make(chan error, 1)

	// Ops server.
	var opsServer *http.Server
	if cfg.Metrics.Enabled {
		opsServer = &http.Server{
			Addr:    cfg.Metrics.Listen,
			Handler: metrics.NewRouter(a.store, a.metrics),
		}
		go func() {
			log.Info().Str("addr", cfg.Metrics.Listen).Msg("ops server starting")
			if err := opsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("ops server: %w", err)
			}
		}()
	}

	// Tick scheduler: one goroutine, strictly serial ticks. A tick that
	// overruns the interval delays the next one rather than overlapping it.
	var wg sync.WaitGroup
	interval := cfg.Schedule.PackagesInterval()
	if interval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			runTick := func() {
				if err := a.engine.Tick(ctx); err != nil {
					if errors.Is(err, context.Canceled) {
						return
					}
					log.Error().Err(err).Msg("synchronization tick failed")
				}
			}

			runTick()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					runTick()
				}
			}
		}()
		log.Info().Dur("interval", interval).Msg("carrier is ready")
	} else {
		log.Info().Msg("carrier is ready (scheduler disabled)")
	}

	if foreground {
		fmt.Printf("\n  carrier is running (interval: %s)\n\n", interval)
	}

	// Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		cancel()
		wg.Wait()
		return err
	}

	// Graceful shutdown: stop dispatching ticks, let the in-flight one
	// wind down, then stop the ops server.
	cancel()
	wg.Wait()

	if opsServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := opsServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ops server shutdown error")
		}
	}

	log.Info().Msg("carrier stopped")
	return nil
}

// RunBulk performs the initial bulk import and writes the cursor baseline.
func RunBulk(cfg *config.Config) error {
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logFile, err := setupLogger(cfg, dataDir, true)
	if err != nil {
		return err
	}
	defer logFile.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	importer := bulk.New(a.index, a.processor, a.store,
		cfg.Resilience.RetryMaxAttempts, cfg.Resilience.RetryBaseDelay())
	return importer.Run(ctx)
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("carrier does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		// Stale PID file; clean it up.
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("carrier is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to carrier (PID %d)\n", pid)

	// Wait briefly for the process to exit.
	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}
	return fmt.Errorf("carrier (PID %d) did not exit within 3 seconds", pid)
}

// Status reports whether the daemon is running.
func Status() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	if !IsRunning(dataDir) {
		return fmt.Errorf("carrier is not running")
	}

	pid, _ := ReadPID(dataDir)
	fmt.Printf("carrier is running (PID %d)\n", pid)

	cfg := config.Get()
	if cfg.Metrics.Enabled {
		fmt.Printf("ops endpoints: http://%s/status\n", cfg.Metrics.Listen)
	}
	return nil
}

// parseLogLevel maps a config level string onto a zerolog level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if path == "~" {
		return homeDir
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(homeDir, path[2:])
	}
	return path
}
