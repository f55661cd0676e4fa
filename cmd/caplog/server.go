package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"

	"github.com/kalambet/caplog/internal/api"
	"github.com/kalambet/caplog/internal/config"
	"github.com/kalambet/caplog/internal/export"
	"github.com/kalambet/caplog/internal/recorder"
	"github.com/kalambet/caplog/internal/storage"
)

// maxConnections caps concurrent HTTP connections to the local API.
const maxConnections = 64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the caplog server in the foreground",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running caplog server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show caplog server status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	serveCmd.Flags().Bool("mcp", false, "also serve MCP tools on stdin/stdout")
}

// pidFile records the serving process in the data directory.
type pidFile string

func pidFileFor(dataDir string) pidFile {
	return pidFile(filepath.Join(dataDir, "caplog.pid"))
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// alive reports the recorded pid if that process still exists.
func (p pidFile) alive() (int, bool) {
	pid, err := p.read()
	if err != nil {
		return 0, false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return pid, false
	}
	return pid, proc.Signal(syscall.Signal(0)) == nil
}

// claim writes the current pid, replacing a file left behind by a process
// that no longer exists.
func (p pidFile) claim() error {
	if pid, ok := p.alive(); ok && pid != os.Getpid() {
		return fmt.Errorf("server already running (PID %d)", pid)
	}
	if err := os.MkdirAll(filepath.Dir(string(p)), 0o755); err != nil {
		return err
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())+"\n"), 0o644)
}

func (p pidFile) release() {
	if pid, err := p.read(); err == nil && pid == os.Getpid() {
		os.Remove(string(p))
	}
}

func serverURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

// healthy probes /health on the local port.
func healthy(port int) (bool, int) {
	c := &http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(serverURL(port) + "/health")
	if err != nil {
		return false, 0
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK, resp.StatusCode
}

// ensureAPIToken returns the configured token, generating and saving one on
// first start so that local clients can authenticate.
func ensureAPIToken(cfg config.Config) (string, error) {
	if cfg.Server.APIToken != "" {
		return cfg.Server.APIToken, nil
	}
	token := uuid.NewString()
	if err := config.SaveAPIToken(token); err != nil {
		return "", err
	}
	slog.Info("generated API bearer token")
	return token, nil
}

func startMCP(ctx context.Context, deps api.MCPDeps) {
	stdio := server.NewStdioServer(api.NewMCPServer(deps))
	go func() {
		err := stdio.Listen(ctx, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mcp stdio stopped", "error", err)
		}
	}()
	slog.Info("mcp server on stdio")
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "caplog version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	token, err := ensureAPIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	if up, _ := healthy(cfg.Server.Port); up {
		printWarning("caplog is already answering on port %d", cfg.Server.Port)
		return fmt.Errorf("port %d in use by a running caplog", cfg.Server.Port)
	}
	pf := pidFileFor(cfg.Storage.DataDir)
	if err := pf.claim(); err != nil {
		return err
	}
	defer pf.release()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	// Recordings and in-flight requests ignore the signal; they are wound
	// down in order below: the listener first, then the recorders.
	workCtx := context.WithoutCancel(ctx)
	mgr := recorder.NewManager(workCtx, store,
		recorder.WithQueueSize(cfg.Capture.QueueSize),
		recorder.WithProcessorOptions(cfg.ProcessorOptions()...),
	)
	exporter := export.NewExporter(store)

	if withMCP {
		startMCP(ctx, api.MCPDeps{Store: store, Exporter: exporter, ExportDir: cfg.Export.Dir})
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	srv := &http.Server{
		Handler: api.NewAppHandler(api.AppDeps{
			Store:             store,
			Recorder:          mgr,
			Exporter:          exporter,
			ExportDir:         cfg.Export.Dir,
			IncludeTimestamps: cfg.Export.IncludeTimestamps,
			Token:             token,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return workCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("caplog listening", "addr", addr, "max_conns", maxConnections)
		serveErr <- srv.Serve(netutil.LimitListener(ln, maxConnections))
	}()

	var serveFailure error
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			serveFailure = fmt.Errorf("serving: %w", err)
		}
	}
	return errors.Join(serveFailure, windDown(srv, mgr, 5*time.Second))
}

// windDown closes the listener and lets in-flight requests finish queueing
// their results, then drains and ends every recording. Recording errors are
// logged; the Shutdown error is returned.
func windDown(srv *http.Server, mgr *recorder.Manager, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := srv.Shutdown(ctx)

	if stopErr := mgr.StopAll(); stopErr != nil {
		slog.Error("stopping recordings", "error", stopErr)
	}
	return err
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pf := pidFileFor(cfg.Storage.DataDir)
	pid, ok := pf.alive()
	if !ok {
		if pid != 0 {
			os.Remove(string(pf))
		}
		printError("caplog is not running")
		return errors.New("not running")
	}

	proc, _ := os.FindProcess(pid)
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop caplog (PID %d): %v", pid, err)
		return err
	}
	printSuccess("Sent stop signal to caplog (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	up, code := healthy(cfg.Server.Port)
	switch {
	case up:
		printStatus("Server", "running on port %d", cfg.Server.Port)
		if pid, ok := pidFileFor(cfg.Storage.DataDir).alive(); ok {
			printStatus("PID", "%d", pid)
		}
	case code != 0:
		printStatus("Server", "error (HTTP %d)", code)
	default:
		printStatus("Server", "stopped")
	}

	if up {
		const limit = 100
		client := &apiClient{
			baseURL:    serverURL(cfg.Server.Port),
			token:      cfg.Server.APIToken,
			httpClient: &http.Client{Timeout: 2 * time.Second},
		}
		if sessions, err := client.listSessions(context.Background(), limit); err == nil {
			active := 0
			for _, s := range sessions {
				if s.Status == storage.StatusActive {
					active++
				}
			}
			printStatus("Sessions", "%s", countLabel(len(sessions), limit))
			printStatus("Active", "%d", active)
		} else {
			printStatus("Sessions", "%s", colorize(colorDim, err.Error()))
		}
	}

	printStatus("Similarity", "%s (threshold %.2f)", cfg.Text.Similarity, cfg.Text.DuplicateThreshold)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	printStatus("Export dir", "%s", cfg.Export.Dir)
	printStatus("Config file", "%s", config.ConfigFilePath())
	return nil
}
