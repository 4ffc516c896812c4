package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/swipeapply/applyd/internal/api"
	"github.com/swipeapply/applyd/internal/apply"
	"github.com/swipeapply/applyd/internal/config"
	"github.com/swipeapply/applyd/internal/form"
	"github.com/swipeapply/applyd/internal/oracle"
	"github.com/swipeapply/applyd/internal/page"
	"github.com/swipeapply/applyd/internal/profile"
	"github.com/swipeapply/applyd/internal/queue"
	"github.com/swipeapply/applyd/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the applyd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running applyd server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applyd system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "applyd.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func logLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "applyd version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel(cfg.Log.Level)})))

	// Check for a running instance before claiming the PID file.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("applyd is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("applyd is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The browser driver can come up after the daemon; attempts fail cleanly
	// and retry while it is down.
	driver := page.NewDriver(cfg.Driver.BaseURL)
	if !driver.IsRunning(ctx) {
		slog.Warn("browser driver not reachable, applications will fail until it starts", "base_url", cfg.Driver.BaseURL)
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	q, err := queue.New(store)
	if err != nil {
		return fmt.Errorf("initializing queue: %w", err)
	}
	profileMgr := profile.NewManager(store)

	var synth form.Synthesizer
	if cfg.Oracle.OpenRouterAPIKey != "" {
		synth = oracle.NewClient(cfg.Oracle.OpenRouterAPIKey, cfg.Oracle.Model)
	} else {
		slog.Warn("no OpenRouter API key configured, answer synthesis disabled")
	}

	artifacts := apply.NewArtifactStore(cfg.Apply.ArtifactsDir)
	runner := apply.NewRunner(driver, synth, artifacts, apply.Mode(cfg.Apply.Mode), slog.Default())

	poll, err := time.ParseDuration(cfg.Queue.PollInterval)
	if err != nil {
		slog.Warn("invalid poll interval, using default 5s", "value", cfg.Queue.PollInterval, "error", err)
		poll = 5 * time.Second
	}
	drainer := queue.NewDrainer(q, runner, poll, slog.Default())

	handler := api.NewAppHandler(api.AppDeps{
		Queue:    q,
		Drainer:  drainer,
		Profile:  profileMgr,
		Attempts: store,
		Token:    cfg.Server.Token,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Queue:    q,
		Profile:  profileMgr,
		Attempts: store,
	})
	stdioSrv := server.NewStdioServer(mcpSrv)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		drainer.Run(gctx)
		return nil
	})

	g.Go(func() error {
		slog.Info("MCP server started (stdio transport)")
		if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("mcp stdio server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("applyd listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("applyd is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop applyd (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to applyd (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	serverUp := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			serverUp = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	driver := page.NewDriver(cfg.Driver.BaseURL)
	driverCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if driver.IsRunning(driverCtx) {
		printStatus("Driver", "running at %s", cfg.Driver.BaseURL)
	} else {
		printStatus("Driver", "not running")
	}

	if cfg.Oracle.OpenRouterAPIKey != "" {
		printStatus("Oracle", "%s", cfg.Oracle.Model)
	} else {
		printStatus("Oracle", "disabled (no API key)")
	}

	if serverUp {
		apiClient := &apiClient{
			baseURL:    serverURL,
			token:      cfg.Server.Token,
			httpClient: client,
		}
		if queueResp, err := apiClient.get(context.Background(), "/queue"); err == nil {
			var records []struct {
				Status string `json:"status"`
			}
			if decodeJSON(queueResp, &records) == nil {
				counts := map[string]int{}
				for _, r := range records {
					counts[r.Status]++
				}
				printStatus("Queue", "%d total (%d queued, %d applying, %d applied, %d failed)",
					len(records), counts["queued"], counts["applying"], counts["applied"], counts["failed"])
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}
