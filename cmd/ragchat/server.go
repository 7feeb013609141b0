package main

import (
	"context"
	"encoding/json"
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

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/ragchat/internal/api"
	"github.com/kalambet/ragchat/internal/config"
	"github.com/kalambet/ragchat/internal/ollama"
)

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"start"},
	Short:   "Start the ragchat server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		skip, _ := cmd.Flags().GetBool("skip-model-check")
		return runServer(skip)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running ragchat server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server, Ollama and SearXNG status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the ragchat tools over MCP (stdio transport)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

func init() {
	serveCmd.Flags().Bool("skip-model-check", false, "do not check or pull Ollama models at startup")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "ragchat.pid")
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

func runServer(skipModelCheck bool) error {
	fmt.Fprintf(os.Stderr, "ragchat version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg, os.Stderr)

	// Refuse to start twice on the same port.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startBackground(ctx); err != nil {
		return err
	}

	// An absent backend is reported per turn as a connectivity failure, so
	// startup only warns.
	if !skipModelCheck {
		if err := ollama.EnsureReady(ctx, a.ollama, cfg.Ollama.Model, embedModel(cfg), os.Stderr); err != nil {
			printWarning("%v", err)
		}
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Service: a.service,
			Store:   a.store,
			Metrics: a.metrics,
		}),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("ragchat listening", "addr", addr, "model", cfg.Ollama.Model, "search", cfg.Search.BaseURL)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// embedModel is the Ollama embedding model to check at startup, or "" when
// embeddings are computed locally.
func embedModel(cfg config.Config) string {
	if cfg.Memory.Encoder == "ollama" {
		return cfg.Ollama.EmbedModel
	}
	return ""
}

func runMCP() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	// stdout carries the protocol.
	setupLogging(cfg, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.startBackground(ctx); err != nil {
		return err
	}

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Service: a.service,
		Store:   a.store,
		Search:  a.search,
		Version: version,
	})
	slog.Info("MCP server started (stdio transport)")
	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("mcp server: %w", err)
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("ragchat is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop ragchat (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to ragchat (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	serverUp := false
	if resp, err := client.Get(serverURL + "/health"); err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		serverUp = resp.StatusCode == http.StatusOK
		if serverUp {
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.Ollama.PingTimeout)
	defer cancel()
	oc := ollama.New(cfg.Ollama.BaseURL)
	if oc.IsRunning(probeCtx) {
		printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		printStatus("Model", "%s (%s)", cfg.Ollama.Model, availability(oc.HasModel(probeCtx, cfg.Ollama.Model)))
	} else {
		printStatus("Ollama", "not running at %s", cfg.Ollama.BaseURL)
		printStatus("Model", "%s", cfg.Ollama.Model)
	}

	if !cfg.Search.Enabled {
		printStatus("SearXNG", "disabled")
	} else if resp, err := client.Get(cfg.Search.BaseURL); err != nil {
		printStatus("SearXNG", "not reachable at %s", cfg.Search.BaseURL)
	} else {
		resp.Body.Close()
		printStatus("SearXNG", "reachable at %s", cfg.Search.BaseURL)
	}

	if serverUp {
		if resp, err := client.Get(serverURL + "/v1/conversations?limit=100"); err == nil {
			var convs []json.RawMessage
			if json.NewDecoder(resp.Body).Decode(&convs) == nil {
				printStatus("Conversations", "%s", countLabel(len(convs), 100))
			}
			resp.Body.Close()
		}
	}

	printStatus("Encoder", "%s (%s index)", cfg.Memory.Encoder, cfg.Memory.Index)
	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func availability(ok bool) string {
	if ok {
		return "available"
	}
	return "not pulled"
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
