// tmux-claude-bridge drives a persistent tmux pane over HTTP/WebSocket:
// an automation agent connects, dispatches shell commands, and gets
// completion, timeout, or needs-interaction results back.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/llkhacquan/tmux-claude-bridge/internal/config"
	"github.com/llkhacquan/tmux-claude-bridge/internal/history"
	"github.com/llkhacquan/tmux-claude-bridge/internal/logging"
	"github.com/llkhacquan/tmux-claude-bridge/internal/orchestrator"
	"github.com/llkhacquan/tmux-claude-bridge/internal/tmux"
	"github.com/llkhacquan/tmux-claude-bridge/internal/web"
)

const Version = "0.2.0"

func main() {
	args := os.Args[1:]
	if len(args) > 0 {
		switch args[0] {
		case "version", "--version", "-v":
			fmt.Printf("tmux-claude-bridge v%s\n", Version)
			return
		case "help", "--help", "-h":
			printHelp()
			return
		case "serve":
			args = args[1:]
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
			printHelp()
			os.Exit(1)
		}
	}
	if len(args) > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %v\n", args)
		os.Exit(1)
	}

	if err := runServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Println("tmux-claude-bridge - execute commands in a tmux pane over WebSocket")
	fmt.Println()
	fmt.Println("Usage: tmux-claude-bridge [command]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve     Start the bridge server (default)")
	fmt.Println("  version   Print version")
	fmt.Println("  help      Show this help")
	fmt.Println()
	fmt.Println("Configuration (env, optionally CONFIG_FILE pointing at a JSON file):")
	fmt.Println("  PORT                 listen port            (default 8080)")
	fmt.Println("  TMUX_SESSION         tmux session name      (default claude-bridge)")
	fmt.Println("  TMUX_PANE            pane index             (default 1)")
	fmt.Println("  LOG_LEVEL            debug|info|warn|error  (default info)")
	fmt.Println("  LOG_DIR              rotating file logs when set")
	fmt.Println("  HISTORY_DB           sqlite audit log path; empty disables")
	fmt.Println("  POLL_INTERVAL_MS     foreground poll tick   (default 500)")
	fmt.Println("  MONITOR_INTERVAL_MS  background recheck     (default 10000)")
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logging.Init(logging.Config{
		LogDir: cfg.LogDir,
		Level:  cfg.LogLevel,
		Format: "json",
		Stderr: os.Stderr,
	})
	defer logging.Shutdown()
	log := logging.Logger()

	if err := tmux.IsTmuxAvailable(); err != nil {
		return err
	}
	target, err := tmux.ResolveTarget(cfg.TmuxSession, "", cfg.TmuxPane)
	if err != nil {
		return err
	}

	orchCfg := orchestrator.DefaultConfig()
	orchCfg.PollInterval = cfg.PollInterval()
	orchCfg.MonitorInterval = cfg.MonitorInterval()
	orch := orchestrator.New(orchCfg, orchestrator.NewRegistry())

	var hist *history.Log
	if cfg.HistoryDB != "" {
		hist, err = history.Open(cfg.HistoryDB)
		if err != nil {
			return err
		}
		defer hist.Close()
		if err := hist.Migrate(); err != nil {
			return err
		}
		orch.AddNotifier(hist)
	}

	var histSource web.HistorySource
	if hist != nil {
		histSource = hist
	}
	server := web.NewServer(web.Config{ListenAddr: cfg.ListenAddr()}, orch, target, histSource)
	orch.AddNotifier(server)

	// Config file changes apply the log level at runtime.
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		watcher, err := config.NewWatcher(path, func(next config.Config) {
			logging.SetLevel(next.LogLevel)
		})
		if err != nil {
			log.Warn("config_watcher_disabled", slog.String("error", err.Error()))
		} else {
			go watcher.Start()
			defer watcher.Stop()
		}
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan

		log.Info("shutting_down", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Error("shutdown_failed", slog.String("error", err.Error()))
		}
	}()

	log.Info("starting",
		slog.String("version", Version),
		slog.String("addr", cfg.ListenAddr()),
		slog.String("target", target.Spec()))
	return server.Start()
}
