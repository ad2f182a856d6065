// Command sentrycored is the main entry point for the sentrycore voice
// assistant core.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrWong99/sentrycore/internal/app"
	"github.com/MrWong99/sentrycore/internal/config"
	"github.com/MrWong99/sentrycore/internal/observe"
	"github.com/MrWong99/sentrycore/internal/supervisor"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "sentrycore.yaml", "path to the YAML process configuration file")
	flag.Parse()

	cfg, err := config.LoadProcess(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sentrycored: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("sentrycored starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "sentrycore"})
	if err != nil {
		slog.Error("failed to initialise telemetry provider", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	appCfg, err := buildAppConfig(cfg)
	if err != nil {
		slog.Error("invalid process configuration", "err", err)
		return 1
	}

	printStartupSummary(cfg)

	application, err := app.New(ctx, appCfg)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down", "addr", application.ListenAddr())

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// buildAppConfig translates the on-disk process configuration into the
// wiring knobs [app.New] consumes, parsing the voice host's human-readable
// startup timeout along the way.
func buildAppConfig(cfg config.ProcessConfig) (app.Config, error) {
	startupTimeout := 30 * time.Second
	if cfg.VoiceHost.StartupTimeout != "" {
		d, err := time.ParseDuration(cfg.VoiceHost.StartupTimeout)
		if err != nil {
			return app.Config{}, fmt.Errorf("voice_host.startup_timeout: %w", err)
		}
		startupTimeout = d
	}

	return app.Config{
		SettingsPath:         cfg.SettingsPath,
		ToolGroupMappingPath: cfg.ToolGroupMappingPath,
		AuditLogPath:         cfg.AuditLogPath,
		ListenAddr:           cfg.Server.ListenAddr,

		ToolServerCommand: cfg.ToolServer.Command,
		ToolServerArgs:    cfg.ToolServer.Args,
		ToolServerEnv:     cfg.ToolServer.Env,

		VoiceHost: supervisor.VoiceHostConfig{
			Disabled:       cfg.VoiceHost.Disabled,
			Executable:     cfg.VoiceHost.Executable,
			Args:           cfg.VoiceHost.Args,
			PreferredPort:  cfg.VoiceHost.PreferredPort,
			SessionFile:    cfg.VoiceHost.SessionFile,
			StartupTimeout: startupTimeout,
		},

		ASREngine: cfg.VoiceHost.ASREngine,
		TTSEngine: cfg.VoiceHost.TTSEngine,
		TTSVoice:  cfg.VoiceHost.TTSVoice,
	}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg config.ProcessConfig) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        sentrycore — startup summary    ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	printField("Tool server", cfg.ToolServer.Command)
	if cfg.VoiceHost.Disabled {
		printField("Voice host", "(disabled)")
	} else {
		printField("Voice host", cfg.VoiceHost.Executable)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printField(label, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
