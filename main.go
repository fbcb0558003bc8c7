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
	"runtime"
	"syscall"
	"time"

	"agentviewport/internal/capture"
	"agentviewport/internal/clients"
	"agentviewport/internal/config"
	"agentviewport/internal/encode"
	"agentviewport/internal/input"
	"agentviewport/internal/safety"
	"agentviewport/internal/server"
	"agentviewport/internal/stream"
	"agentviewport/internal/tools"

	"github.com/pkg/browser"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "agent-viewport: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	flags := pflag.NewFlagSet("agent-viewport", pflag.ContinueOnError)
	configPath := flags.String("config", "", "config file (default <user config dir>/AgentViewport/agent-viewport.config.json)")
	printPath := flags.Bool("print-config-path", false, "print the config file path and exit")
	openViewer := flags.Bool("open", false, "open the viewer in the default browser once listening")
	noMCP := flags.Bool("no-mcp", false, "do not serve MCP tools on stdin/stdout")
	config.AddFlags(flags)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	path := *configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return err
		}
		path = p
	}
	if *printPath {
		fmt.Println(path)
		return nil
	}

	cfg, created, err := config.Load(path)
	if err != nil {
		return err
	}
	if err := cfg.ApplyFlags(flags); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// stdout carries MCP, so logs go to stderr
	level, _ := cfg.Level()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	if created {
		logger.Info("wrote default config", "path", path)
	}

	if runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" {
		// X11 capture and injection need a display
		os.Setenv("DISPLAY", ":0")
	}

	router := input.NewRouter(input.NewRobot(), input.WithLogger(logger.With("component", "input")))
	if m, err := router.Metrics(); err != nil {
		logger.Warn("screen size unavailable", "error", err)
	} else {
		logger.Info("screen", "width", m.Width, "height", m.Height)
	}

	screen := capture.NewScreen(cfg.Display)
	var pipeline *stream.Pipeline
	mgr := clients.NewManager(func() { pipeline.Start() }, func() { pipeline.Stop() })
	pipeline = stream.New(screen, encode.NewJPEG(), mgr, stream.Config{
		FPS:         cfg.FPS,
		TargetWidth: cfg.TargetWidth,
		Quality:     cfg.JPEGQuality,
	}, stream.WithLogger(logger.With("component", "stream")))

	ks := safety.NewKillswitch()
	monitor, err := safety.NewMonitor(safety.NewGoHook(), cfg.SafetyHotkey, pipeline, ks, logger.With("component", "safety"))
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		return fmt.Errorf("listen on port %d: %w", cfg.Port, err)
	}
	if err := monitor.Start(); err != nil {
		ln.Close()
		return err
	}
	defer monitor.Stop()

	realtime := server.New(router, mgr, server.Config{
		StaticDir:  cfg.StaticDir,
		ICEServers: cfg.ICEServers,
		Logger:     logger.With("component", "server"),
	})
	srv := &http.Server{Handler: realtime.Handler(), ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	if *openViewer {
		browser.Stdout = os.Stderr
		if err := browser.OpenURL(fmt.Sprintf("http://localhost:%d", cfg.Port)); err != nil {
			logger.Warn("could not open browser", "error", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !*noMCP {
		mcp := tools.NewServer(router, pipeline,
			tools.WithDisplays(screen),
			tools.WithLogger(logger.With("component", "mcp")))
		go func() {
			if err := mcp.Run(ctx, os.Stdin, os.Stdout); err != nil {
				logger.Error("mcp session ended", "error", err)
				return
			}
			logger.Info("mcp input closed")
		}()
	}

	select {
	case <-ctx.Done():
		ks.Trigger("signal")
	case <-ks.Done():
	case err := <-serveErr:
		pipeline.Stop()
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down", "reason", ks.Reason())
	pipeline.Stop()
	monitor.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}
	if err := pipeline.Wait(shutdownCtx); err != nil {
		logger.Warn("stream did not stop in time", "error", err)
	}
	return nil
}
