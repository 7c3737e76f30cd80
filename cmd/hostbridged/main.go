package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kestrelvm/transport"
	"github.com/kestrelvm/transport/internal/config"
	"github.com/kestrelvm/transport/internal/demoproto"
)

var version = "0.1.0-dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve", "start":
		serve()
	case "version":
		fmt.Printf("hostbridged v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func serve() {
	cfgPath := "hostbridged.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	logger, startupCloser := setupLogger("info", "json", "stdout")
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	logger.Info("hostbridged starting", "version", version)

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if startupCloser != nil {
		_ = startupCloser.Close()
		startupCloser = nil
	}
	logger, logCloser := setupLogger(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	if logCloser != nil {
		defer logCloser.Close()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	conn, accepted, err := acceptOne(cfg, logger)
	if err != nil {
		logger.Error("failed to accept guest connection", "error", err)
		os.Exit(1)
	}
	logger.Info("guest connected", "remote", accepted)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case <-connFaulted(conn):
		logger.Warn("connection faulted", "error", conn.Err())
	}

	if err := conn.Close(); err != nil {
		logger.Error("connection close error", "error", err)
	}
	logger.Info("hostbridged stopped")
}

// acceptOne listens on cfg.Network and accepts exactly one guest connection,
// wiring it into a transport.Connection running the demo handler table.
func acceptOne(cfg *config.Config, logger *slog.Logger) (*transport.Connection, string, error) {
	ln, err := net.Listen(cfg.Network.Network, cfg.Network.Address)
	if err != nil {
		return nil, "", fmt.Errorf("listen %s %s: %w", cfg.Network.Network, cfg.Network.Address, err)
	}
	defer ln.Close()

	nc, err := ln.Accept()
	if err != nil {
		return nil, "", fmt.Errorf("accept: %w", err)
	}

	handlers := transport.NewHandlerTable(map[uint64]transport.Handler{
		demoproto.EchoHandlerID:     echoHandler(logger),
		demoproto.SumArrayHandlerID: sumArrayHandler(logger),
	})

	opts := []transport.Option{
		transport.WithPartSize(cfg.Pool.PartSize),
		transport.WithDispatchWorkers(cfg.Pool.DispatchWorkers),
		transport.WithDispatchErrorHandler(func(err error) {
			logger.Warn("dispatch error", "error", err)
		}),
	}
	if cfg.Pool.IdleTeardown.Duration() > 0 {
		opts = append(opts, transport.WithIdleTeardown(cfg.Pool.IdleTeardown.Duration()))
	}

	conn := transport.Open(nc, handlers, opts...)
	return conn, nc.RemoteAddr().String(), nil
}

// echoHandler implements the shallow-round-trip and chained-response demo:
// it reads a float64, answers with a uint32, then itself blocks on a second
// round trip before answering with a Uint128.
func echoHandler(logger *slog.Logger) transport.Handler {
	return func(r *transport.PacketReader) {
		v := transport.ReadShallow[float64](r)
		logger.Debug("echo handler received", "value", v)

		w := r.WriteResponse(nil)
		transport.WriteShallow(w, uint32(42))

		follow, err := w.SendWithResponse()
		if err != nil {
			logger.Warn("echo handler chained round trip failed", "error", err)
			return
		}

		w2 := follow.WriteResponse(nil)
		transport.WriteShallow(w2, demoproto.Uint128{Lo: 4, Hi: 0})
		if err := w2.Send(); err != nil {
			logger.Warn("echo handler final send failed", "error", err)
		}
	}
}

// sumArrayHandler reads a counted array of uint32 and answers with its sum,
// demonstrating the counted-array read/write pair.
func sumArrayHandler(logger *slog.Logger) transport.Handler {
	return func(r *transport.PacketReader) {
		elems := transport.ReadCountedArray[uint32](r, nil)
		var sum uint32
		for _, e := range elems {
			sum += e
		}
		logger.Debug("sum array handler received", "count", len(elems), "sum", sum)

		w := r.WriteResponse(nil)
		transport.WriteShallow(w, sum)
		if err := w.Send(); err != nil {
			logger.Warn("sum array handler send failed", "error", err)
		}
	}
}

// connFaulted polls Connection.Err, since the core engine exposes fault
// state only through that accumulator and not a dedicated channel.
func connFaulted(conn *transport.Connection) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		ticker := time.NewTicker(200 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if conn.Err() != nil {
				close(ch)
				return
			}
		}
	}()
	return ch
}

func setupLogger(level, format, output string) (*slog.Logger, io.Closer) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	writer, closer := resolveLogOutput(output)
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), closer
}

func resolveLogOutput(output string) (io.Writer, io.Closer) {
	switch output {
	case "", "stdout":
		return os.Stdout, nil
	case "stderr":
		return os.Stderr, nil
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return os.Stdout, nil
		}
		return f, f
	}
}

func printUsage() {
	fmt.Println(`hostbridged - FFI transport bus host-side bridge

Usage:
  hostbridged <command> [options]

Commands:
  serve [config]   Start the host bridge (default config: hostbridged.yaml)
  start [config]   Alias for serve
  version          Show version
  help             Show this help

Signals:
  SIGINT/SIGTERM   Graceful shutdown

Examples:
  hostbridged serve
  hostbridged serve /etc/hostbridged/hostbridged.yaml`)
}
