package main

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

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
	case "run":
		run()
	case "version":
		fmt.Printf("guestshim v%s\n", version)
	case "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() {
	cfgPath := "guestshim.yaml"
	if len(os.Args) > 2 {
		cfgPath = os.Args[2]
	}

	logger, startupCloser := setupLogger("info", "json", "stdout")
	if startupCloser != nil {
		defer startupCloser.Close()
	}
	logger.Info("guestshim starting", "version", version)

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

	nc, err := net.Dial(cfg.Network.Network, cfg.Network.Address)
	if err != nil {
		logger.Error("dial failed", "network", cfg.Network.Network, "address", cfg.Network.Address, "error", err)
		os.Exit(1)
	}

	opts := []transport.Option{
		transport.WithPartSize(cfg.Pool.PartSize),
		transport.WithDispatchWorkers(cfg.Pool.DispatchWorkers),
	}
	conn := transport.Open(nc, transport.NewHandlerTable(nil), opts...)
	defer conn.Close()

	if err := runEchoScenario(conn, logger); err != nil {
		logger.Error("echo scenario failed", "error", err)
		os.Exit(1)
	}
	if err := runSumArrayScenario(conn, logger); err != nil {
		logger.Error("sum array scenario failed", "error", err)
		os.Exit(1)
	}

	logger.Info("guestshim scenarios completed")
}

// runEchoScenario drives the shallow round trip and its chained-response
// extension against demoproto.EchoHandlerID.
func runEchoScenario(conn *transport.Connection, logger *slog.Logger) error {
	w := conn.NewPacket(demoproto.EchoHandlerID)
	transport.WriteShallow(w, 65.420)

	resp, err := w.SendWithResponse()
	if err != nil {
		return fmt.Errorf("shallow round trip: %w", err)
	}
	answer := transport.ReadShallow[uint32](resp)
	logger.Info("shallow round trip complete", "answer", answer)

	w2 := resp.WriteResponse(nil)
	final, err := w2.SendWithResponse()
	if err != nil {
		return fmt.Errorf("chained round trip: %w", err)
	}
	u128 := transport.ReadShallow[demoproto.Uint128](final)
	logger.Info("chained response complete", "lo", u128.Lo, "hi", u128.Hi)
	return nil
}

// runSumArrayScenario drives the counted-array demo against
// demoproto.SumArrayHandlerID.
func runSumArrayScenario(conn *transport.Connection, logger *slog.Logger) error {
	w := conn.NewPacket(demoproto.SumArrayHandlerID)
	transport.WriteCountedArray[uint32](w, []uint32{1, 2, 3}, nil)

	resp, err := w.SendWithResponse()
	if err != nil {
		return fmt.Errorf("sum array: %w", err)
	}
	sum := transport.ReadShallow[uint32](resp)
	logger.Info("sum array complete", "sum", sum)
	return nil
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
	fmt.Println(`guestshim - FFI transport bus guest-side shim

Usage:
  guestshim <command> [options]

Commands:
  run [config]     Dial the host bridge and run the demo scenarios
                    (default config: guestshim.yaml)
  version          Show version
  help             Show this help

Examples:
  guestshim run
  guestshim run /etc/guestshim/guestshim.yaml`)
}
