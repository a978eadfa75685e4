package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

func printVersion() {
	fmt.Printf("doorcounter v%s\n", version)
	fmt.Println("Dual light-barrier people counter daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  doorcounter [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Counts people walking through a doorway fitted with an outer and an inner")
	fmt.Println("  light barrier. Each sample is thresholded, debounced and handed to two")
	fmt.Println("  crossing workers: one waits for the entering pattern, the other for the")
	fmt.Println("  leaving pattern. The current occupancy is served over HTTP, WebSocket and")
	fmt.Println("  a Unix socket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (optional)")
	fmt.Println()
	fmt.Println("  -input string")
	fmt.Println("        Barrier source: evdev|serial|none")
	fmt.Println()
	fmt.Println("  -evdev-device string")
	fmt.Println("        Linux input event device carrying both barriers")
	fmt.Println()
	fmt.Println("  -serial-port string / -serial-baud int")
	fmt.Printf("        Serial line source (default baud %d)\n", defaultSerialBaud)
	fmt.Println()
	fmt.Println("  -enter-threshold int / -exit-threshold int")
	fmt.Printf("        Raw sample thresholds (default %d / %d)\n", defaultEnterThreshold, defaultExitThreshold)
	fmt.Println()
	fmt.Println("  -debounce-ms int")
	fmt.Printf("        Per-barrier debounce window (default %d)\n", defaultDebounce.Milliseconds())
	fmt.Println()
	fmt.Println("  -sequence-timeout-ms int")
	fmt.Printf("        Maximum duration of one crossing sequence (default %d)\n", defaultSequenceTimeout.Milliseconds())
	fmt.Println()
	fmt.Println("  -delivery string")
	fmt.Println("        Worker notification delivery: latest|queued (default \"latest\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocket)
	fmt.Println()
	fmt.Println("  -http-port int")
	fmt.Printf("        HTTP/WebSocket port, 0 disables (default %d)\n", defaultHTTPPort)
	fmt.Println()
	fmt.Println("  -store string")
	fmt.Println("        SQLite crossing log path (enables the crossing log)")
	fmt.Println()
	fmt.Println("  -reset-at string")
	fmt.Println("        Daily count reset time HH:MM, empty disables (default \"00:00\")")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  # gpio-keys barriers on one input device")
	fmt.Println("  doorcounter -evdev-device /dev/input/event2")
	fmt.Println()
	fmt.Println("  # microcontroller streaming \"O 1234\" lines")
	fmt.Println("  doorcounter -input serial -serial-port /dev/ttyACM0 -store /var/lib/doorcounter/crossings.db")
	fmt.Println()
	fmt.Println("  # no hardware; drive it with doorctl sample ...")
	fmt.Println("  doorcounter -input none -log-level debug")
	fmt.Println()
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath = flag.String("config", "", "Path to YAML config file (optional)")
		inputSrc   = flag.String("input", "", "Barrier source: evdev|serial|none")
	)

	var o FlagOverrides
	evdevDevice := flag.String("evdev-device", "", "Linux input event device")
	serialPort := flag.String("serial-port", "", "Serial port for the line source")
	serialBaud := flag.Int("serial-baud", defaultSerialBaud, "Serial baud rate")
	enterThreshold := flag.Int("enter-threshold", defaultEnterThreshold, "Samples below this are ENTER")
	exitThreshold := flag.Int("exit-threshold", defaultExitThreshold, "Samples above this are EXIT")
	debounceMS := flag.Int("debounce-ms", int(defaultDebounce.Milliseconds()), "Per-barrier debounce window in ms")
	seqTimeoutMS := flag.Int("sequence-timeout-ms", int(defaultSequenceTimeout.Milliseconds()), "Crossing sequence timeout in ms")
	delivery := flag.String("delivery", string(DeliveryLatest), "Notification delivery: latest|queued")
	ipcSocket := flag.String("ipc-socket", defaultIPCSocket, "Unix domain socket path for IPC")
	httpPort := flag.Int("http-port", defaultHTTPPort, "HTTP/WebSocket port (0 disables)")
	storePath := flag.String("store", "", "SQLite crossing log path")
	resetAt := flag.String("reset-at", "00:00", "Daily reset time HH:MM (empty disables)")
	logLevel := flag.String("log-level", "info", "Log level: error, warn, info, debug")

	flag.Usage = printUsage
	flag.Parse()

	// Only flags given on the command line override the config file.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "evdev-device":
			o.EvdevDevice = evdevDevice
		case "serial-port":
			o.SerialPort = serialPort
		case "serial-baud":
			o.SerialBaud = serialBaud
		case "enter-threshold":
			o.EnterThreshold = enterThreshold
		case "exit-threshold":
			o.ExitThreshold = exitThreshold
		case "debounce-ms":
			o.DebounceMS = debounceMS
		case "sequence-timeout-ms":
			o.SequenceTimeoutMS = seqTimeoutMS
		case "delivery":
			o.Delivery = delivery
		case "ipc-socket":
			o.IPCSocketPath = ipcSocket
		case "http-port":
			o.HTTPPort = httpPort
		case "store":
			o.StorePath = storePath
		case "reset-at":
			o.ResetAt = resetAt
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	o.InputSource = *inputSrc

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(level)

	if err := run(cfg, logger); err != nil {
		logger.Error("doorcounter stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	daemon, err := NewDaemon(cfg, logger)
	if err != nil {
		return err
	}
	defer daemon.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return daemon.Run(gctx) })
	g.Go(func() error { return runIPCServer(gctx, cfg.IPC.SocketPath, daemon, logger) })
	if cfg.HTTP.Enabled {
		mux := newAPIMux(daemon, daemon.StateServer(), logger)
		g.Go(func() error { return runHTTPServer(gctx, cfg.HTTP.Port, mux, logger) })
	}

	if err := startInput(gctx, g, cfg.Input, cfg.ToEngineConfig().Thresholds, daemon, logger); err != nil {
		stop()
		_ = g.Wait()
		return err
	}

	logger.Debug("starting doorcounter", "version", version)
	logger.Debug("configuration",
		"enter_threshold", cfg.Barriers.EnterThreshold,
		"exit_threshold", cfg.Barriers.ExitThreshold,
		"debounce_ms", cfg.Barriers.DebounceMS,
		"sequence_timeout_ms", cfg.Matcher.SequenceTimeoutMS,
		"delivery", cfg.Matcher.Delivery,
		"pin_workers", cfg.Matcher.PinWorkers,
		"store_enabled", cfg.Store.Enabled,
		"reset_at", cfg.Reset.DailyAt)
	logger.Info("listening",
		"input", cfg.Input.Source,
		"ipc", cfg.IPC.SocketPath,
		"http_enabled", cfg.HTTP.Enabled,
		"http_port", cfg.HTTP.Port)

	err = g.Wait()
	logger.Info("shutting down", "count", daemon.Count())
	return err
}

// ============================================================================
// Input sources
// ============================================================================
// Readers block on their devices in their own goroutines and hand samples to
// an input loop that feeds the engine. A reader that fails stops the daemon.
// ============================================================================

func startInput(ctx context.Context, g *errgroup.Group, cfg InputConfig, t Thresholds, ctrl Controller, logger *slog.Logger) error {
	switch cfg.Source {
	case "evdev":
		evType, err := parseEventType(cfg.Evdev.EventType)
		if err != nil {
			return err
		}
		files, err := openInputDevices(cfg.Evdev.Devices)
		if err != nil {
			return fmt.Errorf("%w (tip: run as root or add user to 'input' group)", err)
		}
		mapping := evdevMapping{
			Type:          evType,
			OuterCode:     cfg.Evdev.OuterCode,
			InnerCode:     cfg.Evdev.InnerCode,
			BlockedSample: cfg.Evdev.BlockedSample,
			ClearSample:   cfg.Evdev.ClearSample,
		}

		events := make(chan inputEvent, 64)
		readErr := make(chan error, 1)
		go readInputEventsEpoll(files, events, readErr)

		g.Go(func() error {
			defer func() {
				for _, f := range files {
					f.Close()
				}
			}()
			return runEvdevLoop(ctx, mapping, newEdgeFilter(t), events, readErr, ctrl)
		})
		logger.Info("evdev input", "devices", cfg.Evdev.Devices, "event_type", cfg.Evdev.EventType)
		return nil

	case "serial":
		port, err := openSerialPort(cfg.Serial.Port, cfg.Serial.Baud)
		if err != nil {
			return err
		}
		samples := make(chan rawSample, 64)
		readErr := make(chan error, 1)
		go readSerialSamples(port, samples, readErr, logger)

		g.Go(func() error {
			defer port.Close()
			return runSampleLoop(ctx, newEdgeFilter(t), samples, readErr, ctrl)
		})
		logger.Info("serial input", "port", cfg.Serial.Port, "baud", cfg.Serial.Baud)
		return nil

	case "none":
		logger.Info("no hardware input; samples arrive over IPC only")
		return nil

	default:
		return fmt.Errorf("unknown input source %q", cfg.Source)
	}
}

// runEvdevLoop translates input events into barrier samples.
func runEvdevLoop(ctx context.Context, m evdevMapping, f *edgeFilter, events <-chan inputEvent, readErr <-chan error, ctrl Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("input reader stopped: %w", err)
		case ev := <-events:
			if s, ok := m.translate(ev); ok {
				f.feed(ctrl, s)
			}
		}
	}
}

func runSampleLoop(ctx context.Context, f *edgeFilter, samples <-chan rawSample, readErr <-chan error, ctrl Controller) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return fmt.Errorf("serial reader stopped: %w", err)
		case s := <-samples:
			f.feed(ctrl, s)
		}
	}
}
