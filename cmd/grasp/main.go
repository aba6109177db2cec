package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/grasp/internal/config"
	"github.com/banshee-data/grasp/internal/db"
	"github.com/banshee-data/grasp/internal/debugplot"
	"github.com/banshee-data/grasp/internal/hand"
	"github.com/banshee-data/grasp/internal/monitoring"
	"github.com/banshee-data/grasp/internal/predict"
	"github.com/banshee-data/grasp/internal/serialmux"
	"github.com/banshee-data/grasp/internal/telemetry"
	"github.com/banshee-data/grasp/internal/tof"
	"github.com/banshee-data/grasp/internal/version"
)

var (
	configPath  = flag.String("config", "", "Path to a tuning config JSON file (defaults are used when empty)")
	listen      = flag.String("listen", ":8080", "Listen address for the debug server")
	port        = flag.String("port", "", "Serial port of the sensor board (overrides serial_port)")
	dbPath      = flag.String("db-path", "", "Path to the sqlite database (overrides db_path)")
	fakeSerial  = flag.Bool("fake-serial", false, "Generate synthetic sensor frames instead of opening a port")
	plotDir     = flag.String("plot-dir", "", "Write a CSV and PNG for every calibration session to this directory")
	coeffsFile  = flag.String("coeffs", "", "Import coefficients from a text file at startup")
	autosave    = flag.Bool("autosave", false, "Save the coefficient table after every committed fit")
	keys        = flag.Bool("keys", false, "Read single-key commands from stdin")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig(path string) (*config.TuningConfig, error) {
	if path == "" {
		return config.DefaultTuningConfig(), nil
	}
	return config.LoadTuningConfig(path)
}

// openSerial picks the frame source: a real port when one is configured,
// synthetic frames with --fake-serial, otherwise a source that never
// produces data.
func openSerial(cfg *config.TuningConfig, path string, fake bool) (serialmux.SerialMuxInterface, error) {
	switch {
	case fake:
		return serialmux.NewSerialMux(serialmux.NewSyntheticPort(tof.NumChannels, cfg.GetTickInterval())), nil
	case path != "":
		return serialmux.OpenSerialMux(serialmux.RealPortFactory{}, path, serialmux.PortOptions{BaudRate: cfg.GetSerialBaud()})
	default:
		log.Print("no serial port configured, running without sensor data")
		return serialmux.NewDisabledSerialMux(), nil
	}
}

func handOptions(cfg *config.TuningConfig) hand.Options {
	filter := cfg.FilterParams()
	params := cfg.CalibrationParams()
	remap := make(map[tof.Channel]predict.Remap, tof.NumChannels)
	for _, ch := range tof.Channels() {
		remap[ch] = cfg.RemapFor(ch)
	}
	return hand.Options{
		Filter:      &filter,
		Calibration: &params,
		Capacity:    cfg.GetCollectorCapacity(),
		Remap:       remap,
	}
}

func importCoefficients(h *hand.Hand, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := h.ImportText(f)
	if err != nil {
		return fmt.Errorf("import %s: %w", path, err)
	}
	log.Printf("imported %d curve pairs from %s", n, path)
	return nil
}

// readKeys runs every line read from r as a hand command.
func readKeys(ctx context.Context, h *hand.Hand, r io.Reader) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if err := h.Command(ctx, scanner.Text()); err != nil {
			log.Printf("command %q: %v", scanner.Text(), err)
		}
	}
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}
	monitoring.SetDebug(*debug)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	path := cfg.GetDBPath()
	if *dbPath != "" {
		path = *dbPath
	}

	if flag.Arg(0) == "migrate" {
		if err := db.RunMigrateCommand(flag.Args()[1:], path, os.Stdout); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		return
	}

	serialPort := cfg.GetSerialPort()
	if *port != "" {
		serialPort = *port
	}
	sensors, err := openSerial(cfg, serialPort, *fakeSerial)
	if err != nil {
		log.Fatalf("failed to open sensor board: %v", err)
	}
	defer sensors.Close()

	database, err := db.NewDB(path)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer database.Close()

	history := debugplot.NewHistory(debugplot.DefaultHistory)
	sinks := hand.Sinks{history}

	var mqttClient telemetry.Client
	if broker := cfg.GetMQTTBroker(); broker != "" {
		client, err := telemetry.Dial(broker, "grasp-"+uuid.NewString()[:8])
		if err != nil {
			log.Fatalf("failed to connect to mqtt broker: %v", err)
		}
		defer client.Disconnect(250)
		sinks = append(sinks, telemetry.NewPublisher(client, cfg.GetMQTTTopic()))
		// subscribed once the hand exists
		mqttClient = client
	}

	opts := handOptions(cfg)
	opts.Persister = database
	opts.Sink = sinks
	opts.Autosave = *autosave
	if *plotDir != "" {
		rec, err := debugplot.NewRecorder(*plotDir, *opts.Calibration)
		if err != nil {
			log.Fatalf("failed to create plot directory: %v", err)
		}
		opts.Recorder = rec
	}
	h, err := hand.New(opts)
	if err != nil {
		log.Fatalf("failed to build hand: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := h.LoadCoefficients(ctx); err != nil {
		log.Printf("failed to load stored coefficients: %v", err)
	}
	if *coeffsFile != "" {
		if err := importCoefficients(h, *coeffsFile); err != nil {
			log.Fatalf("failed to import coefficients: %v", err)
		}
	}
	if mqttClient != nil {
		if err := telemetry.Subscribe(ctx, mqttClient, cfg.GetMQTTTopic(), h); err != nil {
			log.Fatalf("failed to subscribe to mqtt topics: %v", err)
		}
	}
	log.Print(version.String())

	var wg sync.WaitGroup
	latest := &serialmux.Latest{}

	// serial IO
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := sensors.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		latest.Consume(ctx, sensors)
		log.Print("subscribe routine terminated")
	}()

	// driver loop
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := h.Run(ctx, cfg.GetTickInterval(), latest); err != nil && err != context.Canceled {
			log.Printf("hand loop stopped: %v", err)
		}
		log.Print("hand routine terminated")
	}()

	if *keys {
		// not waited on: a blocked stdin read must not hold up shutdown
		go readKeys(ctx, h, os.Stdin)
		for _, line := range hand.CommandHelp() {
			log.Print(line)
		}
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()
		sensors.AttachAdminRoutes(mux)
		if err := database.AttachAdminRoutes(mux); err != nil {
			log.Printf("failed to attach db admin routes: %v", err)
		}
		h.AttachAdminRoutes(mux)
		charts := &debugplot.Charts{History: history, Samples: database, Curves: h.Store()}
		charts.AttachAdminRoutes(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}

		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	if *autosave {
		if err := h.SaveCoefficients(context.Background()); err != nil {
			log.Printf("failed to save coefficients on exit: %v", err)
		}
	}
	log.Printf("graceful shutdown complete")
}
