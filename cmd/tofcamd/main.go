// Command tofcamd runs one time-of-flight camera as a sensor node. It serves
// the HTTP API, the gRPC health service, the MQTT command and frame topics,
// and journals sessions to SQLite.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/tofcam/internal/api"
	"github.com/banshee-data/tofcam/internal/command"
	"github.com/banshee-data/tofcam/internal/config"
	"github.com/banshee-data/tofcam/internal/db"
	"github.com/banshee-data/tofcam/internal/health"
	"github.com/banshee-data/tofcam/internal/monitoring"
	"github.com/banshee-data/tofcam/internal/mqttutil"
	"github.com/banshee-data/tofcam/internal/publish"
	"github.com/banshee-data/tofcam/internal/serialmux"
	"github.com/banshee-data/tofcam/internal/tof"
	"github.com/banshee-data/tofcam/internal/tof/camera"
	"github.com/banshee-data/tofcam/internal/tof/device"
	"github.com/banshee-data/tofcam/internal/tof/frames"
	"github.com/banshee-data/tofcam/internal/trigger"
	"github.com/banshee-data/tofcam/internal/version"
)

var (
	configPath   = flag.String("config", "", "Path to a JSON node config file")
	cameraName   = flag.String("name", "tofcam", "User-defined camera name")
	freeRunning  = flag.Bool("free-running", true, "Sample at the configured period; false waits for the external trigger line")
	periodUS     = flag.Int64("period-us", camera.DefaultSamplePeriodUS, "Sample period in microseconds")
	listen       = flag.String("listen", ":8080", "HTTP listen address")
	healthListen = flag.String("health-listen", ":50051", "gRPC health listen address (empty disables)")
	journalPath  = flag.String("journal", "tofcam.db", "Session journal SQLite path (empty disables)")
	mqttBroker   = flag.String("mqtt-broker", "", "MQTT broker host:port (empty disables MQTT)")
	triggerPort  = flag.String("trigger-port", "", "Serial port of the external trigger generator (empty disables)")
	triggerGen   = flag.Int("trigger-generator", 0, "Trigger generator id")
	triggerOut   = flag.Int("trigger-output", 0, "Generator output wired to the camera")
	triggerOffUS = flag.Int64("trigger-offset-us", 0, "Pulse offset in microseconds")
	autoStart    = flag.Bool("autostart", false, "Activate the camera and start sampling at launch")
	verbose      = flag.Bool("v", false, "Verbose (debug) logging")
	quiet        = flag.Bool("q", false, "Only log warnings")
	showVersion  = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	cfg := &config.NodeConfig{}
	if *configPath != "" {
		var err error
		cfg, err = config.LoadNodeConfig(*configPath)
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}
	}
	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })
	applyFlags(cfg, set)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	monitoring.SetLevel(cfg.GetLogLevel())
	monitoring.Infof("%s starting", version.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("tofcamd: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}

// applyFlags copies every flag given on the command line into cfg, so flags
// override the file and the file overrides defaults.
func applyFlags(cfg *config.NodeConfig, set map[string]bool) {
	if set["name"] {
		cfg.CameraName = config.Ptr(*cameraName)
	}
	if set["free-running"] {
		cfg.FreeRunning = config.Ptr(*freeRunning)
	}
	if set["period-us"] {
		cfg.SamplePeriodUS = config.Ptr(*periodUS)
	}
	if set["listen"] {
		cfg.HTTPListen = config.Ptr(*listen)
	}
	if set["health-listen"] {
		cfg.HealthListen = config.Ptr(*healthListen)
	}
	if set["journal"] {
		cfg.JournalPath = config.Ptr(*journalPath)
	}
	if set["mqtt-broker"] {
		if cfg.MQTT == nil {
			cfg.MQTT = &config.MQTTConfig{}
		}
		cfg.MQTT.Broker = *mqttBroker
	}
	if set["trigger-port"] || set["trigger-generator"] || set["trigger-output"] || set["trigger-offset-us"] {
		if cfg.Trigger == nil {
			cfg.Trigger = &config.TriggerConfig{}
		}
		if set["trigger-port"] {
			cfg.Trigger.SerialPort = *triggerPort
		}
		if set["trigger-generator"] {
			cfg.Trigger.GeneratorID = *triggerGen
		}
		if set["trigger-output"] {
			cfg.Trigger.CameraOutput = *triggerOut
		}
		if set["trigger-offset-us"] {
			cfg.Trigger.OffsetUS = *triggerOffUS
		}
	}
	switch {
	case set["v"] && *verbose:
		cfg.LogLevel = config.Ptr("debug")
	case set["q"] && *quiet:
		cfg.LogLevel = config.Ptr("warn")
	}
}

func run(ctx context.Context, cfg *config.NodeConfig) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	name := cfg.GetCameraName()

	// frame fan-out
	bus := publish.NewBus()
	defer bus.Close()

	stats := monitoring.NewFrameStats(30)
	statsCh := make(chan frames.Frame, 4)
	if err := bus.Subscribe("stats", statsCh); err != nil {
		return err
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		stats.Run(ctx, statsCh)
	}()

	var observers camera.Observers

	// session journal
	var journalDB *db.DB
	if path := cfg.GetJournalPath(); path != "" {
		d, err := db.NewDB(path)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		journalDB = d
		journal := db.NewJournal(d, name, nil, func(err error) string { return command.Code(err).String() })
		observers = append(observers, journal)
		// cancelled after the deferred Deactivate below
		journalCtx, journalCancel := context.WithCancel(context.Background())
		defer journalCancel()
		wg.Add(1)
		go func() {
			defer wg.Done()
			journal.Run(journalCtx)
			if err := d.Close(); err != nil {
				monitoring.Warnf("close journal: %v", err)
			}
		}()
	}

	// gRPC health
	if addr := cfg.GetHealthListen(); addr != "" {
		hs := health.NewServer(addr)
		if err := hs.Start(); err != nil {
			return err
		}
		defer hs.Stop()
		observers = append(observers, hs)
	}

	// MQTT frames, commands and status
	var cmdSrv *command.MQTTServer
	if m := cfg.GetMQTT(); m.Broker != "" {
		topics := command.NewTopics(m.TopicPrefix)
		client, err := mqttutil.Connect(mqttutil.Options{
			Broker:      m.Broker,
			ClientID:    m.ClientID,
			Username:    m.Username,
			Password:    m.Password,
			StatusTopic: topics.Status,
		})
		if err != nil {
			return err
		}
		defer client.Disconnect(250)

		pub := publish.NewMQTTPublisher(client, m.TopicPrefix+"/frames")
		pub.SetQoS(m.GetQoS())
		pubCh := make(chan frames.Frame, 8)
		if err := bus.Subscribe("mqtt", pubCh); err != nil {
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			pub.Run(ctx, pubCh)
		}()

		cmdSrv = command.NewMQTTServer(client, topics, nil, nil)
		observers = append(observers, cmdSrv)
	}

	// external trigger generator
	var opts []camera.Option
	var triggerMux serialmux.SerialMuxInterface
	if tc := cfg.GetTrigger(); tc.SerialPort != "" {
		mux, err := serialmux.NewRealSerialMux(tc.SerialPort, tc.PortOptions)
		if err != nil {
			return fmt.Errorf("open trigger generator: %w", err)
		}
		defer mux.Close()
		triggerMux = mux
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := mux.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Warnf("trigger link: %v", err)
			}
		}()
		opts = append(opts, camera.WithTriggerGenerator(trigger.NewGenerator(mux, tc.Config)))
	}

	// camera
	simCfg := device.DefaultSimConfig()
	simCfg.Synthetic = true
	dev := device.NewSim(simCfg)
	opts = append(opts, camera.WithObserver(observers))
	cam := camera.New(dev, camera.Config{
		Name:           name,
		Trigger:        cfg.GetTriggerKind(),
		TriggerLine:    cfg.GetTriggerLine(),
		SamplePeriodUS: cfg.GetSamplePeriodUS(),
		Acquisition:    cfg.GetAcquisition(),
	}, bus, opts...)
	disp := command.NewDispatcher(cam)

	if cmdSrv != nil {
		cmdSrv.SetDispatcher(disp)
		cmdSrv.SetStatusFunc(cam.Status)
		if err := cmdSrv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			cancel()
			cmdSrv.Stop()
		}()
	}

	// deactivate before the observers shut down
	defer func() {
		if err := cam.Deactivate(); err != nil {
			monitoring.Warnf("deactivate: %v", err)
		}
	}()

	// HTTP
	mux := api.NewServer(cam.Status, disp, stats, journalDB).ServeMux()
	if journalDB != nil {
		if err := journalDB.AttachAdminRoutes(mux); err != nil {
			return err
		}
	}
	if triggerMux != nil {
		triggerMux.AttachAdminRoutes(mux)
	}
	server := &http.Server{
		Addr:    cfg.GetHTTPListen(),
		Handler: api.LoggingMiddleware(mux),
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			monitoring.Warnf("HTTP server: %v", err)
		}
	}()

	if *autoStart {
		if err := startSampling(cam); err != nil {
			monitoring.Warnf("autostart: %v", err)
		}
	}

	<-ctx.Done()
	log.Println("shutting down HTTP server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			log.Printf("HTTP server force close error: %v", err)
		}
	}
	return nil
}

func startSampling(cam *camera.Camera) error {
	if err := cam.Activate(); err != nil {
		return err
	}
	if cam.Status().Trigger == tof.FreeRunning {
		ok, err := cam.IsSamplingSupported(cam.SamplePeriodUS())
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("sample period %d us not supported by the device", cam.SamplePeriodUS())
		}
	}
	return cam.Start()
}
