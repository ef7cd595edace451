package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/flaresense/detection-server/internal/alert"
	"github.com/flaresense/detection-server/internal/capture"
	"github.com/flaresense/detection-server/internal/config"
	"github.com/flaresense/detection-server/internal/confirm"
	"github.com/flaresense/detection-server/internal/detector"
	"github.com/flaresense/detection-server/internal/eventlog"
	"github.com/flaresense/detection-server/internal/evidence"
	"github.com/flaresense/detection-server/internal/liveness"
	"github.com/flaresense/detection-server/internal/logger"
	"github.com/flaresense/detection-server/internal/metrics"
	"github.com/flaresense/detection-server/internal/notify"
	"github.com/flaresense/detection-server/internal/pipeline"
	"github.com/flaresense/detection-server/internal/webmonitor"
	"github.com/flaresense/detection-server/internal/webrtc"
)

const shutdownTimeout = 10 * time.Second

func serveCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the frame loop and the web monitor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), s.cfg)
		},
	}
}

// server owns every long-lived component of one serve run.
type server struct {
	cfg        *config.Config
	clock      clock.Clock
	metrics    *metrics.Metrics
	monitor    *webmonitor.Monitor
	events     *eventlog.Store
	peers      *webrtc.Server
	mqtt       *notify.MQTTChannel
	dispatcher *alert.Dispatcher
	pipeline   *pipeline.Pipeline
	web        *webmonitor.Server
	httpServer *http.Server
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Main", "FlareSense starting...")
	logger.Info("Main", "  Camera: %s (%s)", cfg.Capture.Input, cfg.Capture.Format)
	logger.Info("Main", "  Detector: %s", cfg.Detector.URL)
	logger.Info("Main", "  HTTP server: %s", cfg.HTTP.Addr)
	logger.Info("Main", "  Evidence path: %s", cfg.Evidence.Dir)

	srv, err := newServer(ctx, cfg)
	if err != nil {
		return err
	}

	httpErr := make(chan error, 1)
	go func() {
		logger.Info("Main", "Starting HTTP server on %s", cfg.HTTP.Addr)
		if err := srv.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		srv.superviseLoop(ctx)
	}()

	logger.Info("Main", "Server started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Main", "Shutting down...")
	case runErr = <-httpErr:
		logger.Error("Main", "HTTP server error: %v", runErr)
		stop()
	}

	<-loopDone
	err = multierr.Append(runErr, srv.shutdown())
	logger.Info("Main", "Server stopped")
	return err
}

func newServer(ctx context.Context, cfg *config.Config) (*server, error) {
	clk := clock.New()
	m := metrics.New()

	monitor := webmonitor.NewMonitor(cfg.Alert.StatusLabel, confirm.NewStatusStore())
	frames := webmonitor.NewFrameBroadcaster()
	frames.OnClientsChanged = m.StreamClientsChanged

	push := notify.NewPushChannel(cfg.Push.URLs, cfg.Alert.TaskTimeout)
	if push.Enabled() {
		if err := push.Validate(); err != nil {
			return nil, fmt.Errorf("invalid push url: %w", err)
		}
	}

	evidenceStore, err := evidence.NewStore(cfg.Evidence.Dir, cfg.Evidence.Quality, clk)
	if err != nil {
		return nil, err
	}

	// The event log is optional at runtime: alerts still go out without it.
	events, err := openEventLog(cfg)
	if err != nil {
		logger.Warn("Main", "Event log unavailable, analytics disabled: %v", err)
	}

	peers := webrtc.NewServer(cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients)
	peers.OnClientsChanged = m.WebRTCClientsChanged

	mqttCh := notify.NewMQTTChannel(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Username,
		cfg.MQTT.Password, cfg.MQTT.Topic, cfg.MQTT.QoS)

	dcfg := alert.DispatcherConfig{
		Channels: []notify.Channel{
			notify.NewSoundChannel(cfg.Sound.Enabled, cfg.Sound.File, nil),
			notify.NewVoiceChannel(cfg.Voice.BaseURL, cfg.Voice.AccountSID, cfg.Voice.AuthToken,
				cfg.Voice.From, cfg.Voice.To, nil),
			notify.NewEmailChannel(cfg.Email.APIKey, cfg.Email.From, cfg.Email.To, nil),
			mqttCh,
			push,
			peers,
		},
		Evidence:    evidenceStore,
		Observer:    m,
		Zone:        cfg.Alert.Zone,
		TaskTimeout: cfg.Alert.TaskTimeout,
	}
	if events != nil {
		dcfg.Events = events
	}
	dispatcher := alert.NewDispatcher(ctx, dcfg)

	opts := confirm.DefaultOptions()
	opts.ChaosThreshold = cfg.Confirm.ChaosThreshold
	opts.MagnitudeThreshold = cfg.Confirm.MagnitudeThreshold
	opts.Classifier = confirm.Classifier{
		MediumCoverage: cfg.Confirm.MediumCoverage,
		HighCoverage:   cfg.Confirm.HighCoverage,
	}
	opts.GraceWindow = cfg.Confirm.GraceWindow
	opts.RequirePriorFrame = cfg.Confirm.RequirePriorFrame

	pipe := pipeline.New(pipeline.Deps{
		Source: capture.NewFFmpegSource(capture.Options{
			Input:  cfg.Capture.Input,
			Format: cfg.Capture.Format,
			Width:  cfg.Capture.Width,
			Height: cfg.Capture.Height,
			FPS:    cfg.Capture.FPS,
		}, clk),
		Detector:   detector.NewHTTPClient(cfg.Detector.URL, cfg.Detector.Timeout, cfg.Detector.Label, cfg.Detector.MinConfidence),
		Engine:     confirm.NewEngine(liveness.NewScorer(), opts, clk),
		Status:     monitor.Status(),
		Gate:       alert.NewGate(cfg.Alert.Cooldown, clk, monitor),
		Dispatcher: dispatcher,
		Sink:       frames,
		Camera:     monitor,
		Observer:   m,
		Clock:      clk,
	}, pipeline.Config{})

	deps := webmonitor.Deps{
		Monitor:  monitor,
		Frames:   frames,
		Evidence: evidenceStore,
		Peers:    peers,
		Metrics:  m.Handler(),
	}
	if events != nil {
		deps.Events = events
	}
	web := webmonitor.NewServer(webmonitor.Config{
		Addr:           cfg.HTTP.Addr,
		StatusInterval: cfg.HTTP.StatusInterval,
		IdleInterval:   cfg.HTTP.IdleInterval,
	}, deps)
	web.Start()

	return &server{
		cfg:        cfg,
		clock:      clk,
		metrics:    m,
		monitor:    monitor,
		events:     events,
		peers:      peers,
		mqtt:       mqttCh,
		dispatcher: dispatcher,
		pipeline:   pipe,
		web:        web,
		httpServer: &http.Server{
			Addr:    cfg.HTTP.Addr,
			Handler: web.Handler(),
			// Streaming handlers end with the serve context.
			BaseContext:       func(net.Listener) context.Context { return ctx },
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

func eventlogConfig(cfg *config.Config) eventlog.Config {
	return eventlog.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		Path:     cfg.Database.Path,
		StatsTTL: cfg.Database.StatsTTL,
	}
}

func openEventLog(cfg *config.Config) (*eventlog.Store, error) {
	store, err := eventlog.Open(eventlogConfig(cfg), nil)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		return nil, multierr.Append(err, store.Close())
	}
	return store, nil
}

// superviseLoop runs capture sessions until ctx ends. A session that fails
// to acquire or detect a frame is restarted after the configured delay.
func (s *server) superviseLoop(ctx context.Context) {
	for {
		err := s.pipeline.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		s.pipeline.ResetStatus()
		logger.Warn("Main", "Capture session ended (%v), restarting in %s", err, s.cfg.Capture.RestartDelay)

		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.cfg.Capture.RestartDelay):
		}
	}
}

func (s *server) shutdown() error {
	s.web.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var err error
	if serr := s.httpServer.Shutdown(ctx); serr != nil {
		err = multierr.Append(err, fmt.Errorf("http shutdown: %w", serr))
	}
	if werr := s.dispatcher.Wait(ctx); werr != nil {
		err = multierr.Append(err, fmt.Errorf("alert tasks: %w", werr))
	}
	err = multierr.Append(err, s.peers.Close())
	err = multierr.Append(err, s.mqtt.Close())
	if s.events != nil {
		err = multierr.Append(err, s.events.Close())
	}
	return err
}
