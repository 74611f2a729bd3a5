package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Nikita-bot/MedianLink/internal/audio"
	"github.com/Nikita-bot/MedianLink/internal/call"
	"github.com/Nikita-bot/MedianLink/internal/config"
	"github.com/Nikita-bot/MedianLink/internal/metrics"
	"github.com/Nikita-bot/MedianLink/internal/signaling"
	"github.com/Nikita-bot/MedianLink/internal/webrtcpeer"
)

type closingSink interface {
	call.Sink
	io.Closer
}

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	slog.SetDefault(logger)

	api, err := webrtcpeer.NewAPI(cfg, webrtcpeer.WithLogger(logger))
	if err != nil {
		logger.Error("failed to configure webrtc", "err", err)
		return 2
	}

	source, err := newSource(cfg, logger)
	if err != nil {
		logger.Error("failed to open audio input", "err", err, "path", cfg.AudioInputPath)
		return 2
	}
	sink, err := newSink(cfg)
	if err != nil {
		logger.Error("failed to open audio output", "err", err, "path", cfg.AudioOutputPath)
		return 2
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.Warn("closing audio output", "err", err)
		}
	}()

	engine, err := webrtcpeer.NewEngine(webrtcpeer.EngineConfig{
		API:        api,
		ICEServers: cfg.ICEServers,
		LocalTrack: source.Track(),
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build engine", "err", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting medianlink",
		"signaling_url", cfg.SignalingURL,
		"mode", cfg.Mode,
		"ice_servers", len(cfg.ICEServers),
		"audio_input", cfg.AudioInputPath,
		"audio_output", cfg.AudioOutputPath,
		"auto_start", cfg.AutoStart,
	)

	ch, err := signaling.Dial(ctx, cfg.SignalingURL, signaling.WebSocketConfigFrom(cfg, logger))
	if err != nil {
		logger.Error("failed to connect to signaling relay", "err", err, "url", cfg.SignalingURL)
		return 1
	}
	defer ch.Close()

	m := metrics.New()
	scfg := call.ConfigFrom(cfg)
	scfg.Engine = engine
	scfg.Channel = ch
	scfg.Sink = sink
	scfg.Logger = logger
	scfg.Metrics = m
	sup, err := call.NewSupervisor(scfg)
	if err != nil {
		logger.Error("failed to build call supervisor", "err", err)
		return 2
	}

	go func() {
		if err := source.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("audio input stopped", "err", err)
		}
	}()

	go func() {
		for {
			select {
			case err := <-sup.Failures():
				logger.Error("call failure", "err", err)
			case <-sup.Done():
				return
			}
		}
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- sup.Run(ctx)
	}()

	if cfg.AutoStart {
		if err := sup.StartCall(ctx); err != nil {
			logger.Error("auto start failed", "err", err)
		}
	}

	consoleDone := make(chan error, 1)
	go func() {
		consoleDone <- runConsole(ctx, os.Stdin, os.Stdout, sup)
	}()

	code := 0
	select {
	case err := <-runErr:
		if err != nil {
			logger.Error("call supervisor exited", "err", err)
			code = 1
		}
	case err := <-consoleDone:
		if err != nil {
			logger.Warn("console input failed", "err", err)
		}
		stop()
		if err := <-runErr; err != nil {
			logger.Error("call supervisor exited", "err", err)
			code = 1
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		if err := <-runErr; err != nil {
			logger.Error("call supervisor exited", "err", err)
			code = 1
		}
	}

	logger.Info("call metrics", "counters", m.Snapshot())
	return code
}

func newSource(cfg config.Config, logger *slog.Logger) (audio.Source, error) {
	if cfg.AudioInputPath == "" {
		return audio.NewSilenceSource()
	}
	return audio.NewOggSource(cfg.AudioInputPath, logger)
}

func newSink(cfg config.Config) (closingSink, error) {
	if cfg.AudioOutputPath == "" {
		return audio.DiscardSink{}, nil
	}
	return audio.NewOggSink(cfg.AudioOutputPath)
}
