package main

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/belphemur/calendar-source/internal/calendar"
	"github.com/belphemur/calendar-source/internal/config"
	"github.com/belphemur/calendar-source/internal/database"
	"github.com/belphemur/calendar-source/internal/logging"
	"github.com/belphemur/calendar-source/internal/sink"
	"github.com/belphemur/calendar-source/internal/source"
)

// app holds the components shared by every command
type app struct {
	cfg     *config.Config
	backend *database.Backend
	api     *calendar.GoogleClient
	source  *source.Source
	closers []func() error
}

func loadConfig(cli *CLI) (*config.Config, error) {
	logger := logging.GetLogger("main")

	cfg, err := config.Load(cli.Config)
	if err != nil {
		logger.Error().Err(err).Str("config_path", cli.Config).Msg("Failed to load configuration")
		return nil, err
	}
	level := logging.SetLogLevel(cfg.Service.LogLevel)
	logger.Info().Str("config_path", cli.Config).Str("log_level", level.String()).Msg("Configuration loaded")
	return cfg, nil
}

func newGoogleClient(ctx context.Context, cfg *config.Config) (*calendar.GoogleClient, error) {
	return calendar.NewGoogleClient(ctx, cfg.OAuth, calendar.GoogleOptions{
		ChannelTTL:        cfg.Source.ChannelTTL,
		ChannelToken:      cfg.Source.ChannelToken,
		RequestsPerSecond: cfg.Google.RequestsPerSecond,
		Burst:             cfg.Google.Burst,
	})
}

// newApp loads the configuration and wires backend, calendar client, sinks and source
func newApp(ctx context.Context, cli *CLI) (*app, error) {
	cfg, err := loadConfig(cli)
	if err != nil {
		return nil, err
	}

	backend, err := database.OpenBackend(ctx, cfg.Service.StateDSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open state backend: %w", err)
	}
	a := &app{cfg: cfg, backend: backend, closers: []func() error{backend.Close}}

	a.api, err = newGoogleClient(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	out, err := a.buildSink(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.source = source.New(a.api, backend.Store, out, source.Options{
		ResourceIDs:     cfg.Source.CalendarIDs,
		NewOnly:         cfg.Source.NewOnly,
		CallbackAddress: cfg.CallbackAddress(),
		ChannelToken:    cfg.Source.ChannelToken,
	})
	return a, nil
}

// buildSink assembles the configured sinks, wrapped in the dedupe sink when enabled
func (a *app) buildSink(ctx context.Context) (sink.Sink, error) {
	logger := logging.GetLogger("main")
	var sinks sink.Multi

	if a.cfg.Sink.Log {
		sinks = append(sinks, sink.NewLogSink())
	}
	if a.cfg.Sink.Signal {
		sinks = append(sinks, sink.NewSignalSink())
	}
	if a.cfg.Sink.RedisURL != "" {
		client := a.backend.Redis
		if client == nil || a.cfg.Sink.RedisURL != a.cfg.Service.StateDSN {
			var err error
			client, err = database.NewRedisClient(ctx, a.cfg.Sink.RedisURL)
			if err != nil {
				return nil, fmt.Errorf("failed to connect redis sink: %w", err)
			}
			a.closers = append(a.closers, client.Close)
		}
		sinks = append(sinks, sink.NewRedisStreamSink(client, a.cfg.Sink.RedisStream))
	}
	if len(sinks) == 0 {
		logger.Warn().Msg("No sink enabled, emitted events are dropped")
	}

	if a.cfg.Sink.Dedupe {
		return sink.NewDedupe(sinks, a.backend.Ledger), nil
	}
	return sinks, nil
}

// Close releases every connection opened by newApp
func (a *app) Close() error {
	var result *multierror.Error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}
