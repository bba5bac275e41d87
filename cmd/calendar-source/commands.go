package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/belphemur/calendar-source/internal/constants"
	"github.com/belphemur/calendar-source/internal/handlers"
	"github.com/belphemur/calendar-source/internal/logging"
	appSignals "github.com/belphemur/calendar-source/internal/signals"
)

const (
	shutdownTimeout   = 5 * time.Second
	deactivateTimeout = 30 * time.Second
	pruneInterval     = 24 * time.Hour
)

// ServeCmd runs the webhook server and the renewal loop
type ServeCmd struct{}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx := cli.Context()
	logger := logging.GetLogger("main")

	a, err := newApp(ctx, cli)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close connections")
		}
	}()

	appSignals.OnChannelRenewed(func(ctx context.Context, data appSignals.ChannelRenewedData) {
		logger.Info().
			Str("resource_id", data.ResourceID).
			Str("old_channel_id", data.OldChannelID).
			Str("new_channel_id", data.NewChannelID).
			Time("expires_at", time.UnixMilli(data.ExpirationMillis)).
			Msg("Notification channel renewed")
	}, "main-channel-renewed-handler")

	// Channels registered by a previous run may still be live
	if err := a.source.EnsureWatches(ctx); err != nil {
		logger.Warn().Err(err).Msg("Some watch channels could not be established, renewal will retry")
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.App.Port),
		Handler:           handlers.NewRouter(a.source, a.cfg.App.WebhookPath, version),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().
			Int("port", a.cfg.App.Port).
			Str("callback_address", a.cfg.CallbackAddress()).
			Strs("calendars", a.source.ResourceIDs()).
			Msg("Starting webhook server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down webhook server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown failed")
		}
		return nil
	})
	g.Go(func() error {
		a.source.RunRenewals(gctx, a.cfg.Source.RenewalInterval)
		return nil
	})
	g.Go(func() error {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				pruned, err := a.backend.PruneLedger(gctx, constants.DedupeRetention)
				if err != nil {
					logger.Warn().Err(err).Msg("Failed to prune emitted ledger")
					continue
				}
				logger.Debug().Int64("pruned", pruned).Msg("Pruned emitted ledger")
			}
		}
	})

	runErr := g.Wait()

	if a.cfg.Service.DeactivateOnShutdown {
		logger.Info().Msg("Stopping notification channels")
		deactivateCtx, cancel := context.WithTimeout(context.Background(), deactivateTimeout)
		defer cancel()
		if err := a.source.Deactivate(deactivateCtx); err != nil {
			logger.Error().Err(err).Msg("Failed to stop every notification channel")
		}
	}

	logger.Info().Msg("Server stopped")
	return runErr
}

// ActivateCmd replaces the watch channel of every configured calendar
type ActivateCmd struct{}

func (c *ActivateCmd) Run(cli *CLI) error {
	a, err := newApp(cli.Context(), cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.source.Activate(cli.Context()); err != nil {
		return fmt.Errorf("activation failed: %w", err)
	}
	logger := logging.GetLogger("main")
	logger.Info().Strs("calendars", a.source.ResourceIDs()).Msg("Activated")
	return nil
}

// DeactivateCmd stops every watch channel and clears its state
type DeactivateCmd struct{}

func (c *DeactivateCmd) Run(cli *CLI) error {
	a, err := newApp(cli.Context(), cli)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.source.Deactivate(cli.Context()); err != nil {
		return fmt.Errorf("deactivation failed: %w", err)
	}
	logger := logging.GetLogger("main")
	logger.Info().Msg("Deactivated")
	return nil
}

// RenewCmd runs a single renewal pass
type RenewCmd struct {
	Lookahead time.Duration `help:"Renew channels expiring within this window. Defaults to source.renewal_interval."`
}

func (c *RenewCmd) Run(cli *CLI) error {
	a, err := newApp(cli.Context(), cli)
	if err != nil {
		return err
	}
	defer a.Close()

	lookahead := c.Lookahead
	if lookahead <= 0 {
		lookahead = a.cfg.Source.RenewalInterval
	}
	if err := a.source.HandleTick(cli.Context(), lookahead); err != nil {
		return fmt.Errorf("renewal failed: %w", err)
	}
	snap := a.source.Stats().Snapshot()
	logger := logging.GetLogger("main")
	logger.Info().Int64("renewals", snap.Renewals).Msg("Renewal pass completed")
	return nil
}

// CalendarsCmd prints the calendars the credentials can watch
type CalendarsCmd struct{}

func (c *CalendarsCmd) Run(cli *CLI) error {
	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	api, err := newGoogleClient(cli.Context(), cfg)
	if err != nil {
		return err
	}
	cals, err := api.ListCalendars(cli.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSUMMARY\tACCESS\tPRIMARY")
	for _, cal := range cals {
		fmt.Fprintf(w, "%s\t%s\t%s\t%t\n", cal.ID, cal.Summary, cal.AccessRole, cal.Primary)
	}
	return w.Flush()
}

// VersionCmd prints build information
type VersionCmd struct{}

func (c *VersionCmd) Run(cli *CLI) error {
	fmt.Printf("%s %s (commit %s, built %s)\n", constants.AppIdentifier, version, commit, date)
	return nil
}
