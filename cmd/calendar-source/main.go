package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/belphemur/calendar-source/internal/logging"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// CLI is the command line of the connector
type CLI struct {
	ctx context.Context

	Config string `help:"Path to the TOML configuration file." default:"configs/calendar-source.toml" env:"CONFIG_FILE" type:"path"`

	Serve      ServeCmd      `cmd:"" default:"1" help:"Serve push notifications and renew channels until interrupted."`
	Activate   ActivateCmd   `cmd:"" help:"Register a fresh watch channel for every configured calendar."`
	Deactivate DeactivateCmd `cmd:"" help:"Stop every watch channel and clear its state."`
	Renew      RenewCmd      `cmd:"" help:"Renew channels expiring within the renewal interval once."`
	Calendars  CalendarsCmd  `cmd:"" help:"List the calendars visible to the configured credentials."`
	Version    VersionCmd    `cmd:"" help:"Show version."`
}

// Context returns the CLI's context for use by commands.
func (c *CLI) Context() context.Context {
	return c.ctx
}

func main() {
	// Load .env if present; real environment variables take precedence
	_ = godotenv.Load()

	isDev := os.Getenv("ENV") != "production"
	logging.Initialize(isDev)
	logger := logging.GetLogger("main")

	// Create context that's canceled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := &CLI{ctx: ctx}
	kongCtx := kong.Parse(cli,
		kong.Name("calendar-source"),
		kong.Description("Emit an event for every created or updated Google Calendar entry."),
		kong.UsageOnError(),
	)
	if err := kongCtx.Run(cli); err != nil {
		logger.Fatal().Err(err).Str("command", kongCtx.Command()).Msg("Command failed")
	}
}
