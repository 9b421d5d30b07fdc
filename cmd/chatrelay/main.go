// Package main provides the chatrelay command: the relay server plus
// administrative commands over the session ledger.
package main

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"gorm.io/gorm/logger"

	"github.com/thebtf/chatrelay/internal/config"
	gormdb "github.com/thebtf/chatrelay/internal/db/gorm"
	"github.com/thebtf/chatrelay/internal/ledger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		debug  bool
		pretty bool
	)

	root := &cobra.Command{
		Use:          "chatrelay",
		Short:        "Realtime conversational relay with post-session summarization",
		Version:      Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			level := ""
			if cfg, err := config.Load(); err == nil {
				level = cfg.LogLevel
			}
			setupLogging(cmd.ErrOrStderr(), debug, pretty, level)
		},
	}
	root.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	root.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable console logs instead of JSON")

	root.AddCommand(newServeCmd())
	root.AddCommand(newSessionCmd())
	root.AddCommand(newUserCmd())
	return root
}

// setupLogging configures the global logger. --debug wins over level.
func setupLogging(out io.Writer, debug, pretty bool, level string) {
	lvl := zerolog.InfoLevel
	if parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level))); err == nil && level != "" {
		lvl = parsed
	}
	if debug {
		lvl = zerolog.DebugLevel
	}
	zerolog.SetGlobalLevel(lvl)

	if pretty {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger()
		return
	}
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
}

// openLedger opens the configured record store and wraps it in a ledger.
func openLedger(cfg *config.Config) (*ledger.Ledger, func() error, error) {
	store, err := gormdb.NewStore(gormdb.Config{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DBDSN,
		MaxConns: cfg.DBMaxConns,
		LogLevel: logger.Silent,
	})
	if err != nil {
		return nil, nil, err
	}
	log.Debug().Str("driver", store.Driver()).Msg("Record store opened")
	return ledger.New(store.Sessions(), store.Events()), store.Close, nil
}

// loadConfig prepares the data directory and reads the settings.
func loadConfig() (*config.Config, error) {
	if err := config.EnsureAll(); err != nil {
		return nil, err
	}
	return config.Load()
}
