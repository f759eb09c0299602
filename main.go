package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"event-notifier-bot/bot"
	"event-notifier-bot/config"
	"event-notifier-bot/db"
	"event-notifier-bot/logger"
)

var (
	cfgFile string
	migrate bool
	cfg     *config.Config
	log     *logger.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "event-notifier-bot",
		Short: "Posts upcoming events to subscribed chat channels",
		Long: `Scrapes event sources twice a day, stores the events and keeps one message
per upcoming event in every subscribed channel up to date.`,
		PersistentPreRunE: initialize,
		SilenceUsage:      true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.AddCommand(startCmd())
	rootCmd.AddCommand(scrapeCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func initialize(*cobra.Command, []string) error {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	log = logger.New(cfg.Logging)
	return nil
}

func startCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the bot until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cfg.Validate()
			if err != nil {
				return err
			}
			if migrate {
				err = migrateUp()
				if err != nil {
					return err
				}
			}
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			confirm := make(chan struct{})
			failed := make(chan error, 1)
			go func() {
				failed <- bot.Start(ctx, cfg, log, confirm)
			}()
			s := make(chan os.Signal, 1)
			signal.Notify(s, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-failed:
				log.Error().Err(err).Msg("bot failed to start")
				return err
			case sig := <-s:
				log.Info().Str("signal", sig.String()).Msg("shutting down")
			}
			cancel()
			return awaitStop(confirm, failed)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", true, "apply database migrations before starting")
	return cmd
}

// awaitStop waits until the bot confirms its shutdown. A start interrupted before the bot was up
// never confirms and reports on failed instead.
func awaitStop(confirm <-chan struct{}, failed <-chan error) error {
	select {
	case <-confirm:
		return nil
	case err := <-failed:
		return err
	}
}

func scrapeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scrape",
		Short: "Run one scrape and notify cycle and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := cfg.Validate()
			if err != nil {
				return err
			}
			cycle, err := bot.RunOnce(cmd.Context(), cfg, log)
			if err != nil {
				log.Error().Err(err).Msg("cycle failed")
				return err
			}
			log.Info().
				Str("cycle_id", cycle.Id).
				Int("scraped", cycle.Scraped).
				Int("upserted", cycle.Upserted).
				Int("channels", len(cycle.Reports)).
				Msg("cycle finished")
			return nil
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database schema commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all migrations",
		RunE: func(*cobra.Command, []string) error {
			return migrateUp()
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Revert all migrations",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator((*db.Migrator).Down)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Drop every table and recreate the schema",
		RunE: func(*cobra.Command, []string) error {
			return withMigrator((*db.Migrator).Reset)
		},
	})
	return cmd
}

func migrateUp() error {
	return withMigrator((*db.Migrator).Up)
}

func withMigrator(run func(*db.Migrator) error) error {
	m, err := db.NewMigrator(cfg.Database.DSN())
	if err != nil {
		return err
	}
	defer func() {
		err := m.Close()
		if err != nil {
			log.Warn().Err(err).Msg("unable to close migrator")
		}
	}()
	err = run(m)
	if err != nil {
		return err
	}
	log.Info().Msg("migration finished")
	return nil
}
