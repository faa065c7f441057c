package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"rms-pricing-scraper/config"
	"rms-pricing-scraper/models"
	"rms-pricing-scraper/scraper/auth"
	"rms-pricing-scraper/scraper/browser"
	"rms-pricing-scraper/scraper/portal"
	"rms-pricing-scraper/services"
	"rms-pricing-scraper/storage"
	"rms-pricing-scraper/utils"
)

// app holds what every subcommand needs once PersistentPreRunE has run.
// teardown runs after Execute whether or not the command failed.
type app struct {
	cfg    *config.Config
	logger *utils.Logger
	store  *storage.Store
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{}

	root := &cobra.Command{
		Use:           "rmsscraper",
		Short:         "rmsscraper pulls daily pricing from hotel revenue-management portals into the database.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context())
		},
	}
	root.AddCommand(a.scrapeCmd(), a.importCmd(), a.statsCmd())
	return root, a
}

func (a *app) setup(ctx context.Context) error {
	a.cfg = config.Load()

	logger, err := utils.NewFileLogger(utils.LogOptions{
		Path:       a.cfg.LogPath,
		Level:      a.cfg.LogLevel,
		MaxSizeMB:  a.cfg.LogMaxSizeMB,
		MaxBackups: a.cfg.LogMaxBackups,
		MaxAgeDays: a.cfg.LogMaxAgeDays,
	})
	if err != nil {
		return err
	}
	a.logger = logger

	store, err := storage.Open(ctx, a.cfg.DBDriver, a.cfg.DSN(), &utils.RetryConfig{
		MaxAttempts: a.cfg.DBPingAttempts,
		BaseDelay:   time.Second,
		Logger:      logger,
	})
	if err != nil {
		a.logger.Error("Failed to connect to %s: %v", a.cfg.DBDriver, err)
		return err
	}
	a.store = store
	return nil
}

func (a *app) teardown() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("Closing database: %v", err)
		}
	}
	if a.logger != nil {
		a.logger.Sync()
	}
}

func (a *app) scrapeCmd() *cobra.Command {
	var (
		portalName string
		start      string
		days       int
		mfa        string
	)

	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Log in to every active credential group of a portal and store its pricing calendar.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if portalName == "" {
				portalName = a.cfg.Portal
			}
			adapter, err := portal.Lookup(portalName)
			if err != nil {
				return err
			}

			prompter := utils.NewPrompter(os.Stdin, os.Stdout)
			window, err := a.askWindow(ctx, prompter, start, days)
			if err != nil {
				return err
			}
			if mfa == "" {
				answer, err := prompter.Ask(ctx, fmt.Sprintf("MFA mode: push, otp or select [%s]", adapter.DefaultMFA))
				if err != nil {
					return err
				}
				mfa = orDefault(answer, adapter.DefaultMFA)
			}
			mode, err := auth.ParseMFAMode(mfa)
			if err != nil {
				return err
			}

			platforms, err := a.store.ActivePlatforms(ctx, adapter.Name)
			if err != nil {
				return err
			}
			if len(platforms) == 0 {
				return fmt.Errorf("no active %s credential groups with linked properties", adapter.DisplayName)
			}

			a.logger.Info("=== %s pricing scrape: %d groups, %s to %s (mfa: %s) ===",
				adapter.DisplayName, len(platforms),
				window.Start.Format(models.DateLayout), window.End.Format(models.DateLayout), mode)

			csvWriter, err := storage.NewCSVWriter(a.cfg.CSVBackupPath)
			if err != nil {
				return err
			}
			defer csvWriter.Close()

			pipeline := services.NewPipeline(a.cfg, adapter, services.PipelineDeps{
				Store:    a.store,
				Input:    prompter,
				Sessions: a.browserFactory(),
				Records:  csvWriter,
				Payloads: storage.NewPayloadFile(a.cfg.PayloadPath),
			}, a.logger)

			outcomes := pipeline.Run(ctx, platforms, window, mode)

			summary := services.NewSummaryService(a.logger)
			report := summary.Generate(outcomes)
			summary.Print(os.Stdout, report)

			if report.Successful == 0 {
				return errors.New("no credential group completed")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&portalName, "portal", "", "portal to scrape ("+strings.Join(portal.Names(), ", ")+")")
	cmd.Flags().StringVar(&start, "start", "", "first date to scrape, YYYY-MM-DD (asked when empty)")
	cmd.Flags().IntVar(&days, "days", 0, "number of days to scrape (asked when zero)")
	cmd.Flags().StringVar(&mfa, "mfa", "", "MFA mode: push, otp or select (asked when empty)")
	return cmd
}

// askWindow fills in whatever the flags left out by asking the operator.
func (a *app) askWindow(ctx context.Context, p *utils.Prompter, start string, days int) (models.DateRange, error) {
	var err error
	if start == "" {
		start, err = p.Ask(ctx, "Start date (YYYY-MM-DD, empty for today)")
		if err != nil {
			return models.DateRange{}, err
		}
	}
	first := time.Now().UTC().Truncate(24 * time.Hour)
	if start != "" {
		if first, err = time.Parse(models.DateLayout, start); err != nil {
			return models.DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
		}
	}

	if days <= 0 {
		answer, err := p.Ask(ctx, "Number of days")
		if err != nil {
			return models.DateRange{}, err
		}
		if days, err = strconv.Atoi(answer); err != nil || days <= 0 {
			return models.DateRange{}, fmt.Errorf("invalid number of days %q", answer)
		}
	}
	return models.NewDateRange(first, days), nil
}

func (a *app) browserFactory() services.SessionFactory {
	opts := browser.Options{
		ChromeBin: a.cfg.ChromeBin,
		Headless:  a.cfg.Headless,
		UserAgent: a.cfg.UserAgent,
	}
	return func() (services.BrowserSession, error) {
		b, err := browser.Open(opts, a.logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (a *app) importCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Store the records of a saved pricing payload without logging in.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				file = a.cfg.PayloadPath
			}
			body, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			payload, err := models.ParsePayload(body)
			if err != nil {
				return fmt.Errorf("%s: %w", file, err)
			}
			a.logger.Info("Importing %d properties, %d dates from %s", len(payload), payload.EntryCount(), file)

			pipeline := services.NewPipeline(a.cfg, nil, services.PipelineDeps{Store: a.store}, a.logger)
			out := pipeline.ImportPayload(cmd.Context(), payload)

			summary := services.NewSummaryService(a.logger)
			summary.Print(os.Stdout, summary.Generate([]*services.RunOutcome{out}))
			return out.Err
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "payload JSON file (defaults to PAYLOAD_PATH)")
	return cmd
}

func (a *app) statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print database counters and the most recent run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.store.Statistics(cmd.Context())
			if err != nil {
				return err
			}
			services.NewSummaryService(a.logger).PrintStatistics(os.Stdout, st)
			return nil
		},
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
