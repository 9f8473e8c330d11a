package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"schoolcal/internal/config"
	"schoolcal/internal/dav"
	"schoolcal/internal/google"
	"schoolcal/internal/metrics"
	"schoolcal/internal/portal"
	"schoolcal/internal/syncer"
	"schoolcal/internal/timetable"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "schoolcal",
		Usage: "Mirror a school timetable into a CalDAV or Google calendar.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, EnvVars: []string{"SCHOOLCAL_CONFIG"}, Usage: "Path to a YAML config file."},
		},
		Commands: []*cli.Command{
			authCommand(),
			calendarsCommand(),
			syncCommand(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, setupLogger(cfg.LogLevel), nil
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(cfg.Google.ClientID, cfg.Google.ClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Print("Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Printf("Enter a name for this account [%s]: ", cfg.Google.Account)
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			if accountName == "" {
				accountName = cfg.Google.Account
			}
			tokenFile := "token-" + accountName + ".json"

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars available on the configured backend.",
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}

			switch cfg.Backend {
			case config.BackendGoogle:
				accounts, err := google.GetTokenAccounts(".")
				if err != nil {
					return fmt.Errorf("could not look for google accounts: %w", err)
				}
				if len(accounts) == 0 {
					return errors.New("no google accounts found. Run the 'auth' command first")
				}
				for _, acc := range accounts {
					client, err := google.NewClient(c.Context, logger, cfg.Google.ClientID, cfg.Google.ClientSecret, acc, cfg.Google.CalendarID)
					if err != nil {
						return fmt.Errorf("failed to create google client for account %s: %w", acc, err)
					}
					calendars, err := client.DiscoverGoogleCalendars(c.Context)
					if err != nil {
						return err
					}
					ids := make([]string, 0, len(calendars))
					for id := range calendars {
						ids = append(ids, id)
					}
					sort.Strings(ids)
					fmt.Printf("Account %s:\n", acc)
					for _, id := range ids {
						fmt.Printf("  %s\t%s\n", id, calendars[id])
					}
				}
			case config.BackendCalDAV:
				calendars, err := dav.Discover(c.Context, logger, davOptions(cfg))
				if err != nil {
					return err
				}
				for _, cal := range calendars {
					fmt.Printf("%s\t%s\n", cal.Name, cal.Path)
				}
			default:
				return fmt.Errorf("unknown calendar backend %q", cfg.Backend)
			}
			return nil
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run the timetable synchronization process.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be synced without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Run sync every N seconds. Overrides --once."},
			&cli.StringFlag{Name: "schedule", Usage: "Run sync on a cron schedule, e.g. '0 6 * * *'. Overrides --watch."},
			&cli.StringFlag{Name: "report", Usage: "Write the last cycle's actions and free time to this JSON file."},
			&cli.BoolFlag{Name: "clear", Usage: "Delete every event in the sync window and exit."},
		},
		Action: func(c *cli.Context) error {
			cfg, logger, err := loadConfig(c)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			if c.Bool("dry-run") {
				logger.Info("Performing a dry run. No changes will be made.")
			}

			var m *metrics.Metrics
			if cfg.MetricsAddr != "" {
				reg := prometheus.NewRegistry()
				m = metrics.MustNewMetrics(reg)
				go func() {
					if err := metrics.Serve(c.Context, logger, cfg.MetricsAddr, reg); err != nil {
						logger.Error("Metrics server failed", "error", err)
					}
				}()
			}

			s, err := newSyncer(c, cfg, logger, m)
			if err != nil {
				return fmt.Errorf("failed to create syncer: %w", err)
			}

			switch {
			case c.Bool("clear"):
				logger.Info("Clearing the sync window.")
				return s.Clear(c.Context)
			case c.IsSet("schedule"):
				return runSchedule(c.Context, logger, s, c.String("schedule"), cfg.Location())
			case c.IsSet("watch"):
				interval := time.Duration(c.Int("watch")) * time.Second
				logger.Info("Starting watcher.", "interval", interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()
				for {
					if err := s.Sync(c.Context); err != nil {
						logger.Error("Sync cycle failed", "error", err)
					}
					select {
					case <-c.Context.Done():
						logger.Info("Stopping watcher.")
						return nil
					case <-ticker.C:
					}
				}
			default: // --once is the default behavior if neither --watch nor --schedule is set
				logger.Info("Running a single sync cycle.")
				if err := s.Sync(c.Context); err != nil {
					return fmt.Errorf("single sync cycle failed: %w", err)
				}
			}
			return nil
		},
	}
}

func newSyncer(c *cli.Context, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*syncer.Syncer, error) {
	loc := cfg.Location()

	source, err := portal.NewClient(logger.With("component", "portal"), portal.Options{
		BaseURL:         cfg.Portal.URL,
		APIURL:          cfg.Portal.APIURL,
		Username:        cfg.Portal.Username,
		Password:        cfg.Portal.Password,
		ViewState:       cfg.Portal.ViewState,
		EventValidation: cfg.Portal.EventValidation,
		SchoolID:        cfg.Portal.SchoolID,
		StudentID:       cfg.Portal.StudentID,
		Location:        loc,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create portal client: %w", err)
	}

	var cal syncer.Calendar
	switch cfg.Backend {
	case config.BackendGoogle:
		cal, err = google.NewClient(c.Context, logger.With("component", "google"), cfg.Google.ClientID, cfg.Google.ClientSecret, cfg.Google.Account, cfg.Google.CalendarID)
	default:
		cal, err = dav.NewClient(c.Context, logger.With("component", "caldav"), davOptions(cfg))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s client: %w", cfg.Backend, err)
	}

	// Validate has already rejected unknown modes.
	mode, _ := timetable.ParseMatchMode(cfg.ExcludeMode)
	return syncer.NewSyncer(logger, source, cal, syncer.Options{
		Exclusion:    timetable.Exclusion{Markers: cfg.ExcludeSubjects, Mode: mode},
		Days:         cfg.DaysToSync,
		Reminder:     cfg.Reminder(),
		Location:     loc,
		Workers:      cfg.Workers,
		FetchTimeout: cfg.FetchTimeout,
		DryRun:       c.Bool("dry-run"),
		ReportFile:   c.String("report"),
	}, m)
}

func davOptions(cfg *config.Config) dav.Options {
	return dav.Options{
		Endpoint:     cfg.CalDAV.URL,
		CalendarURL:  cfg.CalDAV.CalendarURL,
		CalendarName: cfg.CalDAV.CalendarName,
		Username:     cfg.CalDAV.Username,
		Password:     cfg.CalDAV.Password,
		Location:     cfg.Location(),
	}
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}
