package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/johnwards/hubsync/internal/batch"
	"github.com/johnwards/hubsync/internal/config"
	"github.com/johnwards/hubsync/internal/credentials"
	"github.com/johnwards/hubsync/internal/database"
	"github.com/johnwards/hubsync/internal/domain"
	"github.com/johnwards/hubsync/internal/sink"
	"github.com/johnwards/hubsync/internal/store"
	"github.com/johnwards/hubsync/internal/syncer"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal error", "error", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "hubsync",
		Short:         "Pull modified HubSpot companies, contacts and meetings into the action sink",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return runSync(cmd.Context(), cfg)
		},
	}
	root.AddCommand(newAddAccountCmd(), newAccountsCmd())
	return root
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, fmt.Errorf("load config: %w", err)
	}
	setupLogger(cfg)
	return cfg, nil
}

func setupLogger(cfg config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var h slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(h))
}

func openStore(ctx context.Context, cfg config.Config) (*store.Store, error) {
	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store.New(db), nil
}

func runSync(ctx context.Context, cfg config.Config) error {
	s, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = s.DB.Close() }()

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	var out batch.Sink
	switch cfg.Sink {
	case config.SinkHTTP:
		out = sink.NewHTTP(cfg.SinkURL, httpClient)
	case config.SinkKafka:
		k := sink.NewKafka(cfg.KafkaBrokers, cfg.KafkaTopic, slog.Default())
		defer func() {
			if err := k.Close(); err != nil {
				slog.Error("close kafka writer", "error", err)
			}
		}()
		out = k
	default:
		out = s.Actions
	}

	orch := syncer.New(s.Domains, out, syncer.Options{
		Credentials: credentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			HTTPClient:   httpClient,
		},
		APIBaseURL:     cfg.APIURL,
		HTTPClient:     httpClient,
		RateLimit:      cfg.RateLimit,
		MaxRetries:     cfg.MaxRetries,
		RetryBackoff:   cfg.RetryBackoff,
		FlushThreshold: cfg.FlushThreshold,
		MaxInFlight:    cfg.MaxInFlight,
		Logger:         slog.Default(),
	})

	start := time.Now()
	report, err := orch.Run(ctx)
	if err != nil {
		return err
	}

	failed := 0
	for _, acct := range report.Accounts {
		if len(acct.Errors) > 0 || acct.DrainErr != nil || acct.SaveErr != nil {
			failed++
		}
	}
	slog.Info("sync finished",
		"runId", report.RunID,
		"accounts", len(report.Accounts),
		"accountsWithErrors", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
	return nil
}

func newAddAccountCmd() *cobra.Command {
	var acct domain.Account
	var apiKey string

	cmd := &cobra.Command{
		Use:   "add-account",
		Short: "Register a HubSpot account for syncing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.DB.Close() }()

			d, err := resolveDomain(ctx, s.Domains, apiKey)
			if err != nil {
				return err
			}
			if err := s.Domains.AddAccount(ctx, d.ID, acct); err != nil {
				return err
			}
			slog.Info("account added", "hubId", acct.HubID, "apiKey", d.APIKey)
			return nil
		},
	}
	cmd.Flags().StringVar(&acct.HubID, "hub-id", "", "HubSpot portal id")
	cmd.Flags().StringVar(&acct.RefreshToken, "refresh-token", "", "OAuth refresh token for the portal")
	cmd.Flags().StringVar(&acct.AccessToken, "access-token", "", "current access token, optional")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "domain api key; required when no domain exists yet")
	_ = cmd.MarkFlagRequired("hub-id")
	_ = cmd.MarkFlagRequired("refresh-token")
	return cmd
}

// resolveDomain returns the domain for apiKey, creating it if needed. Without
// an api key the existing domain is used.
func resolveDomain(ctx context.Context, domains store.DomainStore, apiKey string) (*domain.Domain, error) {
	if apiKey != "" {
		return domains.Ensure(ctx, apiKey)
	}
	d, err := domains.Load(ctx)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errors.New("no domain yet: pass --api-key")
	}
	return d, err
}

func newAccountsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List registered accounts and their watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			s, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = s.DB.Close() }()

			d, err := s.Domains.Load(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			_, _ = fmt.Fprintf(w, "DOMAIN\t%s\n", d.APIKey)
			_, _ = fmt.Fprintln(w, "HUB ID\tCOMPANIES\tCONTACTS\tMEETINGS")
			for _, a := range d.Accounts {
				_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", a.HubID,
					watermark(a.LastPulledDates.Companies),
					watermark(a.LastPulledDates.Contacts),
					watermark(a.LastPulledDates.Meetings),
				)
			}
			return w.Flush()
		},
	}
}

func watermark(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.UTC().Format(time.RFC3339)
}
