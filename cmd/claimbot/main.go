package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/claimbot/claimbot/internal/batch"
	"github.com/claimbot/claimbot/internal/config"
	"github.com/claimbot/claimbot/internal/driver"
	"github.com/claimbot/claimbot/internal/ehr/rev"
	"github.com/claimbot/claimbot/internal/payer/vsp"
	"github.com/claimbot/claimbot/internal/platform/blobstore"
	"github.com/claimbot/claimbot/internal/platform/browser"
	"github.com/claimbot/claimbot/internal/platform/httpclient"
	"github.com/claimbot/claimbot/internal/platform/llm"
	"github.com/claimbot/claimbot/internal/platform/notification"
	"github.com/claimbot/claimbot/internal/platform/selectors"
	"github.com/claimbot/claimbot/internal/platform/telemetry"
	"github.com/claimbot/claimbot/internal/workflow"
)

const (
	exitOK          = 0
	exitSetup       = 1
	exitInterrupted = 130

	httpTimeout = 30 * time.Second
)

// errInterrupted marks a run stopped by a signal before the list was done.
var errInterrupted = errors.New("run interrupted")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, errInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	}
	return exitSetup
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "claimbot",
		Short:         "File today's vision-plan claims from the EHR to VSP",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := newLogger(os.Stdout, cfg)
			if err := runBatch(cmd.Context(), cfg, logger); err != nil {
				logger.Error().Err(err).Msg("claim run failed")
				return err
			}
			return nil
		},
	}
	cmd.AddCommand(worklistCmd())
	return cmd
}

func newLogger(w io.Writer, cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func worklistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worklist",
		Short: "Print the invoices still on a day's work-list",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dateFlag, _ := cmd.Flags().GetString("date")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			day := time.Now()
			if dateFlag != "" {
				day, err = time.ParseInLocation("2006-01-02", dateFlag, time.Local)
				if err != nil {
					return fmt.Errorf("--date: %w", err)
				}
			}
			return printWorkList(cmd.OutOrStdout(), cfg.DataDir, day)
		},
	}
	cmd.Flags().String("date", "", "Work-list date (YYYY-MM-DD), today when empty")
	return cmd
}

func printWorkList(w io.Writer, dir string, day time.Time) error {
	store, err := batch.NewWorkListStore(dir)
	if err != nil {
		return err
	}
	ids, ok, err := store.Load(day)
	if err != nil {
		return err
	}
	if !ok {
		fmt.Fprintf(w, "No work-list at %s\n", store.Path(day))
		return nil
	}
	fmt.Fprintf(w, "%s: %d invoice(s) remaining\n", batch.FileName(day), len(ids))
	for _, id := range ids {
		fmt.Fprintln(w, id)
	}
	return nil
}

// runBatch wires the drivers and runs one pass over today's work-list.
func runBatch(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	catalog, err := selectors.Load(cfg.SelectorsFile)
	if err != nil {
		return err
	}
	store, err := batch.NewWorkListStore(cfg.DataDir)
	if err != nil {
		return err
	}
	artifacts, err := newArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	session, err := browser.New(ctx, browser.Config{
		Headless:      cfg.Headless,
		Timeout:       cfg.DriverTimeout,
		ProbeTimeout:  cfg.ProbeTimeout,
		UserDataDir:   cfg.ChromeDataDir,
		ScreenshotDir: filepath.Join(cfg.ArtifactDir, "screenshots"),
	}, logger)
	if err != nil {
		return err
	}
	defer session.Close()

	ehr, err := rev.New(session, catalog.Section("rev"), cfg.RevURL, rev.Credentials{
		Username: cfg.RevUsername,
		Password: cfg.RevPassword,
	}, logger)
	if err != nil {
		return err
	}
	payer, err := vsp.New(session, catalog.Section("vsp"), cfg.VSPURL, vsp.Credentials{
		Username:       cfg.VSPUsername,
		BorgerUsername: cfg.VSPBorgerUsername,
		Password:       cfg.VSPPassword,
	}, logger)
	if err != nil {
		return err
	}
	if err := ehr.Login(ctx); err != nil {
		return err
	}
	if err := payer.Login(ctx, driver.Location(strings.ToLower(cfg.VSPLocation))); err != nil {
		return err
	}

	stats := telemetry.NewStats("claimbot")
	if cfg.MetricsAddr != "" {
		metricsCtx, stopMetrics := context.WithCancel(ctx)
		defer stopMetrics()
		go func() {
			if err := stats.Serve(metricsCtx, cfg.MetricsAddr, logger); err != nil {
				logger.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	client := httpclient.New(httpTimeout)
	var filter driver.CandidateFilter
	if cfg.LLMEnabled() {
		f, err := llm.NewFilter(client, cfg.LLMURL, cfg.LLMModel, cfg.LLMInstructionsFile, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("candidate filter disabled")
		} else {
			filter = f
		}
	}
	var notifier batch.Notifier
	if cfg.TelegramEnabled() {
		sender := notification.NewTelegramSender(client, cfg.TelegramURL, cfg.TelegramToken)
		notifier = notification.NewNotifier(sender, nil, cfg.ChatID, logger)
	}

	wf := workflow.New(workflow.Deps{
		EHR:       ehr,
		Payer:     payer,
		Artifacts: artifacts,
		Filter:    filter,
		Stats:     stats,
	}, logger)
	runner := batch.NewRunner(store, batch.NewInvoiceListBuilder(ehr, logger), wf, batch.Options{
		Stats:          stats,
		Notifier:       notifier,
		InvoiceTimeout: cfg.InvoiceTimeout,
	}, logger)

	sum, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	if sum.Cancelled {
		return fmt.Errorf("%w: %d invoice(s) left on the work-list", errInterrupted, len(sum.Remaining))
	}
	return nil
}

func newArtifactStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*blobstore.LocalStore, error) {
	opts := []blobstore.Option{blobstore.WithLogger(logger)}
	if cfg.ArtifactBucket != "" {
		mirror, err := blobstore.NewS3MirrorFromEnv(ctx, cfg.ArtifactBucket, cfg.ArtifactPrefix, cfg.AWSRegion, cfg.AWSEndpoint)
		if err != nil {
			return nil, err
		}
		opts = append(opts, blobstore.WithMirror(mirror))
		logger.Info().Str("bucket", cfg.ArtifactBucket).Msg("mirroring confirmations to S3")
	}
	return blobstore.NewLocalStore(cfg.ArtifactDir, opts...)
}
