package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/attach"
	"github.com/mschirtzinger/ascsync/internal/config"
	"github.com/mschirtzinger/ascsync/internal/syncer"
)

var (
	syncApp        string
	syncNoCrashes  bool
	syncNoFeedback bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull new submissions and download their attachments",
	Long: `Pull crash and feedback submissions for every configured app,
reconcile them into the local database, and download any crash logs or
screenshots that are still missing.

Sync is idempotent: records already mirrored are left untouched, and
attachments that failed to download earlier are retried.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := dataDir()
		cfg := loadConfig(dir)
		logger := newLogger(dir)
		client := newClient(dir, cfg, logger)
		st := openStore(dir)
		defer st.Close()

		apps := make([]syncer.ConfiguredApp, 0, len(cfg.Apps))
		for _, app := range cfg.Apps {
			if syncApp != "" && app.BundleID != syncApp {
				continue
			}
			apps = append(apps, syncer.ConfiguredApp{BundleID: app.BundleID, Name: app.Name})
		}
		if len(apps) == 0 {
			fmt.Fprintf(os.Stderr, "Error: no configured app matches %q\n", syncApp)
			os.Exit(1)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		s := syncer.New(client, st, attach.NewFetcher(logger), logger)
		report, err := s.Run(ctx, syncer.Options{
			Apps:           apps,
			Crashes:        !syncNoCrashes,
			Feedback:       !syncNoFeedback,
			LogsDir:        config.LogsDir(dir),
			ScreenshotsDir: config.ScreenshotsDir(dir),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: sync failed: %v\n", err)
			os.Exit(1)
		}

		render(report, func() { renderReport(report) })
	},
}

func renderReport(report *syncer.Report) {
	fmt.Printf("Sync complete.\n")
	fmt.Printf("  New crashes:    %d\n", len(report.NewCrashes))
	for _, sub := range report.NewCrashes {
		fmt.Printf("    #%-4d %s  %s %s  %s\n", sub.ID,
			sub.CreatedAt.Local().Format("2006-01-02 15:04"),
			sub.DeviceModel, sub.OSVersion, sub.AppBundleID)
	}
	fmt.Printf("  New feedback:   %d\n", len(report.NewFeedbacks))
	for _, sub := range report.NewFeedbacks {
		fmt.Printf("    #%-4d %s  %s %s  %s\n", sub.ID,
			sub.CreatedAt.Local().Format("2006-01-02 15:04"),
			sub.DeviceModel, sub.OSVersion, sub.AppBundleID)
	}
	if n := len(report.RecoveredLogs); n > 0 {
		fmt.Printf("  Recovered logs: %d\n", n)
		for _, rec := range report.RecoveredLogs {
			fmt.Printf("    #%d %s\n", rec.ID, rec.Path)
		}
	}
	if n := len(report.RecoveredScreenshots); n > 0 {
		fmt.Printf("  Recovered screenshots: %d\n", n)
		for _, rec := range report.RecoveredScreenshots {
			fmt.Printf("    #%d %s\n", rec.ID, rec.Path)
		}
	}
	fmt.Printf("  Crashes:  %d total, %d unfixed\n", report.CrashTotal, report.CrashUnfixed)
	fmt.Printf("  Feedback: %d total, %d unfixed\n", report.FeedbackTotal, report.FeedbackUnfixed)

	if len(report.AppErrors) > 0 {
		fmt.Printf("\n%d app(s) failed to sync:\n", len(report.AppErrors))
		for _, ae := range report.AppErrors {
			fmt.Printf("  %s: %s\n", ae.BundleID, ae.Message)
		}
	}
}

func init() {
	syncCmd.Flags().StringVar(&syncApp, "app", "", "sync only this bundle id")
	syncCmd.Flags().BoolVar(&syncNoCrashes, "no-crashes", false, "skip crash submissions")
	syncCmd.Flags().BoolVar(&syncNoFeedback, "no-feedback", false, "skip screenshot feedback")
	rootCmd.AddCommand(syncCmd)
}
