package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var appsCmd = &cobra.Command{
	Use:   "apps",
	Short: "List the apps visible to the configured API key",
	Run: func(cmd *cobra.Command, args []string) {
		dir := dataDir()
		cfg := loadConfig(dir)
		logger := newLogger(dir)
		client := newClient(dir, cfg, logger)

		apps, err := client.ListApps(context.Background())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing apps: %v\n", err)
			os.Exit(1)
		}

		configured := make(map[string]bool, len(cfg.Apps))
		for _, app := range cfg.Apps {
			configured[app.BundleID] = true
		}

		type appRow struct {
			BundleID   string `json:"bundle_id"`
			Name       string `json:"name"`
			RemoteID   string `json:"remote_id"`
			Configured bool   `json:"configured"`
		}
		rows := make([]appRow, 0, len(apps))
		for _, app := range apps {
			rows = append(rows, appRow{
				BundleID:   app.Attributes.BundleID,
				Name:       app.Attributes.Name,
				RemoteID:   app.ID,
				Configured: configured[app.Attributes.BundleID],
			})
		}

		render(rows, func() {
			if len(rows) == 0 {
				fmt.Println("No apps visible to this API key.")
				return
			}
			fmt.Printf("%-35s %-25s %s\n", "BUNDLE ID", "NAME", "SYNCED")
			for _, row := range rows {
				synced := ""
				if row.Configured {
					synced = "yes"
				}
				fmt.Printf("%-35s %-25s %s\n", row.BundleID, truncate(row.Name, 25), synced)
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(appsCmd)
}
