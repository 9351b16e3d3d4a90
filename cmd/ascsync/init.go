package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/config"
)

var initGlobal bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a data directory with a template config",
	Long: `Create the data directory, its attachment subdirectories, and a
config.toml template to fill in with API credentials.

By default the directory is ./asc-crashes in the current working
directory. With --global it is ~/.asc-crashes instead.`,
	Run: func(cmd *cobra.Command, args []string) {
		dir := flagDataDir
		if dir == "" {
			if initGlobal {
				home, err := os.UserHomeDir()
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				dir = filepath.Join(home, "."+config.DefaultDirName)
			} else {
				dir = config.DefaultDirName
			}
		}

		if err := config.Init(dir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		// Create the database up front so schema problems surface now.
		st := openStore(dir)
		if err := st.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Initialized %s\n", dir)
		fmt.Printf("Edit %s and add your API credentials, then run 'ascsync sync'.\n",
			filepath.Join(dir, config.FileName))
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "initialize ~/.asc-crashes instead of ./asc-crashes")
	rootCmd.AddCommand(initCmd)
}
