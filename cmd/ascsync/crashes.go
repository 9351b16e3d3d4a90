package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/store"
)

// Crash commands live at the top level; feedback gets its own subtree.

var crashLogCmd = &cobra.Command{
	Use:   "log <id>",
	Short: "Print the downloaded crash log for a record",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore(dataDir())
		defer st.Close()

		sub := getRecord(st, store.KindCrash, parseID(args[0]))
		switch sub.AttachmentState {
		case store.AttachmentDownloaded:
			body, err := os.ReadFile(sub.AttachmentPath)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", sub.AttachmentPath, err)
				os.Exit(1)
			}
			os.Stdout.Write(body)
		case store.AttachmentPending:
			fmt.Fprintf(os.Stderr, "Crash log for #%d not downloaded yet; run 'ascsync sync'.\n", sub.ID)
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "Crash log for #%d is no longer available remotely.\n", sub.ID)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(newListCmd(store.KindCrash))
	rootCmd.AddCommand(newShowCmd(store.KindCrash))
	rootCmd.AddCommand(crashLogCmd)
	rootCmd.AddCommand(newStatsCmd(store.KindCrash))
	rootCmd.AddCommand(triageCmds(store.KindCrash)...)
}
