package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/store"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Browse and triage screenshot feedback",
	Long: `Screenshot feedback submissions mirror the crash commands: list,
show, stats, and the triage status commands all work the same way, with
'feedback screenshot' in place of 'log'.`,
}

var feedbackScreenshotCmd = &cobra.Command{
	Use:   "screenshot <id>",
	Short: "Print the path of the downloaded screenshot",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		st := openStore(dataDir())
		defer st.Close()

		sub := getRecord(st, store.KindFeedback, parseID(args[0]))
		switch sub.AttachmentState {
		case store.AttachmentDownloaded:
			fmt.Println(sub.AttachmentPath)
		case store.AttachmentPending:
			fmt.Fprintf(os.Stderr, "Screenshot for #%d not downloaded yet; run 'ascsync sync'.\n", sub.ID)
			os.Exit(1)
		default:
			fmt.Fprintf(os.Stderr, "Screenshot for #%d is no longer available remotely.\n", sub.ID)
			os.Exit(1)
		}
	},
}

func init() {
	feedbackCmd.AddCommand(newListCmd(store.KindFeedback))
	feedbackCmd.AddCommand(newShowCmd(store.KindFeedback))
	feedbackCmd.AddCommand(feedbackScreenshotCmd)
	feedbackCmd.AddCommand(newStatsCmd(store.KindFeedback))
	feedbackCmd.AddCommand(triageCmds(store.KindFeedback)...)
	rootCmd.AddCommand(feedbackCmd)
}
