package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/ascsync/internal/store"
)

// The crash and feedback command trees are identical apart from the
// kind they operate on, so each command is built by a constructor
// shared between the two.

func parseID(arg string) int64 {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		fmt.Fprintf(os.Stderr, "Error: %q is not a record id\n", arg)
		os.Exit(1)
	}
	return id
}

func getRecord(st *store.Store, kind store.Kind, id int64) *store.Submission {
	sub, err := st.GetSubmission(context.Background(), kind, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return sub
}

func newListCmd(kind store.Kind) *cobra.Command {
	var (
		statusFilter string
		sinceDays    int
		appFilter    string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %s records, newest first", kind),
		Run: func(cmd *cobra.Command, args []string) {
			var filter store.Filter
			if statusFilter != "" {
				status, err := store.ParseStatus(statusFilter)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %v\n", err)
					os.Exit(1)
				}
				filter.Statuses = []store.Status{status}
			}
			if sinceDays > 0 {
				filter.Since = time.Now().AddDate(0, 0, -sinceDays)
			}
			filter.AppBundleID = appFilter
			filter.Limit = limit

			st := openStore(dataDir())
			defer st.Close()

			subs, err := st.ListSubmissions(context.Background(), kind, filter)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			render(subs, func() { renderSubmissionList(kind, subs) })
		},
	}
	cmd.Flags().StringVar(&statusFilter, "status", "", "filter by status (new, investigating, fixed, wontfix, duplicate)")
	cmd.Flags().IntVar(&sinceDays, "since", 0, "only records from the last N days")
	cmd.Flags().StringVar(&appFilter, "app", "", "filter by bundle id")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum records to show (default 50)")
	return cmd
}

func newShowCmd(kind store.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: fmt.Sprintf("Show one %s record in full", kind),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore(dataDir())
			defer st.Close()

			sub := getRecord(st, kind, parseID(args[0]))
			render(sub, func() { renderSubmission(kind, sub) })
		},
	}
}

func newStatsCmd(kind store.Kind) *cobra.Command {
	var appFilter string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: fmt.Sprintf("Summarize %s records by status, device, and OS", kind),
		Run: func(cmd *cobra.Command, args []string) {
			st := openStore(dataDir())
			defer st.Close()

			stats, err := st.Stats(context.Background(), kind, appFilter)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			render(stats, func() { renderStats(kind, stats) })
		},
	}
	cmd.Flags().StringVar(&appFilter, "app", "", "restrict to one bundle id")
	return cmd
}

// newStatusCmd builds the investigate/fix/wontfix commands.
func newStatusCmd(kind store.Kind, status store.Status, use, short string) *cobra.Command {
	var notes string
	cmd := &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			st := openStore(dataDir())
			defer st.Close()

			if err := st.SetStatus(context.Background(), kind, id, status, notes, nil); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Marked %s #%d as %s.\n", kind, id, status)
		},
	}
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "triage notes to record")
	if status == store.StatusFixed {
		_ = cmd.MarkFlagRequired("notes")
	}
	return cmd
}

func newDuplicateCmd(kind store.Kind) *cobra.Command {
	var (
		of    int64
		notes string
	)
	cmd := &cobra.Command{
		Use:   "duplicate <id>",
		Short: fmt.Sprintf("Mark a %s record as a duplicate of another", kind),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			if of <= 0 {
				fmt.Fprintf(os.Stderr, "Error: --of is required\n")
				os.Exit(1)
			}
			st := openStore(dataDir())
			defer st.Close()

			if err := st.SetStatus(context.Background(), kind, id, store.StatusDuplicate, notes, &of); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Marked %s #%d as duplicate of #%d.\n", kind, id, of)
		},
	}
	cmd.Flags().Int64Var(&of, "of", 0, "id of the original record")
	cmd.Flags().StringVarP(&notes, "notes", "n", "", "triage notes to record")
	return cmd
}

func newReopenCmd(kind store.Kind) *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: fmt.Sprintf("Return a %s record to status new", kind),
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			id := parseID(args[0])
			st := openStore(dataDir())
			defer st.Close()

			if err := st.Reopen(context.Background(), kind, id); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Reopened %s #%d.\n", kind, id)
		},
	}
}

func triageCmds(kind store.Kind) []*cobra.Command {
	return []*cobra.Command{
		newStatusCmd(kind, store.StatusInvestigating, "investigate",
			fmt.Sprintf("Mark a %s record as under investigation", kind)),
		newStatusCmd(kind, store.StatusFixed, "fix",
			fmt.Sprintf("Mark a %s record as fixed", kind)),
		newStatusCmd(kind, store.StatusWontfix, "wontfix",
			fmt.Sprintf("Mark a %s record as won't fix", kind)),
		newDuplicateCmd(kind),
		newReopenCmd(kind),
	}
}
