package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mschirtzinger/ascsync/internal/store"
)

// printJSON emits v as indented JSON on stdout.
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding JSON: %v\n", err)
		os.Exit(1)
	}
}

// render emits v as JSON when --format=json, otherwise calls text.
func render(v any, text func()) {
	if flagFormat == "json" {
		printJSON(v)
		return
	}
	text()
}

func renderSubmissionList(kind store.Kind, subs []*store.Submission) {
	if len(subs) == 0 {
		fmt.Printf("No %s records found.\n", kind)
		return
	}

	fmt.Printf("%-5s %-12s %-16s %-20s %-10s %s\n",
		"ID", "STATUS", "DATE", "DEVICE", "OS", "APP")
	for _, sub := range subs {
		fmt.Printf("%-5d %-12s %-16s %-20s %-10s %s\n",
			sub.ID,
			sub.Status,
			sub.CreatedAt.Local().Format("2006-01-02 15:04"),
			truncate(sub.DeviceModel, 20),
			truncate(sub.OSVersion, 10),
			sub.AppBundleID)
	}
}

func renderSubmission(kind store.Kind, sub *store.Submission) {
	fmt.Printf("%s #%d\n", strings.ToUpper(string(kind[:1]))+string(kind[1:]), sub.ID)
	fmt.Printf("  App:          %s", sub.AppBundleID)
	if sub.AppName != "" {
		fmt.Printf(" (%s)", sub.AppName)
	}
	fmt.Println()
	fmt.Printf("  Submission:   %s\n", sub.SubmissionID)
	fmt.Printf("  Created:      %s\n", sub.CreatedAt.Local().Format(time.RFC1123))
	fmt.Printf("  Status:       %s", sub.Status)
	if sub.DuplicateOf != nil {
		fmt.Printf(" (of #%d)", *sub.DuplicateOf)
	}
	if sub.FixedAt != nil {
		fmt.Printf(" (fixed %s)", sub.FixedAt.Local().Format("2006-01-02"))
	}
	fmt.Println()

	printField("Device", sub.DeviceModel)
	printField("OS", sub.OSVersion)
	printField("Platform", sub.AppPlatform)
	printField("Architecture", sub.Architecture)
	printField("Connection", sub.ConnectionType)
	printField("Build", sub.BuildID)
	printField("Tester", sub.TesterEmail)
	if sub.AppUptimeMS != nil {
		fmt.Printf("  Uptime:       %s\n", (time.Duration(*sub.AppUptimeMS) * time.Millisecond).Round(time.Second))
	}
	if sub.BatteryPct != nil {
		fmt.Printf("  Battery:      %d%%\n", *sub.BatteryPct)
	}

	fmt.Printf("  Attachment:   %s", sub.AttachmentState)
	if sub.AttachmentPath != "" {
		fmt.Printf(" (%s)", sub.AttachmentPath)
	}
	fmt.Println()

	if sub.TesterComment != "" {
		fmt.Printf("\n  Comment:\n    %s\n", strings.ReplaceAll(sub.TesterComment, "\n", "\n    "))
	}
	if sub.Notes != "" {
		fmt.Printf("\n  Notes:\n    %s\n", strings.ReplaceAll(sub.Notes, "\n", "\n    "))
	}
}

func printField(label, value string) {
	if value == "" {
		return
	}
	fmt.Printf("  %-13s %s\n", label+":", value)
}

func renderStats(kind store.Kind, st *store.Stats) {
	fmt.Printf("Total %s records: %d (%d unfixed)\n\n", kind, st.Total, st.Unfixed)

	if len(st.ByStatus) > 0 {
		fmt.Println("By status:")
		statuses := make([]store.Status, 0, len(st.ByStatus))
		for status := range st.ByStatus {
			statuses = append(statuses, status)
		}
		sort.Slice(statuses, func(i, j int) bool { return statuses[i] < statuses[j] })
		for _, status := range statuses {
			fmt.Printf("  %-15s %d\n", status, st.ByStatus[status])
		}
	}
	if len(st.ByDevice) > 0 {
		fmt.Println("\nTop devices:")
		for _, g := range st.ByDevice {
			fmt.Printf("  %-25s %d\n", g.Name, g.Count)
		}
	}
	if len(st.ByOS) > 0 {
		fmt.Println("\nTop OS versions:")
		for _, g := range st.ByOS {
			fmt.Printf("  %-25s %d\n", g.Name, g.Count)
		}
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}
