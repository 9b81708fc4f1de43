package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/matsen/scholartab/internal/paper"
)

// Constants for output formatting.
const (
	DefaultSearchLimit = 20 // Default limit for search
	SearchTitleMaxLen  = 70 // Used in search result summaries
)

// outputJSON writes a value as formatted JSON to stdout.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// exitWithError outputs an error in the appropriate format (human or JSON) and exits.
func exitWithError(code int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if humanOutput {
		fmt.Fprintf(os.Stderr, "error: %s\n", msg)
	} else {
		outputJSON(ErrorResponse{Error: msg})
	}
	os.Exit(code)
}

// ErrorResponse is a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// printTable renders rows under header as an aligned text table.
func printTable(header []string, rows [][]string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(header)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.AppendBulk(rows)
	table.Render()
}

// printCounts renders per-table row counts in persistence order.
func printCounts(counts map[string]int) {
	rows := make([][]string, 0, len(counts))
	for _, name := range paper.TableNames {
		if n, ok := counts[name]; ok {
			rows = append(rows, []string{name, humanize.Comma(int64(n))})
		}
	}
	printTable([]string{"Table", "Rows"}, rows)
}

// printSkipped renders a table-keyed count map, e.g. dropped rows.
func printSkipped(title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Printf("%s:\n", title)
	for _, name := range names {
		fmt.Printf("  %-28s %s\n", name, humanize.Comma(int64(counts[name])))
	}
}

// fileSize formats the size of path, or "-" when it cannot be read.
func fileSize(path string) string {
	info, err := os.Stat(path)
	if err != nil {
		return "-"
	}
	return humanize.Bytes(uint64(info.Size()))
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm %ds", minutes, seconds)
}

// truncateString truncates a string to maxLen, adding "..." if truncated.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}

// formatCount renders an optional count.
func formatCount(n *int64) string {
	if n == nil {
		return "-"
	}
	return humanize.Comma(*n)
}

func joinOrDash(xs []string) string {
	if len(xs) == 0 {
		return "-"
	}
	return strings.Join(xs, ", ")
}
