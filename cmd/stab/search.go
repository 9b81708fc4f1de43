package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/matsen/scholartab/internal/paper"
)

var searchLimit int

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", DefaultSearchLimit, "Maximum results to return")
	rootCmd.AddCommand(searchCmd)
}

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Full-text search over papers",
	Long: `Search paper titles, abstracts and keywords in the SQLite index.

Examples:
  stab search "graph neural networks"
  stab search citation --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

// SearchResult is one paper in search output.
type SearchResult struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	PublicationName string `json:"publication_name,omitempty"`
	PublishDate     string `json:"publish_date,omitempty"`
	CitedByCount    *int64 `json:"cited_by_count,omitempty"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	if searchLimit < 1 {
		exitWithError(ExitError, "--limit must be positive")
	}
	cfg, _ := mustSetup()
	db := mustOpenDatabase(cfg.Root)
	defer db.Close()

	query := strings.Join(args, " ")
	papers, err := db.Search(query, searchLimit)
	if err != nil {
		exitWithError(ExitError, "searching: %v", err)
	}

	results := buildSearchResults(papers)
	if humanOutput {
		if len(results) == 0 {
			fmt.Printf("No papers match %q\n", query)
			return nil
		}
		rows := make([][]string, len(results))
		for i, r := range results {
			rows[i] = []string{r.ID, truncateString(r.Title, SearchTitleMaxLen), r.PublishDate, formatCount(r.CitedByCount)}
		}
		printTable([]string{"ID", "Title", "Date", "Cited"}, rows)
		return nil
	}
	return outputJSON(results)
}

func buildSearchResults(papers []paper.Paper) []SearchResult {
	out := make([]SearchResult, len(papers))
	for i, p := range papers {
		out[i] = SearchResult{
			ID:              p.ID,
			Title:           p.Title,
			PublicationName: p.PublicationName,
			PublishDate:     p.PublishDate,
			CitedByCount:    p.CitedByCount,
		}
	}
	return out
}
