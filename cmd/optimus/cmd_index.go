package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Shreyas-ITB/Vibgyor-Optimus/internal/sqlindex"
)

var (
	searchType  string
	searchLimit int
)

func init() {
	searchCmd.Flags().StringVar(&searchType, "type", "", "restrict to one object type ("+sqlindex.ValidKindNames+")")
	searchCmd.Flags().IntVar(&searchLimit, "limit", 20, "maximum results")
	rootCmd.AddCommand(indexCmd, searchCmd)
}

// buildIndex indexes root with a spinner on stderr.
func buildIndex(cmd *cobra.Command, root string) (*sqlindex.Snapshot, error) {
	progress := sqlindex.NewSpinnerProgress(os.Stderr)
	snap, _, err := sqlindex.NewIndexer(progress).Load(cmd.Context(), root, true)
	return snap, err
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}

var indexCmd = &cobra.Command{
	Use:   "index <path>",
	Short: "Index a tree of SQL files and print its statistics",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := buildIndex(cmd, args[0])
		if err != nil {
			return err
		}
		return printJSON(snap.Stats.Summary())
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <path> <query>",
	Short: "Index a tree of SQL files and print ranked matches for a query",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var kinds []sqlindex.Kind
		if searchType != "" {
			k, ok := sqlindex.ParseKind(searchType)
			if !ok {
				return fmt.Errorf("invalid type %q, valid types: %s", searchType, sqlindex.ValidKindNames)
			}
			kinds = append(kinds, k)
		}

		snap, err := buildIndex(cmd, args[0])
		if err != nil {
			return err
		}
		query := strings.Join(args[1:], " ")
		results := snap.Search(query, searchLimit, kinds...)
		if len(results) == 0 {
			fmt.Fprintf(os.Stderr, "No matches for %q.\n", query)
			return nil
		}
		return printJSON(results)
	},
}
