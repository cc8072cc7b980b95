package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(dbcheckCmd)
}

var dbcheckCmd = &cobra.Command{
	Use:   "dbcheck",
	Short: "Ping every configured database and report its server version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		if len(cfg.Database.DSNs) == 0 {
			return fmt.Errorf("no databases configured (set database.dsns.<name>)")
		}
		store, err := openStore(cfg, slog.Default())
		if err != nil {
			return err
		}
		defer store.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		checks := store.CheckAll(ctx)

		fmt.Fprintf(os.Stdout, "Driver: %s\n\n", store.Driver())
		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "DATABASE\tSTATUS\tLATENCY\tDETAIL")
		failed := 0
		for _, c := range checks {
			status, detail := "OK", c.Version
			if !c.OK {
				status, detail = "FAIL", c.Error
				failed++
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.Database, status, c.Latency.Round(time.Millisecond), detail)
		}
		tw.Flush()

		if failed > 0 {
			return fmt.Errorf("%d of %d databases unreachable", failed, len(checks))
		}
		return nil
	},
}
