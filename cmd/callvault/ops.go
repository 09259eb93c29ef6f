package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

const opTimeout = 10 * time.Minute

func exportCmd() *cobra.Command {
	var out string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the full call archive as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			var w io.Writer = cmd.OutOrStdout()
			if out != "" && out != "-" {
				f, err := os.Create(out)
				if err != nil {
					return fmt.Errorf("create %s: %w", out, err)
				}
				defer f.Close()
				w = f
			}

			n, err := rt.app.Query.Export(ctx, w)
			if err != nil {
				return fmt.Errorf("export after %d rows: %w", n, err)
			}
			rt.log.Info().Int("rows", n).Str("out", out).Msg("archive exported")
			return nil
		},
	}

	cmd.Flags().StringVarP(&out, "out", "o", "", "Output file (default stdout)")

	return cmd
}

func pruneCmd() *cobra.Command {
	var (
		receiptsOnly bool
		yes          bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Forget expired delivery keys and purge records past retention",
		Long: "prune always forgets idempotency receipts past their window. " +
			"Call records older than RETENTION_DAYS are deleted only with --yes.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opTimeout)
			defer cancel()

			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			n, err := rt.app.Retention.PruneReceipts(ctx)
			if err != nil {
				return fmt.Errorf("prune receipts: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "receipts pruned: %d\n", n)

			if receiptsOnly {
				return nil
			}
			if !yes {
				fmt.Fprintf(cmd.OutOrStdout(), "skipping record purge (%d-day retention); rerun with --yes\n", rt.cfg.RetentionDays)
				return nil
			}

			res, err := rt.app.Retention.Purge(ctx)
			if err != nil {
				return fmt.Errorf("purge: %w", err)
			}
			rt.log.Info().
				Int64("calls", res.Calls).
				Int64("dispatches", res.Dispatches).
				Int64("alerts", res.Alerts).
				Int64("transfers", res.Transfers).
				Int64("receipts", res.Receipts).
				Msg("expired records purged")
			fmt.Fprintf(cmd.OutOrStdout(), "calls purged: %d\n", res.Calls)
			return nil
		},
	}

	cmd.Flags().BoolVar(&receiptsOnly, "receipts-only", false, "Only forget expired idempotency receipts")
	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm deletion of call records past retention")

	return cmd
}

func templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List email templates and whether they are customized",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := bootstrap(ctx)
			if err != nil {
				return err
			}
			defer rt.close(ctx)

			views, err := rt.app.Templates.List(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TYPE\tCUSTOMIZED\tSUBJECT")
			for _, v := range views {
				fmt.Fprintf(tw, "%s\t%t\t%s\n", v.Type, v.Customized, v.Subject)
			}
			return tw.Flush()
		},
	}
}
