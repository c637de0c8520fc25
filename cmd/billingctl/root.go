package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"agency-billing/internal/audit"
	"agency-billing/internal/billing"
	"agency-billing/internal/usage"

	"github.com/spf13/cobra"
)

func newRootCmd(build appFactory) *cobra.Command {
	var a *app
	rootCmd := &cobra.Command{
		Use:           "billingctl",
		Short:         "Operate agency billing: sync usage, seed rates, migrate, issue tokens",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = build(cmd.Context())
			return err
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if a != nil && a.close != nil {
				a.close()
			}
		},
	}

	get := func() *app { return a }
	rootCmd.AddCommand(
		newSyncCmd(get),
		newSeedRatesCmd(get),
		newMigrateCmd(get),
		newTokenCmd(get),
		newImportUsageCmd(get),
	)
	return rootCmd
}

func newSyncCmd(get func() *app) *cobra.Command {
	var scope string
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one billing sync pass and print the summary as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			req := billing.SyncRequest{Trigger: billing.TriggerManual, ActingAccountID: audit.SystemActor}
			if scope != "" {
				req.Scope = &scope
			}
			sum, err := get().engine.Sync(cmd.Context(), req)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), sum)
		},
	}
	cmd.Flags().StringVar(&scope, "scope", "", "account id whose subtree to bill (default: all accounts)")
	return cmd
}

func newSeedRatesCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "seed-rates",
		Short: "Seed the default GLOBAL price list if none exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := get().prices.SeedDefaults(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "global rates already present, nothing seeded")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d global rates\n", n)
			return nil
		},
	}
}

func newMigrateCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			applied, err := get().migrate(cmd.Context())
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			}
			for _, name := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", name)
			}
			return nil
		},
	}
}

func newTokenCmd(get func() *app) *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a direct session token for an account",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			acc, err := a.dir.Get(cmd.Context(), accountID)
			if err != nil {
				return err
			}
			if acc.Disabled {
				return fmt.Errorf("account %s is disabled", acc.ID)
			}
			tok, err := a.tokens.IssueDirect(time.Now(), acc)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), tok)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "account id")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// newImportUsageCmd loads newline-delimited JSON usage records. Records with
// an id already stored are ignored, so a file can be re-imported safely.
func newImportUsageCmd(get func() *app) *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "import-usage",
		Short: "Import usage records from a JSON lines file (- for stdin)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var in io.Reader = cmd.InOrStdin()
			if path != "-" {
				f, err := os.Open(path)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}

			sc := bufio.NewScanner(in)
			sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
			n, line := 0, 0
			for sc.Scan() {
				line++
				if len(sc.Bytes()) == 0 {
					continue
				}
				var rec usage.Record
				if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				if _, err := get().usage.Insert(cmd.Context(), rec); err != nil {
					return fmt.Errorf("line %d: %w", line, err)
				}
				n++
			}
			if err := sc.Err(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d usage records\n", n)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "", "path to a JSON lines file, or - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
