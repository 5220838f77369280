package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mmeshcher/referral-ledger/internal/config"
	"github.com/mmeshcher/referral-ledger/internal/middleware"
	"github.com/mmeshcher/referral-ledger/internal/report"
)

func balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance-check",
		Short: "Compare the platform balance with outstanding referral credit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.Payouts.SweepBalance(cmd.Context())
			if err != nil {
				return fmt.Errorf("balance check: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Available:   %s %s\n", status.Available.StringFixed(2), a.Payouts.Currency())
			fmt.Fprintf(out, "Outstanding: %s %s\n", status.Required.StringFixed(2), a.Payouts.Currency())
			if !status.OK {
				return fmt.Errorf("platform balance is insufficient")
			}
			fmt.Fprintln(out, "Status:      OK")
			return nil
		},
	}
}

func payOutstandingCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pay-outstanding [owner-id...]",
		Short: "Transfer outstanding credit to connected accounts",
		Long:  "Transfers the outstanding credit of the given owners, or of every connected account when none are given.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			results, err := a.Payouts.PayOutstanding(cmd.Context(), args)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			failed := 0
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "%-24s %10s  FAILED: %v\n", r.OwnerID, r.Amount.StringFixed(2), r.Err)
					continue
				}
				ref := ""
				if r.Event != nil && r.Event.TransferRef != nil {
					ref = *r.Event.TransferRef
				}
				fmt.Fprintf(out, "%-24s %10s  %s\n", r.OwnerID, r.Amount.StringFixed(2), ref)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d payouts failed", failed, len(results))
			}
			return nil
		},
	}
}

func regenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regenerate-codes [owner-id]",
		Short: "Issue a new referral code for one owner or, with --all, for everyone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			if all == (len(args) == 1) {
				return fmt.Errorf("pass either an owner id or --all")
			}

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if all {
				n, err := a.Rewards.RegenerateAllCodes(cmd.Context())
				fmt.Fprintf(cmd.OutOrStdout(), "Regenerated %d codes\n", n)
				return err
			}

			code, err := a.Rewards.RegenerateCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), code)
			return nil
		},
	}
	cmd.Flags().Bool("all", false, "regenerate every code")
	return cmd
}

func resetNoticesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-notices",
		Short: "Show the referral programme notice to every member again",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Rewards.ResetNoticeFlags(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reset %d notices\n", n)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export-payouts",
		Short: "Export the payout ledger to an XLSX workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("output")
			owner, _ := cmd.Flags().GetString("owner")
			limit, _ := cmd.Flags().GetInt("limit")

			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.Payouts.ListPayouts(cmd.Context(), owner, limit)
			if err != nil {
				return err
			}

			f, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("create %s: %w", path, err)
			}
			if err := report.WritePayouts(f, events); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("close %s: %w", path, err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d payout events to %s\n", len(events), path)
			return nil
		},
	}
	cmd.Flags().StringP("output", "o", "payouts.xlsx", "output file")
	cmd.Flags().String("owner", "", "export a single owner")
	cmd.Flags().Int("limit", 10000, "maximum number of events")
	return cmd
}

func tokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a signed session token for the member or admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.ParseEnv()
			if err != nil {
				return err
			}
			if cfg.AuthSecret == "" {
				return fmt.Errorf("AUTH_SECRET is not set")
			}

			id, _ := cmd.Flags().GetString("id")
			email, _ := cmd.Flags().GetString("email")
			admin, _ := cmd.Flags().GetBool("admin")

			p := middleware.Principal{ID: id, Email: email}
			if admin {
				p.Role = middleware.RoleAdmin
			}

			fmt.Fprintln(cmd.OutOrStdout(), middleware.NewAuthMiddleware(cfg.AuthSecret).Token(p))
			return nil
		},
	}
	cmd.Flags().String("id", "", "member id")
	cmd.Flags().String("email", "", "member email")
	cmd.Flags().Bool("admin", false, "grant the admin role")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
