package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"transcriptdesk/internal/domain"
	"transcriptdesk/internal/engine"
	"transcriptdesk/internal/repo"
)

func payCmd() *cobra.Command {
	pay := &cobra.Command{Use: "pay", Short: "Payment batches"}
	pay.AddCommand(payLockCmd())
	pay.AddCommand(payUnlockCmd())
	pay.AddCommand(payReconcileCmd())
	pay.AddCommand(payShowCmd())
	pay.AddCommand(payListCmd())
	return pay
}

func payLockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lock <item-id>...",
		Short: "Lock your pending items into one batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.LockForPayment(ctx, args, caller())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				if err := printIntent(res.Intent); err != nil {
					return err
				}
				tw := newTable("Units", "Units amount", "Add-ons", "Total", "Currency")
				tw.AppendRow(table.Row{res.Quote.Units, res.Quote.UnitsAmount, fmt.Sprint(res.Quote.Addons), res.Quote.Total, res.Quote.Currency})
				tw.Render()
				if len(res.Excluded) > 0 {
					fmt.Println("excluded:", res.Excluded)
				}
				return nil
			})
		},
	}
}

func payUnlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <intent-ref>",
		Short: "Abandon an open batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pi, err := e.Unlock(ctx, args[0], caller())
				if err != nil {
					return err
				}
				return printIntent(pi)
			})
		},
	}
}

func payReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <intent-ref> <amount>",
		Short: "Apply a payment confirmation by hand",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount must be an integer in minor units: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.Reconcile(ctx, args[0], amount)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(res)
				}
				tw := newTable("Outcome", "Intent", "Receipt", "Items paid", "Warning")
				warning := ""
				if res.Warning != nil {
					warning = res.Warning.Kind
				}
				tw.AppendRow(table.Row{res.Outcome, res.Intent.IntentRef, deref(res.Intent.ReceiptID), res.ItemsPaid, warning})
				tw.Render()
				return nil
			})
		},
	}
}

func payShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <intent-ref>",
		Short: "Show a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				pi, err := e.GetIntent(ctx, args[0])
				if err != nil {
					return err
				}
				return printIntent(pi)
			})
		},
	}
}

func payListCmd() *cobra.Command {
	var payer string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				intents, err := e.ListIntents(ctx, payer, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(intents)
				}
				tw := newTable("Intent", "Payer", "Items", "Expected", "Currency", "Settled", "Voided", "Receipt")
				for _, pi := range intents {
					tw.AppendRow(table.Row{pi.IntentRef, pi.PayerID, len(pi.MemberItemIDs), pi.AmountExpected, pi.Currency, pi.Settled, pi.Voided, deref(pi.ReceiptID)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&payer, "payer", "", "payer filter")
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}

func printIntent(pi domain.PaymentIntent) error {
	if viper.GetBool("json") {
		return printJSON(pi)
	}
	tw := newTable("Intent", "Payer", "Items", "Expected", "Currency", "Settled", "Voided", "Receipt")
	tw.AppendRow(table.Row{pi.IntentRef, pi.PayerID, len(pi.MemberItemIDs), pi.AmountExpected, pi.Currency, pi.Settled, pi.Voided, deref(pi.ReceiptID)})
	tw.Render()
	return nil
}

func warningsCmd() *cobra.Command {
	w := &cobra.Command{Use: "warnings", Short: "Reconciliation review queue"}
	var f repo.WarningFilters
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List warnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Unresolved = !all
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				warnings, err := e.ListWarnings(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(warnings)
				}
				tw := newTable("ID", "Kind", "Intent", "Expected", "Confirmed", "Created", "Resolved by")
				for _, wr := range warnings {
					tw.AppendRow(table.Row{wr.ID, wr.Kind, wr.IntentRef, wr.ExpectedAmount, wr.ConfirmedAmount, wr.CreatedAt, deref(wr.ResolvedBy)})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.IntentRef, "intent", "", "intent filter")
	list.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	list.Flags().BoolVar(&all, "all", false, "include resolved warnings")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	resolve := &cobra.Command{
		Use:   "resolve <id>",
		Short: "Mark a warning as handled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("warning id must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ResolveWarning(ctx, id, caller()); err != nil {
					return err
				}
				fmt.Println("resolved", id)
				return nil
			})
		},
	}
	w.AddCommand(list, resolve)
	return w
}
