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

func itemCmd() *cobra.Command {
	item := &cobra.Command{Use: "item", Short: "Evaluation and translation requests"}
	item.AddCommand(itemSubmitCmd())
	item.AddCommand(itemListCmd())
	item.AddCommand(itemShowCmd())
	item.AddCommand(itemActionCmd("claim", "Claim an unassigned item", engine.Engine.SelfClaim))
	item.AddCommand(itemAssignCmd())
	item.AddCommand(itemActionCmd("release", "Clear the assignee", engine.Engine.Release))
	item.AddCommand(itemActionCmd("reject", "Reject a pending item", engine.Engine.Reject))
	item.AddCommand(itemActionCmd("deliver", "Mark a paid item delivered", engine.Engine.MarkDelivered))
	item.AddCommand(itemWithdrawCmd())
	item.AddCommand(itemAddUnitsCmd())
	return item
}

func itemSubmitCmd() *cobra.Command {
	var opts engine.CreateItemOptions
	var kind string
	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a request",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Kind = domain.Kind(kind)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, opts, caller())
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", string(domain.KindEvaluation), "evaluation or translation")
	cmd.Flags().IntVar(&opts.PriceableUnits, "units", 1, "priceable units (pages or documents)")
	cmd.Flags().BoolVar(&opts.Notarize, "notarize", false, "request notarization")
	cmd.Flags().BoolVar(&opts.ShipPhysical, "ship", false, "ship a physical copy")
	return cmd
}

func itemListCmd() *cobra.Command {
	var f repo.ItemFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.ListItems(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable("ID", "Display", "Kind", "Owner", "Assignee", "Status", "Units", "Intent")
				for _, it := range items {
					tw.AppendRow(table.Row{it.ID, it.DisplayID, it.Kind, it.OwnerID, deref(it.AssigneeID), it.Status, it.PriceableUnits, deref(it.PaymentIntentRef)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Kind, "kind", "", "kind filter")
	cmd.Flags().StringVar(&f.IntentRef, "intent", "", "payment batch filter")
	cmd.Flags().BoolVar(&f.Unassigned, "unassigned", false, "only unassigned items")
	cmd.Flags().IntVar(&f.Limit, "limit", 50, "max rows")
	return cmd
}

func itemShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an item and its assignment history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.GetItem(ctx, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(it)
				}
				if err := printItem(it); err != nil {
					return err
				}
				if len(it.History) == 0 {
					return nil
				}
				tw := newTable("Seq", "Action", "Actor", "Target", "At")
				for _, h := range it.History {
					tw.AppendRow(table.Row{h.Seq, h.Action, h.ActorID, h.TargetID, h.TS})
				}
				tw.Render()
				return nil
			})
		},
	}
}

type itemAction func(engine.Engine, context.Context, string, engine.Caller) (domain.WorkItem, error)

func itemActionCmd(use, short string, action itemAction) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := action(e, ctx, args[0], caller())
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
}

func itemAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign <id> <actor-id>",
		Short: "Assign an item to an active staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AssignTo(ctx, args[0], args[1], caller())
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
}

func itemWithdrawCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "withdraw <id>",
		Short: "Delete an item that was never assigned or batched",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Withdraw(ctx, args[0], caller()); err != nil {
					return err
				}
				fmt.Println("withdrawn", args[0])
				return nil
			})
		},
	}
}

func itemAddUnitsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add-units <id> <n>",
		Short: "Add priceable units to a pending item",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("units must be a number: %w", err)
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.AddUnits(ctx, args[0], n, caller())
				if err != nil {
					return err
				}
				return printItem(it)
			})
		},
	}
}

func printItem(it domain.WorkItem) error {
	if viper.GetBool("json") {
		return printJSON(it)
	}
	tw := newTable("ID", "Display", "Kind", "Owner", "Assignee", "Status", "Units", "Intent")
	tw.AppendRow(table.Row{it.ID, it.DisplayID, it.Kind, it.OwnerID, deref(it.AssigneeID), it.Status, it.PriceableUnits, deref(it.PaymentIntentRef)})
	tw.Render()
	return nil
}
