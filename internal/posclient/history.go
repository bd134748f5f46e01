package posclient

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tokoku/internal/domain"
	"tokoku/internal/syncer"
)

// lineOps binds the shared line commands to sales or returns.
type lineOps struct {
	use     string
	noun    string
	list    func(*syncer.Engine) []domain.LineRecord
	add     func(*syncer.Engine, context.Context, syncer.LineInput) (domain.LineRecord, error)
	addMany func(*syncer.Engine, context.Context, string, []syncer.LineInput) ([]domain.LineRecord, error)
	update  func(*syncer.Engine, context.Context, string, syncer.LinePatch) (domain.LineRecord, error)
	remove  func(*syncer.Engine, context.Context, string) error
}

var (
	saleLines = lineOps{
		use:     "sale",
		noun:    "sale",
		list:    (*syncer.Engine).Sales,
		add:     (*syncer.Engine).AddSale,
		addMany: (*syncer.Engine).AddSales,
		update:  (*syncer.Engine).UpdateSale,
		remove:  (*syncer.Engine).RemoveSale,
	}
	returnLines = lineOps{
		use:     "return",
		noun:    "return",
		list:    (*syncer.Engine).Returns,
		add:     (*syncer.Engine).AddReturn,
		addMany: (*syncer.Engine).AddReturns,
		update:  (*syncer.Engine).UpdateReturn,
		remove:  (*syncer.Engine).RemoveReturn,
	}
)

func newLineCommand(opts *RootOptions, ops lineOps) *cobra.Command {
	cmd := &cobra.Command{Use: ops.use, Short: fmt.Sprintf("Record and edit %ss", ops.noun)}

	var storeFilter string
	list := &cobra.Command{
		Use:   "list",
		Short: fmt.Sprintf("List %ss, oldest first", ops.noun),
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			rows := ops.list(s.engine)
			if storeFilter != "" {
				filtered := rows[:0]
				for _, row := range rows {
					if row.StoreID == storeFilter {
						filtered = append(filtered, row)
					}
				}
				rows = filtered
			}
			return s.out.emit(rows, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tTIME\tSTORE\tPRODUCT\tQTY\tPRICE\tTOTAL")
				for _, row := range rows {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\t%s\n",
						row.ID, formatMillis(row.CreatedAt), displayStore(row.StoreID, row.StoreName), row.ProductName,
						strconv.FormatFloat(row.Qty, 'f', -1, 64), row.Unit, rupiah(row.Price), rupiah(lineTotal(row)))
				}
			})
		}),
	}
	list.Flags().StringVar(&storeFilter, "store", "", "only rows for this store id")
	cmd.AddCommand(list)

	var (
		in    syncer.LineInput
		lines []string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: fmt.Sprintf("Record a %s, or several with --line", ops.noun),
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			var rows []domain.LineRecord
			if len(lines) > 0 {
				inputs := make([]syncer.LineInput, len(lines))
				for i, raw := range lines {
					parsed, err := parseLine(raw)
					if err != nil {
						return err
					}
					inputs[i] = parsed
				}
				added, err := ops.addMany(s.engine, s.ctx, in.StoreID, inputs)
				if err != nil {
					return err
				}
				rows = added
			} else {
				added, err := ops.add(s.engine, s.ctx, in)
				if err != nil {
					return err
				}
				rows = []domain.LineRecord{added}
			}
			s.flush()
			return s.out.done(rows, "recorded %d %s line(s)", len(rows), ops.noun)
		}),
	}
	add.Flags().StringVar(&in.StoreID, "store", "", "store id")
	add.Flags().StringVar(&in.ProductName, "product", "", "product name")
	add.Flags().Float64Var(&in.Qty, "qty", 1, "quantity")
	add.Flags().Int64Var(&in.Price, "price", 0, "unit price")
	add.Flags().StringVar(&in.Unit, "unit", domain.UnitPiece, "unit (piece|kilogram)")
	add.Flags().StringArrayVar(&lines, "line", nil, "batch line as product:qty:price[:unit], repeatable")
	_ = add.MarkFlagRequired("store")
	cmd.AddCommand(add)

	var (
		patchStore   string
		patchProduct string
		patchQty     float64
		patchPrice   int64
		patchUnit    string
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: fmt.Sprintf("Edit a recorded %s", ops.noun),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch syncer.LinePatch
			flags := cmd.Flags()
			if flags.Changed("store") {
				patch.StoreID = &patchStore
			}
			if flags.Changed("product") {
				patch.ProductName = &patchProduct
			}
			if flags.Changed("qty") {
				patch.Qty = &patchQty
			}
			if flags.Changed("price") {
				patch.Price = &patchPrice
			}
			if flags.Changed("unit") {
				patch.Unit = &patchUnit
			}
			return withSession(opts, func(s *session, args []string) error {
				updated, err := ops.update(s.engine, s.ctx, args[0], patch)
				if err != nil {
					return err
				}
				s.flush()
				return s.out.done(updated, "updated %s %s", ops.noun, updated.ID)
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patchStore, "store", "", "store id")
	update.Flags().StringVar(&patchProduct, "product", "", "product name")
	update.Flags().Float64Var(&patchQty, "qty", 0, "quantity")
	update.Flags().Int64Var(&patchPrice, "price", 0, "unit price")
	update.Flags().StringVar(&patchUnit, "unit", "", "unit (piece|kilogram)")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: fmt.Sprintf("Delete a recorded %s", ops.noun),
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := ops.remove(s.engine, s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"removed": args[0]}, "removed %s %s", ops.noun, args[0])
		}),
	})

	return cmd
}

func newCashCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "cash", Short: "Record and edit cash receipts"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cash receipts, oldest first",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			receipts := s.engine.CashReceipts()
			return s.out.emit(receipts, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tTIME\tSTORE\tAMOUNT")
				for _, r := range receipts {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, formatMillis(r.CreatedAt), r.StoreID, rupiah(r.Amount))
				}
			})
		}),
	})

	var in syncer.CashInput
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a cash receipt",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			receipt, err := s.engine.AddCash(s.ctx, in)
			if err != nil {
				return err
			}
			s.flush()
			return s.out.done(receipt, "recorded cash %s: %s", receipt.ID, rupiah(receipt.Amount))
		}),
	}
	add.Flags().StringVar(&in.StoreID, "store", "", "store id")
	add.Flags().Int64Var(&in.Amount, "amount", 0, "amount received")
	_ = add.MarkFlagRequired("store")
	_ = add.MarkFlagRequired("amount")
	cmd.AddCommand(add)

	var (
		patchStore  string
		patchAmount int64
	)
	update := &cobra.Command{
		Use:   "update ID",
		Short: "Edit a cash receipt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch syncer.CashPatch
			if cmd.Flags().Changed("store") {
				patch.StoreID = &patchStore
			}
			if cmd.Flags().Changed("amount") {
				patch.Amount = &patchAmount
			}
			return withSession(opts, func(s *session, args []string) error {
				updated, err := s.engine.UpdateCash(s.ctx, args[0], patch)
				if err != nil {
					return err
				}
				s.flush()
				return s.out.done(updated, "updated cash %s", updated.ID)
			})(cmd, args)
		},
	}
	update.Flags().StringVar(&patchStore, "store", "", "store id")
	update.Flags().Int64Var(&patchAmount, "amount", 0, "amount received")
	cmd.AddCommand(update)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Delete a cash receipt",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.RemoveCash(s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"removed": args[0]}, "removed cash %s", args[0])
		}),
	})

	return cmd
}

// parseLine reads "product:qty:price[:unit]".
func parseLine(raw string) (syncer.LineInput, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 && len(parts) != 4 {
		return syncer.LineInput{}, fmt.Errorf("invalid line %q: want product:qty:price[:unit]", raw)
	}
	qty, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return syncer.LineInput{}, fmt.Errorf("invalid qty in line %q: %w", raw, err)
	}
	price, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return syncer.LineInput{}, fmt.Errorf("invalid price in line %q: %w", raw, err)
	}
	line := syncer.LineInput{ProductName: parts[0], Qty: qty, Price: price}
	if len(parts) == 4 {
		line.Unit = parts[3]
	}
	return line, nil
}

func lineTotal(row domain.LineRecord) int64 {
	return int64(math.Round(row.Qty * float64(row.Price)))
}

func displayStore(id string, name string) string {
	if name == "" {
		return id
	}
	return name
}

func formatMillis(ms int64) string {
	if ms == 0 {
		return "-"
	}
	return time.UnixMilli(ms).Local().Format("2006-01-02 15:04")
}
