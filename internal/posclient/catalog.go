package posclient

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"tokoku/internal/domain"
)

func newStoreCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "store", Short: "Manage stores and their price overrides"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stores",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			stores := s.engine.Stores()
			return s.out.emit(stores, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tTYPE\tOVERRIDES")
				for _, st := range stores {
					kind := st.Type
					if st.Placeholder {
						kind += " (placeholder)"
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", st.ID, st.Name, kind, formatPrices(st.Prices))
				}
			})
		}),
	})

	var in domain.Store
	save := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a store",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			saved, err := s.engine.SaveStore(s.ctx, in)
			if err != nil {
				return err
			}
			s.flush()
			return s.out.done(saved, "saved store %s (%s)", saved.ID, saved.Name)
		}),
	}
	save.Flags().StringVar(&in.ID, "id", "", "store id (generated when empty)")
	save.Flags().StringVar(&in.Name, "name", "", "store name")
	save.Flags().StringVar(&in.Type, "type", domain.StoreTypeBranch, "store type (branch|market)")
	_ = save.MarkFlagRequired("name")
	cmd.AddCommand(save)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Remove a store",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.RemoveStore(s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"removed": args[0]}, "removed store %s", args[0])
		}),
	})

	price := &cobra.Command{Use: "price", Short: "Manage per-store price overrides"}
	price.AddCommand(&cobra.Command{
		Use:   "set STORE_ID TARGET_ID PRICE",
		Short: "Override the price of a product or category for a store",
		Args:  cobra.ExactArgs(3),
		RunE: withSession(opts, func(s *session, args []string) error {
			amount, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid price %q: %w", args[2], err)
			}
			saved, err := s.engine.SetStorePrice(s.ctx, args[0], args[1], amount)
			if err != nil {
				return err
			}
			s.flush()
			return s.out.done(saved, "%s: %s = %s", saved.ID, args[1], rupiah(amount))
		}),
	})
	price.AddCommand(&cobra.Command{
		Use:   "clear STORE_ID TARGET_ID",
		Short: "Drop a price override",
		Args:  cobra.ExactArgs(2),
		RunE: withSession(opts, func(s *session, args []string) error {
			saved, err := s.engine.ClearStorePrice(s.ctx, args[0], args[1])
			if err != nil {
				return err
			}
			s.flush()
			return s.out.done(saved, "%s: cleared override for %s", saved.ID, args[1])
		}),
	})
	cmd.AddCommand(price)

	return cmd
}

func newProductCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "product", Short: "Manage the product catalog"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List products",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			products := s.engine.Products()
			return s.out.emit(products, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tBRANCH\tMARKET")
				for _, p := range products {
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.CategoryID, optionalPrice(p.PriceBranch), optionalPrice(p.PriceMarket))
				}
			})
		}),
	})

	var (
		in          domain.Product
		priceBranch int64
		priceMarket int64
	)
	save := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a product",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("price-branch") {
				in.PriceBranch = &priceBranch
			}
			if cmd.Flags().Changed("price-market") {
				in.PriceMarket = &priceMarket
			}
			return withSession(opts, func(s *session, _ []string) error {
				saved, err := s.engine.SaveProduct(s.ctx, in)
				if err != nil {
					return err
				}
				s.flush()
				return s.out.done(saved, "saved product %s (%s)", saved.ID, saved.Name)
			})(cmd, args)
		},
	}
	save.Flags().StringVar(&in.ID, "id", "", "product id (generated when empty)")
	save.Flags().StringVar(&in.Name, "name", "", "product name")
	save.Flags().StringVar(&in.CategoryID, "category", "", "category id")
	save.Flags().Int64Var(&priceBranch, "price-branch", 0, "price at branch stores")
	save.Flags().Int64Var(&priceMarket, "price-market", 0, "price at market stalls")
	_ = save.MarkFlagRequired("name")
	cmd.AddCommand(save)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Remove a product",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.RemoveProduct(s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"removed": args[0]}, "removed product %s", args[0])
		}),
	})

	return cmd
}

func newCategoryCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{Use: "category", Short: "Manage product categories"}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List categories",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			categories := s.engine.Categories()
			return s.out.emit(categories, func(w io.Writer) {
				fmt.Fprintln(w, "ID\tNAME")
				for _, c := range categories {
					fmt.Fprintf(w, "%s\t%s\n", c.ID, c.Name)
				}
			})
		}),
	})

	var in domain.Category
	save := &cobra.Command{
		Use:   "save",
		Short: "Create or replace a category",
		Args:  cobra.NoArgs,
		RunE: withSession(opts, func(s *session, _ []string) error {
			saved, err := s.engine.SaveCategory(s.ctx, in)
			if err != nil {
				return err
			}
			s.flush()
			return s.out.done(saved, "saved category %s (%s)", saved.ID, saved.Name)
		}),
	}
	save.Flags().StringVar(&in.ID, "id", "", "category id (generated when empty)")
	save.Flags().StringVar(&in.Name, "name", "", "category name")
	_ = save.MarkFlagRequired("name")
	cmd.AddCommand(save)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove ID",
		Short: "Remove a category",
		Args:  cobra.ExactArgs(1),
		RunE: withSession(opts, func(s *session, args []string) error {
			if err := s.engine.RemoveCategory(s.ctx, args[0]); err != nil {
				return err
			}
			s.flush()
			return s.out.done(map[string]string{"removed": args[0]}, "removed category %s", args[0])
		}),
	})

	return cmd
}

func formatPrices(prices map[string]int64) string {
	if len(prices) == 0 {
		return "-"
	}
	keys := make([]string, 0, len(prices))
	for key := range prices {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, key := range keys {
		parts[i] = key + "=" + rupiah(prices[key])
	}
	return strings.Join(parts, ",")
}

func optionalPrice(price *int64) string {
	if price == nil {
		return "-"
	}
	return rupiah(*price)
}
