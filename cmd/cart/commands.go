package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"shop-cart/cart"
	"shop-cart/config"
	"shop-cart/model"
)

// newRootCmd returns the command tree and a function that closes whatever
// the command opened. Close runs even when the command fails.
func newRootCmd() (*cobra.Command, func() error) {
	var configPath string
	var verbose bool
	var a *app

	root := &cobra.Command{
		Use:           "cart",
		Short:         "Shopping cart for this device",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = openApp(cmd.Context(), configPath, verbose)
			if err != nil {
				return err
			}
			if a.syncErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: cart not synced with account: %v\n", a.syncErr)
			}
			return nil
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", filepath.Join(config.DefaultDir(), "config.yaml"), "config file")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	current := func() *app { return a }
	root.AddCommand(
		newProductsCmd(current),
		newListCmd(current),
		newAddCmd(current),
		newRemoveCmd(current),
		newSetCmd(current),
		newClearCmd(current),
		newLoginCmd(current),
		newLogoutCmd(current),
		newCheckoutCmd(current),
	)
	closeApp := func() error {
		if a == nil {
			return nil
		}
		err := a.Close()
		a = nil
		return err
	}
	return root, closeApp
}

func newProductsCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "products",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ps, err := app().remote.ListProducts(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPRICE\tSTOCK")
			for _, p := range ps {
				stock := strconv.Itoa(p.Stock)
				if p.LowStock() {
					stock += " (low)"
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\n", p.ID, p.Name, p.Price, stock)
			}
			return w.Flush()
		},
	}
}

func newListCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return printCart(cmd.OutOrStdout(), app().cart)
		},
	}
}

func newAddCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "add PRODUCT_ID [QTY]",
		Short: "Add a product to the cart",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty := 1
			if len(args) == 2 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("quantity %q: %w", args[1], err)
				}
				qty = n
			}
			a := app()
			snap, err := a.remote.GetProduct(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := a.cart.AddToCart(snap, qty); err != nil {
				return err
			}
			return flushAndPrint(cmd, a)
		},
	}
}

func newRemoveCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove PRODUCT_ID",
		Short: "Remove a product from the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			a.cart.RemoveFromCart(args[0])
			return flushAndPrint(cmd, a)
		},
	}
}

func newSetCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "set PRODUCT_ID QTY",
		Short: "Set the quantity of a product; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity %q: %w", args[1], err)
			}
			a := app()
			if err := a.cart.UpdateQuantity(args[0], qty); err != nil {
				return err
			}
			return flushAndPrint(cmd, a)
		},
	}
}

func newClearCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			a.cart.ClearCart()
			return flushAndPrint(cmd, a)
		},
	}
}

func newLoginCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login TOKEN",
		Short: "Sign in and merge this device's cart into the account's cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			st, err := a.session.Login(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if a.syncErr != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: signed in as %s but the cart was not merged: %v\n", st.AccountID, a.syncErr)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "signed in as %s\n", st.AccountID)
			}
			return printCart(cmd.OutOrStdout(), a.cart)
		},
	}
}

func newLogoutCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out; the cart stays on this device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if _, err := a.session.Logout(cmd.Context()); err != nil {
				return err
			}
			if _, err := a.cart.Flush(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "signed out")
			return nil
		},
	}
}

func newCheckoutCmd(app func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "checkout",
		Short: "Place an order for the account's cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := app()
			if !a.cart.Session().IsAuthenticated() {
				return errors.New("sign in before checking out")
			}
			if len(a.cart.Items()) == 0 {
				return errors.New("cart is empty")
			}
			res, err := a.cart.Flush(cmd.Context())
			if err != nil {
				return err
			}
			if !res.OK() || res.Target != cart.TargetRemote {
				return errors.New("cart is not synced with the account yet; try again")
			}
			ord, err := a.remote.Checkout(cmd.Context())
			if err != nil {
				return err
			}
			// the server cleared the stored cart with the order
			a.cart.ClearCart()
			if _, err := a.cart.Flush(cmd.Context()); err != nil {
				return err
			}
			printOrder(cmd.OutOrStdout(), ord)
			return nil
		},
	}
}

// flushAndPrint waits for the change to be stored, reports where it went and
// prints the cart.
func flushAndPrint(cmd *cobra.Command, a *app) error {
	res, err := a.cart.Flush(cmd.Context())
	if err != nil {
		return err
	}
	if res.FellBack {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: account cart unavailable, saved on this device: %v\n", res.Err)
	} else if res.Err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: cart not saved: %v\n", res.Err)
	}
	return printCart(cmd.OutOrStdout(), a.cart)
}

func printCart(out io.Writer, m *cart.Manager) error {
	items := m.Items()
	if len(items) == 0 {
		fmt.Fprintln(out, "cart is empty")
		return nil
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, it := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\t%.2f\n", it.ProductID, it.Product.Name, it.Quantity, it.Product.Price, it.Subtotal())
	}
	fmt.Fprintf(w, "\t\t%d\t\t%.2f\n", m.TotalItems(), m.TotalPrice())
	return w.Flush()
}

func printOrder(out io.Writer, ord model.Order) {
	fmt.Fprintf(out, "order %d placed, total %.2f\n", ord.ID, ord.Total)
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, l := range ord.Items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.2f\n", l.ProductID, l.Name, l.Quantity, l.UnitPrice)
	}
	_ = w.Flush()
}
