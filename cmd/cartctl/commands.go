package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/noah-isme/storefront-engine/internal/auth"
	"github.com/noah-isme/storefront-engine/internal/cart"
	"github.com/noah-isme/storefront-engine/internal/checkout"
	"github.com/noah-isme/storefront-engine/internal/obs"
	"github.com/noah-isme/storefront-engine/internal/pricing"
)

func newRootCmd() *cobra.Command {
	s := &shopper{}
	var (
		logLevel string
		asJSON   bool
	)
	root := &cobra.Command{
		Use:           "cartctl",
		Short:         "Manage a storefront cart from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			s.out = cmd.OutOrStdout()
			s.logger = obs.NewLogger("cartctl", "console", logLevel)
			s.logger = s.logger.Output(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), NoColor: true})
			return s.init()
		},
	}
	root.PersistentFlags().StringVar(&s.storage.Dir, "dir", os.Getenv("CARTCTL_DIR"), "directory holding the local cart (default ~/.storefront)")
	root.PersistentFlags().StringVar(&s.apiURL, "api", envOr("STOREFRONT_API_URL", "http://localhost:8080"), "storefront API base URL")
	root.PersistentFlags().DurationVar(&s.timeout, "timeout", 5*time.Second, "per-request timeout")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")
	root.PersistentFlags().BoolVar(&asJSON, "json", false, "print carts as JSON")

	show := func(cmd *cobra.Command, c cart.Cart, skipped []string) error {
		if asJSON {
			p := c.Payload()
			p.Skipped = skipped
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		return printCart(cmd, c, skipped)
	}

	root.AddCommand(
		newAddCmd(s, show),
		newSetCmd(s, show),
		newRemoveCmd(s, show),
		newClearCmd(s, show),
		newShowCmd(s, show),
		newLoginCmd(s, show),
		newLogoutCmd(s),
		newQuoteCmd(s),
		newOrderCmd(s),
	)
	return root
}

type showFunc func(cmd *cobra.Command, c cart.Cart, skipped []string) error

func newAddCmd(s *shopper, show showFunc) *cobra.Command {
	var (
		qty      int
		price    string
		category string
	)
	cmd := &cobra.Command{
		Use:   "add PRODUCT_ID",
		Short: "Add a product to the cart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p := cart.Product{ID: args[0], Category: category}
			if price != "" {
				d, err := decimal.NewFromString(price)
				if err != nil {
					return fmt.Errorf("--price: %w", err)
				}
				p.Price = pricing.FromMajor(d)
			}
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			c, err := st.AddItem(cmd.Context(), p, qty)
			if err != nil {
				return err
			}
			return show(cmd, c, nil)
		},
	}
	cmd.Flags().IntVarP(&qty, "quantity", "q", 1, "quantity to add")
	cmd.Flags().StringVar(&price, "price", "", "unit price in major units (guest carts only; signed-in carts use the catalog price)")
	cmd.Flags().StringVar(&category, "category", "", "product category")
	return cmd
}

func newSetCmd(s *shopper, show showFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "set PRODUCT_ID QUANTITY",
		Short: "Set the quantity of a line; 0 removes it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			qty, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("quantity: %w", err)
			}
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			c, err := st.UpdateQuantity(cmd.Context(), args[0], qty)
			if err != nil {
				return err
			}
			return show(cmd, c, nil)
		},
	}
}

func newRemoveCmd(s *shopper, show showFunc) *cobra.Command {
	return &cobra.Command{
		Use:     "remove PRODUCT_ID",
		Aliases: []string{"rm"},
		Short:   "Remove a line from the cart",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			c, err := st.RemoveItem(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return show(cmd, c, nil)
		},
	}
}

func newClearCmd(s *shopper, show showFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			c, err := st.Clear(cmd.Context())
			if err != nil {
				return err
			}
			return show(cmd, c, nil)
		},
	}
}

func newShowCmd(s *shopper, show showFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the current cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			return show(cmd, st.Snapshot(), nil)
		},
	}
}

func newLoginCmd(s *shopper, show showFunc) *cobra.Command {
	var (
		token  string
		userID string
		secret string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and merge the guest cart into the account",
		Long: "Sign in with an access token, or mint one for a development API with --user and " +
			"--secret. The guest cart is merged into the server cart and then discarded; if the " +
			"merge fails the guest cart is kept and login can be retried.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token == "" {
				if userID == "" || secret == "" {
					return fmt.Errorf("either --token or both --user and --secret are required")
				}
				v, err := auth.NewVerifier(auth.Config{Secret: secret})
				if err != nil {
					return err
				}
				if token, err = v.Sign(userID, ttl); err != nil {
					return err
				}
			}
			res, err := s.login(cmd.Context(), token, userID)
			if err != nil {
				return fmt.Errorf("login: %w (guest cart kept)", err)
			}
			if res.Replayed {
				fmt.Fprintln(cmd.OutOrStdout(), "guest cart was already merged")
			}
			return show(cmd, res.Cart, res.Skipped)
		},
	}
	cmd.Flags().StringVar(&token, "token", os.Getenv("STOREFRONT_TOKEN"), "access token")
	cmd.Flags().StringVar(&userID, "user", "", "user id to mint a development token for")
	cmd.Flags().StringVar(&secret, "secret", "", "HS256 secret shared with a development API")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "lifetime of a minted token")
	return cmd
}

func newLogoutCmd(s *shopper) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored session; the next cart is a fresh guest cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return s.logout()
		},
	}
}

func newQuoteCmd(s *shopper) *cobra.Command {
	var req checkout.TotalsRequest
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "Price the current cart through the API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := s.store(cmd.Context())
			if err != nil {
				return err
			}
			c := st.Snapshot()
			if c.Empty() {
				return fmt.Errorf("cart is empty")
			}
			req.Items = totalsItems(c)
			token := ""
			if sess, ok, err := s.session(); err == nil && ok {
				token = sess.Token
			}
			resp, err := s.client(token).Quote(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printTotals(cmd, resp)
		},
	}
	cmd.Flags().StringVar(&req.ShippingMethod, "shipping", "standard", "shipping method")
	cmd.Flags().StringVar(&req.PaymentMethod, "payment", "", "payment method, e.g. cod")
	cmd.Flags().StringVar(&req.Promocode, "promocode", "", "promocode to apply")
	return cmd
}

func newOrderCmd(s *shopper) *cobra.Command {
	var (
		body checkout.PlaceOrderBody
		key  string
	)
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place an order for the signed-in cart",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, ok, err := s.session()
			if err != nil {
				return err
			}
			if !ok {
				return errSignedOut
			}
			if sess.APIURL != "" {
				s.apiURL = sess.APIURL
			}
			if key == "" {
				key = uuid.NewString()
			}
			o, err := s.client(sess.Token).PlaceOrder(cmd.Context(), body, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s %s (idempotency key %s)\n", o.ID, o.Status, key)
			return printTotals(cmd, o.Totals)
		},
	}
	cmd.Flags().StringVar(&body.ShippingMethod, "shipping", "standard", "shipping method")
	cmd.Flags().StringVar(&body.PaymentMethod, "payment", "card", "payment method, e.g. card or cod")
	cmd.Flags().StringVar(&body.Promocode, "promocode", "", "promocode to redeem")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "reuse a key to retry an order safely (default: random)")
	return cmd
}

func totalsItems(c cart.Cart) []checkout.TotalsItem {
	items := make([]checkout.TotalsItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, checkout.TotalsItem{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Price:     decimal.RequireFromString(pricing.FormatMajor(it.UnitPrice)),
			Category:  it.Category,
		})
	}
	return items
}

func printCart(cmd *cobra.Command, c cart.Cart, skipped []string) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s cart\n", c.Kind)
	fmt.Fprintln(tw, "PRODUCT\tQTY\tUNIT\tTOTAL")
	for _, it := range c.Items {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", it.ProductID, it.Quantity,
			pricing.FormatMajor(it.UnitPrice), pricing.FormatMajor(pricing.Money(it.Quantity)*it.UnitPrice))
	}
	fmt.Fprintf(tw, "SUBTOTAL\t\t\t%s\n", pricing.FormatMajor(c.Subtotal()))
	if len(skipped) > 0 {
		fmt.Fprintf(tw, "skipped (no longer sold): %s\n", strings.Join(skipped, ", "))
	}
	return tw.Flush()
}

func printTotals(cmd *cobra.Command, t checkout.TotalsResponse) error {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "subtotal\t%.2f\n", t.Subtotal)
	fmt.Fprintf(tw, "shipping (%s)\t%.2f\n", t.Shipping.Method, t.Shipping.Cost)
	fmt.Fprintf(tw, "tax\t%.2f\n", t.Tax.Amount)
	if t.Discount.Amount > 0 {
		fmt.Fprintf(tw, "discount (%s)\t-%.2f\n", t.Discount.Code, t.Discount.Amount)
	}
	if t.CODSurcharge > 0 {
		fmt.Fprintf(tw, "cod surcharge\t%.2f\n", t.CODSurcharge)
	}
	fmt.Fprintf(tw, "total\t%.2f\n", t.Total)
	if t.Promocode != nil && !t.Promocode.Valid {
		fmt.Fprintf(tw, "promocode rejected: %s\n", t.Promocode.Message)
	}
	return tw.Flush()
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
