package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/client"
	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var errEmptyCart = errors.New("cart is empty")

type cli struct {
	api   *client.Client
	store *cart.Store
	out   io.Writer
}

func (c *cli) dispatch(ctx context.Context, command string, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	switch command {
	case "products":
		return c.products(ctx, strings.Join(args, " "))
	case "add":
		id, err := productIDArg(args, 1)
		if err != nil {
			return err
		}
		return c.add(ctx, id)
	case "remove":
		id, err := productIDArg(args, 1)
		if err != nil {
			return err
		}
		c.store.RemoveItem(id)
		return c.show()
	case "set":
		id, err := productIDArg(args, 2)
		if err != nil {
			return err
		}
		quantity, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("%w: quantity must be an integer", errUsage)
		}
		c.store.SetQuantity(id, quantity)
		return c.show()
	case "clear":
		c.store.Clear()
		return nil
	case "show":
		return c.show()
	case "checkout":
		return c.checkout(ctx, args)
	case "order":
		return c.order(ctx, args)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, command)
	}
}

func productIDArg(args []string, want int) (int64, error) {
	if len(args) != want {
		return 0, fmt.Errorf("%w: expected %d argument(s)", errUsage, want)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: product id must be a positive integer", errUsage)
	}
	return id, nil
}

func (c *cli) products(ctx context.Context, search string) error {
	products, err := c.api.ListProducts(ctx, domain.ProductQuery{Search: search, Limit: domain.MaxProductLimit})
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tPRICE\tCOLOR\tSWITCHES")
	for _, p := range products {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.DisplayPrice, p.Color, p.SwitchType)
	}
	return tw.Flush()
}

func (c *cli) add(ctx context.Context, id int64) error {
	product, err := c.api.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	c.store.AddItem(product.LineItem(1))
	return nil
}

func (c *cli) show() error {
	lines := c.store.Lines()
	if len(lines) == 0 {
		_, _ = fmt.Fprintln(c.out, "Cart is empty")
		return nil
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "ID\tNAME\tQTY\tPRICE\tSUBTOTAL")
	for _, line := range lines {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t%d\t%s\t%s\n", line.ProductID, line.Name, line.Quantity, line.DisplayPrice, line.Subtotal().StringFixed(2))
	}
	_, _ = fmt.Fprintf(tw, "\t\t%d\t\t%s\n", c.store.TotalItems(), c.store.FormatTotal())
	return tw.Flush()
}

// checkout оформляет заказ из корзины. Корзина очищается только после успешного ответа.
func (c *cli) checkout(ctx context.Context, args []string) error {
	var (
		contact domain.Contact
		notes   string
		payment string
		key     string
	)
	fs := flag.NewFlagSet("checkout", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&contact.Name, "name", "", "customer name")
	fs.StringVar(&contact.Email, "email", "", "customer email")
	fs.StringVar(&contact.Phone, "phone", "", "customer phone")
	fs.StringVar(&contact.Address, "address", "", "shipping address")
	fs.StringVar(&contact.City, "city", "", "shipping city")
	fs.StringVar(&contact.ZipCode, "zip", "", "shipping zip code")
	fs.StringVar(&notes, "notes", "", "order notes")
	fs.StringVar(&payment, "payment", "", "payment method (default Cash on Delivery)")
	fs.StringVar(&key, "idempotency-key", "", "reuse a key to safely repeat a checkout")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if notes != "" {
		contact.Notes = &notes
	}
	if payment != "" {
		contact.PaymentMethod = &payment
	}

	items := c.store.Snapshot()
	if len(items) == 0 {
		return errEmptyCart
	}

	submission, err := domain.NewOrderSubmission(contact, items, c.store.FormatTotal(), c.store.TotalItems())
	if err != nil {
		return fmt.Errorf("build order: %w", err)
	}
	if key == "" {
		key = client.NewIdempotencyKey()
	}

	created, err := c.api.CreateOrder(ctx, submission, key)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return fmt.Errorf("%s (%s)", apiErr.Message, apiErr.Code)
		}
		return err
	}

	c.store.Clear()
	_, _ = fmt.Fprintf(c.out, "%s\nOrder number: %s\n", created.Message, created.OrderNumber)
	return nil
}

func (c *cli) order(ctx context.Context, args []string) error {
	var token string
	fs := flag.NewFlagSet("order", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&token, "token", "", "bearer token")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: order number is required", errUsage)
	}

	order, err := c.api.GetOrder(ctx, fs.Arg(0), token)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(c.out, "Order %s (%s)\n", order.Number, order.Status)
	_, _ = fmt.Fprintf(c.out, "Placed: %s\n", order.CreatedAt.Format("2006-01-02 15:04 MST"))
	_, _ = fmt.Fprintf(c.out, "Ship to: %s, %s, %s %s\n", order.CustomerName, order.ShippingAddress, order.ShippingCity, order.ShippingZipCode)
	_, _ = fmt.Fprintf(c.out, "Payment: %s\n", order.PaymentMethod)
	if order.Notes != nil {
		_, _ = fmt.Fprintf(c.out, "Notes: %s\n", *order.Notes)
	}

	tw := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	for _, item := range order.Items {
		_, _ = fmt.Fprintf(tw, "%d\t%s\t×%d\t%s\n", item.ProductID, item.Name, item.Quantity, item.DisplayPrice)
	}
	_, _ = fmt.Fprintf(tw, "\tTotal\t%d\t$%s\n", order.TotalItems, order.TotalAmount)
	return tw.Flush()
}
