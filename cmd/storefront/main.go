package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/saixiaoxi/sipstop/internal/config"
	"github.com/saixiaoxi/sipstop/internal/errdefs"
	"github.com/saixiaoxi/sipstop/internal/models"
	"github.com/saixiaoxi/sipstop/internal/storefront"
	"github.com/saixiaoxi/sipstop/pkg/healthcheck"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const usage = `Usage: storefront [global flags] <command> [flags]

Commands:
  products   list products (--search, --category)
  signup     register an account (--name, --email, --password)
  login      start a session (--email, --password)
  logout     end the session
  cart       show the cart
  cart-add   add a product to the cart (--product, --qty)
  checkout   place an order for the cart (--name, --address, --payment)
  orders     list your orders (owners see every order)
  status     show API health and cache state

Global flags:
`

func main() {
	global := pflag.NewFlagSet("storefront", pflag.ContinueOnError)
	global.SetInterspersed(false)
	configFile := global.StringP("config", "c", "", "path to the config file")
	global.String("api", "", "API base URL, e.g. http://localhost:3000/api")
	global.String("cache-dir", "", "directory for the local cache")
	global.String("redis", "", "Redis address for the local cache")
	verbose := global.BoolP("verbose", "v", false, "log at the configured level instead of warn")
	global.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		global.PrintDefaults()
	}
	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	v := viper.New()
	_ = v.BindPFlag("client.base_url", global.Lookup("api"))
	_ = v.BindPFlag("cache.dir", global.Lookup("cache-dir"))
	_ = v.BindPFlag("cache.redis_addr", global.Lookup("redis"))

	cfg, err := config.Load(v, *configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log)
	logger.SetOutput(os.Stderr)
	if !*verbose {
		logger.SetLevel(logrus.WarnLevel)
	}

	args := global.Args()
	if len(args) == 0 {
		global.Usage()
		os.Exit(2)
	}

	ctx := context.Background()
	app := storefront.New(cfg.Client, storefront.NewKV(cfg.Cache), nil, logger)
	if err := app.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start storefront")
	}

	cli := &cli{app: app, cfg: cfg, out: os.Stdout}
	if err := cli.run(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", args[0], describe(err))
		os.Exit(1)
	}
}

// describe prefers the rejection reason over the wrapped error chain.
func describe(err error) string {
	if reason := errdefs.Reason(err); reason != "" {
		return reason
	}
	return err.Error()
}

type cli struct {
	app *storefront.App
	cfg *config.Config
	out io.Writer
}

func (c *cli) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "products":
		return c.products(args)
	case "signup":
		return c.signup(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "logout":
		return c.app.Accounts.Logout(ctx)
	case "cart":
		c.printCart()
		return nil
	case "cart-add":
		return c.cartAdd(ctx, args)
	case "checkout":
		return c.checkout(ctx, args)
	case "orders":
		return c.orders()
	case "status":
		return c.status(ctx)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

func (c *cli) products(args []string) error {
	fs := pflag.NewFlagSet("products", pflag.ContinueOnError)
	search := fs.StringP("search", "s", "", "match name or description")
	category := fs.String("category", "", "only this category")
	if err := fs.Parse(args); err != nil {
		return err
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK")
	for _, p := range c.app.Catalog.Search(*search, *category) {
		fmt.Fprintf(w, "%d\t%s\t%s\t%.2f\t%d\n", p.ID, p.Name, p.Category, p.Price, p.Stock)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "categories: %s\n", strings.Join(c.app.Catalog.Categories(), ", "))
	return nil
}

func (c *cli) signup(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("signup", pflag.ContinueOnError)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := c.app.Accounts.Signup(ctx, models.User{Name: *name, Email: *email, Password: *password})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "registered %s (id %d)\n", u.Email, u.ID)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
	email := fs.String("email", "", "email address")
	password := fs.String("password", "", "password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u, err := c.app.Accounts.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "logged in as %s (%s)\n", u.Name, u.Role)
	return nil
}

func (c *cli) cartAdd(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("cart-add", pflag.ContinueOnError)
	id := fs.IntP("product", "p", 0, "product id")
	qty := fs.IntP("qty", "q", 1, "quantity")
	if err := fs.Parse(args); err != nil {
		return err
	}

	p, ok := c.app.Catalog.Get(*id)
	if !ok {
		return errdefs.Wrap("cart-add", "products", *id, errdefs.ErrNotFound)
	}
	if err := c.app.Cart.Add(ctx, p, *qty); err != nil {
		return err
	}
	c.printCart()
	return nil
}

func (c *cli) printCart() {
	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tQTY\tSUBTOTAL")
	for _, item := range c.app.Cart.Items() {
		fmt.Fprintf(w, "%d\t%s\t%d\t%.2f\n", item.Product.ID, item.Product.Name, item.Quantity,
			item.Product.Price*float64(item.Quantity))
	}
	_ = w.Flush()
	fmt.Fprintf(c.out, "%d items, total %.2f\n", c.app.Cart.Count(), c.app.Cart.Total())
}

func (c *cli) checkout(ctx context.Context, args []string) error {
	fs := pflag.NewFlagSet("checkout", pflag.ContinueOnError)
	name := fs.String("name", "", "recipient")
	address := fs.String("address", "", "delivery address")
	payment := fs.String("payment", "cash", "payment method")
	if err := fs.Parse(args); err != nil {
		return err
	}

	order, err := c.app.Checkout.PlaceOrder(ctx,
		map[string]string{"fullName": *name, "address": *address},
		map[string]string{"method": *payment},
	)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "order %s placed (id %d, total %.2f)\n", order.OrderNumber, order.ID, order.Total)
	return nil
}

func (c *cli) orders() error {
	user, ok := c.app.Accounts.CurrentUser()
	if !ok {
		return storefront.ErrNotLoggedIn
	}
	orders := c.app.Orders.ByUser(user.ID)
	if c.app.Accounts.IsOwner() {
		orders = c.app.Orders.All()
	}

	w := tabwriter.NewWriter(c.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNUMBER\tUSER\tDATE\tSTATUS\tTOTAL")
	for _, o := range orders {
		fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%.2f\n", o.ID, o.OrderNumber, o.UserID, o.Date, o.Status, o.Total)
	}
	return w.Flush()
}

func (c *cli) status(ctx context.Context) error {
	checker := healthcheck.NewChecker(c.cfg.Client.Timeout)
	checker.AddCheck(healthcheck.NewHTTPCheck("api",
		strings.TrimRight(c.cfg.Client.BaseURL, "/")+"/health", c.cfg.Client.Timeout))
	result := checker.RunChecks(ctx)

	report := map[string]any{
		"api":      result,
		"products": c.app.Catalog.Collection().State().String(),
		"orders":   c.app.Orders.Collection().State().String(),
		"cart":     c.app.Cart.Count(),
		"time":     time.Now().UTC().Format(models.ISOTime),
	}
	if u, ok := c.app.Accounts.CurrentUser(); ok {
		report["user"] = u.Email
	}
	enc := json.NewEncoder(c.out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		return err
	}
	if result.Status != healthcheck.StatusUp {
		return errors.New("API unreachable, working from the local cache")
	}
	return nil
}
