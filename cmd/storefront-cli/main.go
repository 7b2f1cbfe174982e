package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront/internal/cart"
	"github.com/vladislavdragonenkov/storefront/internal/cart/rediscart"
	"github.com/vladislavdragonenkov/storefront/internal/client"
)

const (
	envAPIURL      = "STOREFRONT_API_URL"
	envCartDir     = "STOREFRONT_CART_DIR"
	envRedisAddr   = "STOREFRONT_REDIS_ADDR"
	envCartSession = "STOREFRONT_CART_SESSION"

	defaultAPIURL  = "http://localhost:8080"
	defaultSession = "default"
	requestTimeout = 30 * time.Second
)

const usage = `usage: storefront-cli [flags] <command> [args]

commands:
  products [search]            list catalog
  add <productId>              add one unit to the cart
  remove <productId>           remove a cart line
  set <productId> <quantity>   set quantity (0 or less removes the line)
  clear                        empty the cart
  show                         print cart contents and totals
  checkout [flags]             place an order with the cart contents
  order <orderNumber>          show a placed order
`

var errUsage = errors.New("invalid usage")

type envLookup func(key string) (string, bool)

// options — глобальные флаги CLI.
type options struct {
	apiURL    string
	cartDir   string
	redisAddr string
	session   string
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	log.SetLevel(log.WarnLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.LookupEnv, os.Stdout); err != nil {
		stop()
		if errors.Is(err, errUsage) {
			_, _ = fmt.Fprint(os.Stderr, usage)
		}
		_, _ = fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// run разбирает аргументы, поднимает корзину и выполняет одну команду.
func run(ctx context.Context, args []string, lookup envLookup, out io.Writer) error {
	opts, rest, err := parseOptions(args, lookup)
	if err != nil {
		return err
	}
	if len(rest) == 0 {
		return fmt.Errorf("%w: command is required", errUsage)
	}

	api, err := client.New(opts.apiURL)
	if err != nil {
		return err
	}

	storage, closeStorage, err := openStorage(opts)
	if err != nil {
		return err
	}
	defer closeStorage()

	store := cart.NewStore(storage, printNotifier(out))
	loadCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()
	if err := store.Load(loadCtx); err != nil {
		return fmt.Errorf("load cart: %w", err)
	}
	// Сохранение асинхронное: дожидаемся записи до выхода процесса.
	defer store.Flush()

	c := &cli{api: api, store: store, out: out}
	return c.dispatch(ctx, rest[0], rest[1:])
}

func parseOptions(args []string, lookup envLookup) (options, []string, error) {
	opts := options{
		apiURL:  envOr(lookup, envAPIURL, defaultAPIURL),
		cartDir: envOr(lookup, envCartDir, defaultCartDir()),
		session: envOr(lookup, envCartSession, defaultSession),
	}
	opts.redisAddr = envOr(lookup, envRedisAddr, "")

	fs := flag.NewFlagSet("storefront-cli", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.apiURL, "api", opts.apiURL, "storefront API base URL")
	fs.StringVar(&opts.cartDir, "cart-dir", opts.cartDir, "directory for the local cart file")
	fs.StringVar(&opts.redisAddr, "redis", opts.redisAddr, "keep the cart in Redis instead of a local file")
	fs.StringVar(&opts.session, "session", opts.session, "cart session id for Redis storage")
	if err := fs.Parse(args); err != nil {
		return options{}, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return opts, fs.Args(), nil
}

func openStorage(opts options) (cart.Storage, func(), error) {
	if opts.redisAddr != "" {
		redisClient := goredis.NewClient(&goredis.Options{Addr: opts.redisAddr})
		return rediscart.New(redisClient, opts.session, rediscart.DefaultTTL), func() { _ = redisClient.Close() }, nil
	}

	if opts.cartDir == "" {
		return nil, nil, errors.New("cart directory is not set")
	}
	if err := os.MkdirAll(opts.cartDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("create cart directory: %w", err)
	}
	return cart.NewFileStorage(opts.cartDir), func() {}, nil
}

func printNotifier(out io.Writer) cart.Notifier {
	return cart.NotifierFunc(func(note cart.Notification) {
		if note.Detail == "" {
			_, _ = fmt.Fprintln(out, note.Title)
			return
		}
		_, _ = fmt.Fprintf(out, "%s %s\n", note.Title, note.Detail)
	})
}

func envOr(lookup envLookup, key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func defaultCartDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "storefront")
}
