package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/domain"
	"github.com/vladislavdragonenkov/storefront-oms/internal/money"
	"github.com/vladislavdragonenkov/storefront-oms/internal/storage/postgres"
)

const defaultTimeout = 30 * time.Second

// defaultCatalog загружается, когда товары не переданы флагами.
var defaultCatalog = []string{
	"Espresso=2.50",
	"Cappuccino=3.80",
	"Croissant=2.20",
	"Cheesecake=4.90",
	"Coffee beans 1kg=24.00",
}

type productEntry struct {
	name       string
	priceMinor int64
}

// parseProductEntry разбирает "имя=цена", цена в основных единицах ("10.50").
func parseProductEntry(raw string) (productEntry, error) {
	name, price, ok := strings.Cut(raw, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return productEntry{}, fmt.Errorf("product %q: expected name=price", raw)
	}
	minor, err := money.Parse(price)
	if err != nil {
		return productEntry{}, fmt.Errorf("product %q: %w", raw, err)
	}
	if minor <= 0 {
		return productEntry{}, fmt.Errorf("product %q: price must be positive", raw)
	}
	return productEntry{name: name, priceMinor: minor}, nil
}

type options struct {
	dsn      string
	products []productEntry
	migrate  bool
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts options
		raw  []string
	)

	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: OMS_POSTGRES_DSN)")
	fs.BoolVar(&opts.migrate, "migrate", true, "apply migrations before seeding")
	fs.Func("product", "product as name=price, repeatable", func(value string) error {
		raw = append(raw, value)
		return nil
	})
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv("OMS_POSTGRES_DSN"))
	}
	if opts.dsn == "" {
		return options{}, errors.New("OMS_POSTGRES_DSN (or -dsn) is required")
	}

	if len(raw) == 0 {
		raw = defaultCatalog
	}
	for _, value := range raw {
		entry, err := parseProductEntry(value)
		if err != nil {
			return options{}, err
		}
		opts.products = append(opts.products, entry)
	}
	return opts, nil
}

type seedResult struct {
	created  int
	existing int
}

// seedProducts создаёт недостающие товары. Уже существующее имя не считается
// ошибкой: цена такого товара не меняется.
func seedProducts(ctx context.Context, repo domain.ProductRepository, entries []productEntry, out io.Writer) (seedResult, error) {
	var result seedResult
	for _, entry := range entries {
		product, err := repo.Create(ctx, domain.Product{Name: entry.name, PriceMinor: entry.priceMinor})
		switch {
		case err == nil:
			result.created++
			_, _ = fmt.Fprintf(out, "created  %s  %-24s %s\n", product.ID, product.Name, money.Format(product.PriceMinor))
		case errors.Is(err, domain.ErrProductNameTaken):
			existing, getErr := repo.GetByName(ctx, entry.name)
			if getErr != nil {
				return result, fmt.Errorf("load existing product %q: %w", entry.name, getErr)
			}
			result.existing++
			_, _ = fmt.Fprintf(out, "exists   %s  %-24s %s\n", existing.ID, existing.Name, money.Format(existing.PriceMinor))
		default:
			return result, fmt.Errorf("create product %q: %w", entry.name, err)
		}
	}
	return result, nil
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		fail("open postgres store: %v", err)
	}
	defer store.Close()

	if opts.migrate {
		if err := store.EnsureSchema(ctx); err != nil {
			fail("apply migrations: %v", err)
		}
	}

	result, err := seedProducts(ctx, postgres.NewProductRepository(store), opts.products, os.Stdout)
	if err != nil {
		fail("%v", err)
	}
	log.WithFields(log.Fields{
		"created":  result.created,
		"existing": result.existing,
	}).Info("catalog seeded")
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
