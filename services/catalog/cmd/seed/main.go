// Command seed registers demo products with a running catalog service. It is
// safe to run repeatedly: products that already exist are skipped.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"time"

	pkgconfig "github.com/shopline/commerce/pkg/config"
	apperrors "github.com/shopline/commerce/pkg/errors"
	"github.com/shopline/commerce/pkg/httpclient"
	"github.com/shopline/commerce/pkg/logger"
)

type config struct {
	CatalogURL string        `env:"CATALOG_SERVICE_URL" envDefault:"http://localhost:8002"`
	Extra      int           `env:"SEED_EXTRA_PRODUCTS" envDefault:"0"`
	Stock      int           `env:"SEED_STOCK" envDefault:"25"`
	Timeout    time.Duration `env:"SEED_TIMEOUT" envDefault:"2m"`
	LogLevel   string        `env:"SEED_LOG_LEVEL" envDefault:"info"`
}

func (c *config) Validate() error {
	if c.Extra < 0 {
		return fmt.Errorf("SEED_EXTRA_PRODUCTS must be >= 0, got %d", c.Extra)
	}
	if c.Stock < 0 {
		return fmt.Errorf("SEED_STOCK must be >= 0, got %d", c.Stock)
	}
	return nil
}

type product struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Price       int64  `json:"price"`
	Stock       int    `json:"stock"`
}

var demoProducts = []product{
	{ID: "P1", Name: "Stoneware Mug", Description: "350ml glazed mug", Price: 1250},
	{ID: "P2", Name: "Pour-Over Kettle", Description: "Gooseneck, 1l", Price: 4900},
	{ID: "P3", Name: "Paper Filters", Description: "Pack of 100", Price: 599},
	{ID: "P4", Name: "Burr Grinder", Description: "Manual, ceramic burrs", Price: 6500},
	{ID: "P5", Name: "Espresso Beans", Description: "1kg, medium roast", Price: 2400},
}

var adjectives = []string{"Compact", "Classic", "Deluxe", "Travel", "Studio", "Everyday"}
var nouns = []string{"Tumbler", "Carafe", "Scale", "Tamper", "Dripper", "Canister"}

// syntheticProducts generates n products with stable IDs so reruns skip them.
func syntheticProducts(n, stock int, rng *rand.Rand) []product {
	out := make([]product, n)
	for i := range out {
		out[i] = product{
			ID:    fmt.Sprintf("GEN-%05d", i+1),
			Name:  adjectives[rng.IntN(len(adjectives))] + " " + nouns[rng.IntN(len(nouns))],
			Price: int64(199 + rng.IntN(20000)),
			Stock: stock,
		}
	}
	return out
}

type seeder struct {
	client  *httpclient.Client
	baseURL string
	logger  *slog.Logger
}

// seed registers each product and reports how many were created and skipped.
func (s *seeder) seed(ctx context.Context, products []product) (created, skipped int, err error) {
	for _, p := range products {
		err := s.create(ctx, p)
		switch {
		case err == nil:
			created++
			s.logger.Debug("product created", slog.String("product_id", p.ID), slog.Int("stock", p.Stock))
		case errors.Is(err, apperrors.ErrAlreadyExists):
			skipped++
		default:
			return created, skipped, fmt.Errorf("product %s: %w", p.ID, err)
		}
	}
	return created, skipped, nil
}

func (s *seeder) create(ctx context.Context, p product) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal product: %w", err)
	}

	resp, err := s.client.Post(ctx, s.baseURL+"/api/v1/products", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		return nil
	}
	return httpclient.ParseResponseError(resp, "catalog")
}

func main() {
	var cfg config
	if err := pkgconfig.Load(&cfg); err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.New("catalog-seed", cfg.LogLevel)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	products := make([]product, 0, len(demoProducts)+cfg.Extra)
	for _, p := range demoProducts {
		p.Stock = cfg.Stock
		products = append(products, p)
	}
	products = append(products, syntheticProducts(cfg.Extra, cfg.Stock, rand.New(rand.NewPCG(1, 2)))...)

	s := &seeder{
		client:  httpclient.New(httpclient.DefaultConfig()),
		baseURL: cfg.CatalogURL,
		logger:  log,
	}
	created, skipped, err := s.seed(ctx, products)
	if err != nil {
		log.Error("seeding failed",
			slog.Int("created", created),
			slog.Int("skipped", skipped),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	log.Info("catalog seeded",
		slog.String("url", cfg.CatalogURL),
		slog.Int("created", created),
		slog.Int("skipped", skipped),
	)
}
