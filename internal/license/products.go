package license

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/technosupport/ts-license/internal/data"
)

const activeProductsKey = "active"

type productCache struct {
	lru *expirable.LRU[string, []data.Product]
}

func newProductCache(ttl time.Duration) *productCache {
	if ttl <= 0 {
		return &productCache{}
	}
	return &productCache{lru: expirable.NewLRU[string, []data.Product](4, nil, ttl)}
}

func (c *productCache) get() ([]data.Product, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(activeProductsKey)
}

func (c *productCache) put(p []data.Product) {
	if c.lru != nil {
		c.lru.Add(activeProductsKey, p)
	}
}

func (c *productCache) invalidate() {
	if c.lru != nil {
		c.lru.Purge()
	}
}

// ListProducts returns active products, served from a short-lived cache.
func (s *Service) ListProducts(ctx context.Context) ([]data.Product, error) {
	if cached, ok := s.products.get(); ok {
		return cached, nil
	}
	products, err := data.ProductModel{DB: s.store.DB}.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	s.products.put(products)
	return products, nil
}

func (s *Service) CreateProduct(ctx context.Context, req CreateProductRequest) (*data.Product, error) {
	if err := s.check(req); err != nil {
		return nil, err
	}

	p := &data.Product{Name: req.Name, Description: req.Description, IsActive: true}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}

	err := data.ProductModel{DB: s.store.DB}.Insert(ctx, p)
	if errors.Is(err, data.ErrDuplicate) {
		return nil, fieldError("name", ErrProductExists)
	}
	if err != nil {
		return nil, fmt.Errorf("create product: %w", err)
	}

	s.products.invalidate()
	s.logger.InfoContext(ctx, "product created", "software_id", p.ID, "name", p.Name)
	return p, nil
}

// SetProductActive toggles whether new activations may reference the product.
// Existing licenses are untouched.
func (s *Service) SetProductActive(ctx context.Context, id int64, active bool) error {
	err := data.ProductModel{DB: s.store.DB}.SetActive(ctx, id, active)
	if errors.Is(err, data.ErrRecordNotFound) {
		return ErrProductNotFound
	}
	if err != nil {
		return fmt.Errorf("set product active: %w", err)
	}
	s.products.invalidate()
	return nil
}
