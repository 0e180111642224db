// Package webhook is the fast-path ingress: one entry point per entity
// family that fetches from the ERP, transforms, and runs the shared
// detect-and-commit pipeline. The handler never fans out; clients discover
// changes by polling the stream.
package webhook

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/erp"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/pipeline"
	"edgesync.shamra.dev/transform"
)

// ErrValidation marks a payload the handler refuses to process.
var ErrValidation = errors.New("webhook: invalid payload")

// Payload is the minimal body of an ERP change notification.
type Payload struct {
	EntityType string `json:"entity_type"`
	ItemCode   string `json:"itemCode,omitempty"`
}

// Processor runs the per-family fast path.
type Processor struct {
	erp       *erp.Client
	cache     *cache.Cache
	store     *kv.Store
	committer *pipeline.Committer
	log       *logrus.Logger
}

// NewProcessor wires the fast path.
func NewProcessor(client *erp.Client, c *cache.Cache, store *kv.Store, committer *pipeline.Committer, log *logrus.Logger) *Processor {
	return &Processor{erp: client, cache: c, store: store, committer: committer, log: log}
}

// Process validates the payload and dispatches to the family routine.
// Replaying the same payload against an unchanged ERP state yields a
// no-change result and appends nothing.
func (p *Processor) Process(ctx context.Context, payload Payload) (*pipeline.Result, error) {
	family := cache.Family(payload.EntityType)
	if !family.Valid() {
		return nil, fmt.Errorf("%w: unknown entity_type %q", ErrValidation, payload.EntityType)
	}

	switch family {
	case cache.FamilyProduct:
		if payload.ItemCode == "" {
			return nil, fmt.Errorf("%w: product webhook requires itemCode", ErrValidation)
		}
		return p.ProcessProduct(ctx, payload.ItemCode)
	case cache.FamilyPrice:
		if payload.ItemCode == "" {
			return nil, fmt.Errorf("%w: price webhook requires itemCode", ErrValidation)
		}
		return p.ProcessPrice(ctx, payload.ItemCode)
	case cache.FamilyStock:
		if payload.ItemCode == "" {
			return nil, fmt.Errorf("%w: stock webhook requires itemCode", ErrValidation)
		}
		reference, err := transform.LoadWarehouseReference(ctx, p.store)
		if err != nil {
			return nil, err
		}
		return p.ProcessStock(ctx, payload.ItemCode, reference)
	case cache.FamilyHero:
		return p.ProcessHero(ctx)
	case cache.FamilyBundle:
		return p.ProcessBundle(ctx)
	case cache.FamilyHome:
		return p.ProcessHome(ctx)
	default:
		// message changes come from the user subsystem, not ERP webhooks
		return nil, fmt.Errorf("%w: family %q has no webhook path", ErrValidation, family)
	}
}

// ProcessProduct ingests one published website item.
func (p *Processor) ProcessProduct(ctx context.Context, id string) (*pipeline.Result, error) {
	doc, err := p.erp.FetchProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	value, err := transform.Product(ctx, doc, &transform.CachePriceLookup{Cache: p.cache})
	if err != nil {
		return nil, err
	}
	return p.committer.Commit(ctx, cache.FamilyProduct, id, value)
}

// ProcessPrice materializes and ingests one item's price pair.
func (p *Processor) ProcessPrice(ctx context.Context, itemCode string) (*pipeline.Result, error) {
	price, err := p.erp.FetchItemPrice(ctx, itemCode)
	if err != nil {
		return nil, err
	}
	return p.committer.Commit(ctx, cache.FamilyPrice, itemCode, transform.PriceVector(price))
}

// ProcessStock materializes and ingests one item's availability vector
// against the given warehouse reference snapshot.
func (p *Processor) ProcessStock(ctx context.Context, itemCode string, reference []transform.Warehouse) (*pipeline.Result, error) {
	warehouses, err := p.erp.FetchItemStockWarehouses(ctx, itemCode)
	if err != nil {
		return nil, err
	}

	vector, err := transform.StockVector(warehouses, reference, p.log)
	if err != nil {
		return nil, err
	}
	return p.committer.Commit(ctx, cache.FamilyStock, itemCode, vector)
}

// ProcessHero refreshes the hero image bundle singleton.
func (p *Processor) ProcessHero(ctx context.Context) (*pipeline.Result, error) {
	urls, err := p.erp.FetchHeroImageURLs(ctx)
	if err != nil {
		return nil, err
	}
	images := transform.Images(ctx, urls, p.erp, p.log)
	return p.committer.Commit(ctx, cache.FamilyHero, string(cache.FamilyHero), images)
}

// ProcessBundle refreshes the bundle image singleton.
func (p *Processor) ProcessBundle(ctx context.Context) (*pipeline.Result, error) {
	urls, err := p.erp.FetchBundleImageURLs(ctx)
	if err != nil {
		return nil, err
	}
	images := transform.Images(ctx, urls, p.erp, p.log)
	return p.committer.Commit(ctx, cache.FamilyBundle, string(cache.FamilyBundle), images)
}

// ProcessHome refreshes the curated app-home singleton.
func (p *Processor) ProcessHome(ctx context.Context) (*pipeline.Result, error) {
	raw, err := p.erp.FetchAppHomeRaw(ctx)
	if err != nil {
		return nil, err
	}
	value, err := transform.Home(raw)
	if err != nil {
		return nil, err
	}
	return p.committer.Commit(ctx, cache.FamilyHome, string(cache.FamilyHome), value)
}
