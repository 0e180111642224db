// Package refresh is the slow path: enumerate every published entity and run
// the same detect-and-commit pipeline the webhook uses, in bounded-parallel
// batches. Stream appends still happen only on real changes, so a refresh
// over an unchanged catalog is silent.
package refresh

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"edgesync.shamra.dev/erp"
	"edgesync.shamra.dev/kv"
	"edgesync.shamra.dev/pipeline"
	"edgesync.shamra.dev/transform"
	"edgesync.shamra.dev/webhook"
)

// DefaultBatchSize bounds in-flight items during a refresh.
const DefaultBatchSize = 10

// ItemError records one failed item without aborting the batch.
type ItemError struct {
	ID    string `json:"id"`
	Error string `json:"error"`
}

// FamilySummary aggregates one family's refresh outcome. Items the ERP no
// longer knows are counted as missing, not as errors.
type FamilySummary struct {
	Total     int         `json:"total"`
	Updated   int         `json:"updated"`
	Unchanged int         `json:"unchanged"`
	Missing   int         `json:"missing"`
	Errors    []ItemError `json:"errors"`
}

// Summary is the full refresh report.
type Summary struct {
	Products  FamilySummary `json:"products"`
	Prices    FamilySummary `json:"prices"`
	Stocks    FamilySummary `json:"stocks"`
	Hero      FamilySummary `json:"hero"`
	Bundle    FamilySummary `json:"bundle"`
	Home      FamilySummary `json:"home"`
	StartedAt time.Time     `json:"started_at"`
	Duration  string        `json:"duration"`
}

// Refresher runs the slow path over the webhook processor's family routines.
type Refresher struct {
	erp       *erp.Client
	store     *kv.Store
	proc      *webhook.Processor
	batchSize int
	log       *logrus.Logger
}

// New creates a refresher. batchSize <= 0 selects DefaultBatchSize.
func New(client *erp.Client, store *kv.Store, proc *webhook.Processor, batchSize int, log *logrus.Logger) *Refresher {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Refresher{erp: client, store: store, proc: proc, batchSize: batchSize, log: log}
}

// Run refreshes every family. The warehouse reference is read once and
// reused as a snapshot across all stock items. Per-item failures are
// recorded and the refresh continues; only enumeration failure aborts.
func (r *Refresher) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	r.log.Info("full refresh started")

	index, err := r.erp.FetchAllProductIndex(ctx)
	if err != nil {
		return nil, err
	}

	productIDs := make([]string, 0, len(index))
	itemCodes := dedupeItemCodes(index)
	for _, entry := range index {
		productIDs = append(productIDs, entry.Name)
	}

	reference, err := transform.LoadWarehouseReference(ctx, r.store)
	if err != nil {
		return nil, err
	}

	summary := &Summary{StartedAt: started}

	summary.Prices = r.runFamily(ctx, itemCodes, func(ctx context.Context, id string) (*pipeline.Result, error) {
		return r.proc.ProcessPrice(ctx, id)
	})
	summary.Stocks = r.runFamily(ctx, itemCodes, func(ctx context.Context, id string) (*pipeline.Result, error) {
		return r.proc.ProcessStock(ctx, id, reference)
	})
	// Products come after prices so variant price attachment sees the fresh
	// snapshot.
	summary.Products = r.runFamily(ctx, productIDs, func(ctx context.Context, id string) (*pipeline.Result, error) {
		return r.proc.ProcessProduct(ctx, id)
	})

	summary.Hero = r.runSingleton(ctx, r.proc.ProcessHero)
	summary.Bundle = r.runSingleton(ctx, r.proc.ProcessBundle)
	summary.Home = r.runSingleton(ctx, r.proc.ProcessHome)

	summary.Duration = time.Since(started).String()
	r.log.WithFields(logrus.Fields{
		"duration":  summary.Duration,
		"products":  summary.Products.Total,
		"items":     len(itemCodes),
		"updated":   summary.Products.Updated + summary.Prices.Updated + summary.Stocks.Updated,
		"errors":    len(summary.Products.Errors) + len(summary.Prices.Errors) + len(summary.Stocks.Errors),
	}).Info("full refresh finished")

	return summary, nil
}

type itemFunc func(ctx context.Context, id string) (*pipeline.Result, error)

// runFamily processes ids in fixed-size batches with bounded parallelism.
// Cross-item stream ordering simply reflects append order; items are
// independent and no refresh boundary sentinel is written.
func (r *Refresher) runFamily(ctx context.Context, ids []string, fn itemFunc) FamilySummary {
	summary := FamilySummary{Total: len(ids), Errors: []ItemError{}}
	var mu sync.Mutex

	for start := 0; start < len(ids); start += r.batchSize {
		end := start + r.batchSize
		if end > len(ids) {
			end = len(ids)
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.batchSize)
		for _, id := range ids[start:end] {
			id := id
			g.Go(func() error {
				res, err := fn(gctx, id)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil && res.Changed:
					summary.Updated++
				case err == nil:
					summary.Unchanged++
				case erp.IsNotFound(err):
					summary.Missing++
				default:
					summary.Errors = append(summary.Errors, ItemError{ID: id, Error: err.Error()})
					r.log.WithFields(logrus.Fields{
						"entity_id": id,
					}).WithError(err).Error("refresh item failed")
				}
				// Item failures never abort the batch.
				return nil
			})
		}
		_ = g.Wait()

		if ctx.Err() != nil {
			break
		}
	}
	return summary
}

func (r *Refresher) runSingleton(ctx context.Context, fn func(context.Context) (*pipeline.Result, error)) FamilySummary {
	summary := FamilySummary{Total: 1, Errors: []ItemError{}}
	res, err := fn(ctx)
	switch {
	case err == nil && res.Changed:
		summary.Updated++
	case err == nil:
		summary.Unchanged++
	case erp.IsNotFound(err):
		summary.Missing++
	default:
		summary.Errors = append(summary.Errors, ItemError{ID: "singleton", Error: err.Error()})
	}
	return summary
}

// dedupeItemCodes flattens variant descriptors into a sorted, unique item
// code list.
func dedupeItemCodes(index []erp.IndexEntry) []string {
	seen := map[string]bool{}
	codes := []string{}
	for _, entry := range index {
		for _, code := range entry.ItemCodes {
			if code == "" || seen[code] {
				continue
			}
			seen[code] = true
			codes = append(codes, code)
		}
	}
	sort.Strings(codes)
	return codes
}
