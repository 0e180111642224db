package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"edgesync.shamra.dev/cache"
)

// PriceLookup resolves the cached price vector of an item code. Product
// transformation attaches per-variant prices from the cache snapshot, so the
// transform is a function of (erp payload, price cache) rather than of the
// payload alone.
type PriceLookup interface {
	ItemPrice(ctx context.Context, itemCode string) ([]float64, bool)
}

// CachePriceLookup reads price vectors from the cache layer's simple keys.
type CachePriceLookup struct {
	Cache *cache.Cache
}

// ItemPrice returns the cached [retail, wholesale] pair, or false when the
// item has no cached price yet.
func (l *CachePriceLookup) ItemPrice(ctx context.Context, itemCode string) ([]float64, bool) {
	raw, err := l.Cache.ReadSimple(ctx, cache.FamilyPrice, itemCode)
	if err != nil || raw == nil {
		return nil, false
	}
	var vector []float64
	if err := json.Unmarshal(raw, &vector); err != nil {
		return nil, false
	}
	return vector, true
}

// Product maps a raw ERP website-item document into the app-facing product
// shape. Variant item codes get their current cached prices attached;
// variants without a cached price carry a zero pair.
func Product(ctx context.Context, doc map[string]interface{}, prices PriceLookup) (map[string]interface{}, error) {
	name, _ := doc["name"].(string)
	if name == "" {
		return nil, errors.New("transform: product document has no name")
	}

	out := map[string]interface{}{
		"id":          name,
		"name":        stringOr(doc, "web_item_name", name),
		"description": stringOr(doc, "description", ""),
		"item_group":  stringOr(doc, "item_group", ""),
		"image":       stringOr(doc, "website_image", ""),
	}

	variants := variantCodes(doc)
	outVariants := make([]interface{}, 0, len(variants))
	for _, code := range variants {
		price, ok := prices.ItemPrice(ctx, code)
		if !ok {
			price = []float64{0, 0}
		}
		outVariants = append(outVariants, map[string]interface{}{
			"item_code": code,
			"price":     price,
		})
	}
	out["variants"] = outVariants

	return out, nil
}

// Home maps the raw curated app-home document into the app-facing shape.
// Section order is preserved; sections without content are dropped.
func Home(raw map[string]interface{}) (map[string]interface{}, error) {
	if raw == nil {
		return nil, errors.New("transform: empty app home document")
	}

	out := map[string]interface{}{
		"title": stringOr(raw, "title", ""),
	}

	sections, _ := raw["sections"].([]interface{})
	outSections := make([]interface{}, 0, len(sections))
	for i, s := range sections {
		section, ok := s.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("transform: app home section %d is not an object", i)
		}
		items, _ := section["items"].([]interface{})
		if len(items) == 0 {
			continue
		}
		outSections = append(outSections, map[string]interface{}{
			"title": stringOr(section, "title", ""),
			"kind":  stringOr(section, "kind", "list"),
			"items": items,
		})
	}
	out["sections"] = outSections

	return out, nil
}

// variantCodes extracts the nested variant item codes of a website item. An
// item without variants is its own single item code.
func variantCodes(doc map[string]interface{}) []string {
	if raw, ok := doc["variants"].([]interface{}); ok && len(raw) > 0 {
		codes := make([]string, 0, len(raw))
		for _, v := range raw {
			switch t := v.(type) {
			case string:
				codes = append(codes, t)
			case map[string]interface{}:
				if code, ok := t["item_code"].(string); ok && code != "" {
					codes = append(codes, code)
				}
			}
		}
		return codes
	}
	if code, ok := doc["item_code"].(string); ok && code != "" {
		return []string{code}
	}
	if name, ok := doc["name"].(string); ok && name != "" {
		return []string{name}
	}
	return nil
}

func stringOr(doc map[string]interface{}, key, fallback string) string {
	if s, ok := doc[key].(string); ok && s != "" {
		return s
	}
	return fallback
}
