package transform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"edgesync.shamra.dev/kv"
)

// WarehouseReferenceKey is the single key holding the canonical ordered
// warehouse list. Its order is the axis of every availability vector, so the
// key name is part of the external contract.
const WarehouseReferenceKey = "warehouses:reference"

// Warehouse is one descriptor in the reference list: either a plain name or
// a name with coordinates.
type Warehouse struct {
	Name string  `json:"name"`
	Lat  float64 `json:"lat,omitempty"`
	Lng  float64 `json:"lng,omitempty"`
}

// UnmarshalJSON accepts both the plain-string and the object form.
func (w *Warehouse) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*w = Warehouse{Name: name}
		return nil
	}

	type alias Warehouse
	var obj alias
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("transform: warehouse descriptor: %w", err)
	}
	*w = Warehouse(obj)
	return nil
}

// LoadWarehouseReference reads the reference list from the store. An absent
// key yields an empty list.
func LoadWarehouseReference(ctx context.Context, store *kv.Store) ([]Warehouse, error) {
	raw, err := store.Get(ctx, WarehouseReferenceKey)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var warehouses []Warehouse
	if err := json.Unmarshal([]byte(raw), &warehouses); err != nil {
		return nil, fmt.Errorf("transform: decode warehouse reference: %w", err)
	}
	return warehouses, nil
}

// SaveWarehouseReference replaces the reference list.
func SaveWarehouseReference(ctx context.Context, store *kv.Store, warehouses []Warehouse) error {
	data, err := json.Marshal(warehouses)
	if err != nil {
		return fmt.Errorf("transform: encode warehouse reference: %w", err)
	}
	return store.Set(ctx, WarehouseReferenceKey, string(data), 0)
}

// canonicalWarehouseName normalizes an ERP warehouse name for matching
// against the reference list: lowercase, trimmed, branch suffix after " - "
// removed, and a trailing " store" token dropped. "Homs Store - P" and
// "Homs" canonicalize identically.
func canonicalWarehouseName(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	if i := strings.Index(s, " - "); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), " store")
	return strings.TrimSpace(s)
}
