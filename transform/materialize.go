// Package transform maps ERP payloads into the stable app-facing shapes
// clients consume, and materializes the compact per-item price and stock
// arrays. Everything here is a pure function of its inputs plus, for
// products, a price-cache snapshot, and for image families, fetched blobs.
package transform

import (
	"errors"

	"github.com/sirupsen/logrus"

	"edgesync.shamra.dev/erp"
)

// ErrEmptyWarehouseReference rejects availability writes while the reference
// list is empty: a zero-length vector would be indistinguishable from "no
// stock anywhere" once the reference is populated.
var ErrEmptyWarehouseReference = errors.New("transform: warehouse reference is empty")

// PriceVector materializes the app-facing [retail, wholesale] pair. A
// missing tier stays zero.
func PriceVector(p erp.Price) []float64 {
	return []float64{p.Retail, p.Wholesale}
}

// StockVector materializes the binary availability vector for one item: one
// slot per reference warehouse, in reference order. ERP warehouse names are
// matched case-insensitively after trimming and branch-suffix stripping;
// names that match no reference warehouse are logged and dropped, leaving
// their slots zero.
func StockVector(erpWarehouses []string, reference []Warehouse, log *logrus.Logger) ([]int, error) {
	if len(reference) == 0 {
		return nil, ErrEmptyWarehouseReference
	}

	index := make(map[string]int, len(reference))
	for i, w := range reference {
		index[canonicalWarehouseName(w.Name)] = i
	}

	vector := make([]int, len(reference))
	for _, name := range erpWarehouses {
		slot, ok := index[canonicalWarehouseName(name)]
		if !ok {
			log.WithFields(logrus.Fields{
				"warehouse": name,
			}).Warn("warehouse not in reference, dropping")
			continue
		}
		vector[slot] = 1
	}
	return vector, nil
}
