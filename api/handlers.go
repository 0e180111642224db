package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"edgesync.shamra.dev/cache"
	"edgesync.shamra.dev/stream"
	"edgesync.shamra.dev/transform"
	"edgesync.shamra.dev/webhook"
)

func (s *Server) handleHealth(c echo.Context) error {
	status := "healthy"
	code := http.StatusOK
	if err := s.store.Ping(c.Request().Context()); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, map[string]string{
		"status":  status,
		"service": s.cfg.Service.Name,
	})
}

// webhookResponse is the ingress acknowledgement. StreamID is null when the
// detection outcome was no-change.
type webhookResponse struct {
	Success  bool    `json:"success"`
	Changed  bool    `json:"changed"`
	Version  uint64  `json:"version"`
	StreamID *string `json:"streamId"`
}

func (s *Server) handleWebhook(c echo.Context) error {
	var payload webhook.Payload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}

	res, err := s.processor.Process(c.Request().Context(), payload)
	if err != nil {
		return respondError(c, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveWebhook(payload.EntityType, res.Outcome.String())
	}

	resp := webhookResponse{Success: true, Changed: res.Changed, Version: res.Version}
	if res.StreamID != "" {
		id := res.StreamID
		resp.StreamID = &id
	}
	return c.JSON(http.StatusOK, resp)
}

// priceUpdateRequest is the legacy direct price write. It predates the hash
// entry mechanism and only touches the simple price key.
type priceUpdateRequest struct {
	ErpnextName     string  `json:"erpnextName"`
	SizeUnit        string  `json:"sizeUnit"`
	Price           float64 `json:"price"`
	ItemCode        string  `json:"itemCode,omitempty"`
	InvalidateCache bool    `json:"invalidateCache,omitempty"`
}

func (s *Server) handlePriceUpdate(c echo.Context) error {
	var req priceUpdateRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "malformed payload"})
	}
	itemCode := req.ItemCode
	if itemCode == "" {
		itemCode = req.ErpnextName
	}
	if itemCode == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "erpnextName or itemCode required"})
	}

	ctx := c.Request().Context()

	// Keep the tier the request does not name. A missing vector starts
	// from zeros.
	vector := []float64{0, 0}
	if raw, err := s.cache.ReadSimple(ctx, cache.FamilyPrice, itemCode); err == nil && raw != nil {
		var existing []float64
		if jsonErr := json.Unmarshal(raw, &existing); jsonErr == nil && len(existing) == 2 {
			vector = existing
		}
	}
	if req.SizeUnit == "wholesale" {
		vector[1] = req.Price
	} else {
		vector[0] = req.Price
	}

	if err := s.cache.WriteSimple(ctx, cache.FamilyPrice, itemCode, vector); err != nil {
		return respondError(c, err)
	}
	if req.InvalidateCache {
		// Drop the hash entry so the next webhook recomputes from scratch.
		if err := s.store.Del(ctx, cache.HashKey(cache.FamilyPrice, itemCode)); err != nil {
			return respondError(c, err)
		}
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":     true,
		"erpnextName": req.ErpnextName,
		"sizeUnit":    req.SizeUnit,
		"price":       req.Price,
		"itemCode":    itemCode,
	})
}

// syncResponse is the delta-pull page.
type syncResponse struct {
	Entries      []stream.Delta `json:"entries"`
	NextStreamID string         `json:"next_stream_id"`
	More         bool           `json:"more"`
}

func (s *Server) handleSync(c echo.Context) error {
	family := cache.Family(c.Param("family"))
	if !family.Valid() {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "unknown family"})
	}

	from := c.QueryParam("from")
	if !validCursor(from) {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid cursor"})
	}
	max := 100
	if raw := c.QueryParam("max"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid max"})
		}
		max = n
	}

	page, err := s.syncer.Pull(c.Request().Context(), family, from, max)
	if err != nil {
		return respondError(c, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveSyncPull(string(family))
	}
	return c.JSON(http.StatusOK, syncResponse{
		Entries:      page.Entries,
		NextStreamID: page.NextStreamID,
		More:         page.More,
	})
}

// validCursor accepts the stream id forms the log understands: empty, a
// millisecond timestamp, or timestamp-sequence. Anything else would surface
// as a storage error deep in the pull path.
func validCursor(s string) bool {
	if s == "" {
		return true
	}
	ms, seq, hasSeq := strings.Cut(s, "-")
	if !allDigits(ms) {
		return false
	}
	return !hasSeq || allDigits(seq)
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (s *Server) handleStock(c echo.Context) error {
	itemCode := c.Param("itemCode")
	raw, err := s.cache.ReadSimple(c.Request().Context(), cache.FamilyStock, itemCode)
	if err != nil {
		return respondError(c, err)
	}
	if raw == nil {
		return c.JSON(http.StatusNotFound, errorResponse{Error: "not cached"})
	}

	var availability []int
	if err := json.Unmarshal(raw, &availability); err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"availability": availability})
}

func (s *Server) handleWarehouseReference(c echo.Context) error {
	reference, err := transform.LoadWarehouseReference(c.Request().Context(), s.store)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"warehouses": reference,
		"count":      len(reference),
	})
}

func (s *Server) handleRefreshAll(c echo.Context) error {
	summary, err := s.refresher.Run(c.Request().Context())
	if err != nil {
		return respondError(c, err)
	}
	if s.metrics != nil {
		s.metrics.ObserveRefresh()
	}
	return c.JSON(http.StatusOK, summary)
}

func (s *Server) handleCertificateInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"fingerprint": s.cfg.Security.CertFingerprint,
	})
}
