package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/tclemons/salestaxd/internal/catalog"
	"github.com/tclemons/salestaxd/internal/devcache"
	"github.com/tclemons/salestaxd/internal/flight"
	"github.com/tclemons/salestaxd/internal/model"
	"github.com/tclemons/salestaxd/internal/sheet"
	"github.com/tclemons/salestaxd/internal/tax"
)

// Handlers carries the HTTP handler set and its dependencies.
type Handlers struct {
	manager        *catalog.Manager
	cache          *devcache.Cache
	group          *flight.Group
	logger         *zap.Logger
	maxUploadBytes int64
}

// NewHandlers wires the handler set.
func NewHandlers(manager *catalog.Manager, cache *devcache.Cache, logger *zap.Logger, maxUploadBytes int64) *Handlers {
	if maxUploadBytes <= 0 {
		maxUploadBytes = model.DefaultMaxUploadBytes
	}
	return &Handlers{
		manager:        manager,
		cache:          cache,
		group:          flight.NewGroup(),
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeIngestError maps ingestion failures to responses, attaching
// column diagnostics when detection failed.
func (h *Handlers) writeIngestError(w http.ResponseWriter, err error) {
	var de *model.DetectionError
	switch {
	case errors.As(err, &de):
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "could not detect device name and price columns",
			"columns": de.Columns,
			"samples": de.Samples,
		})
	case errors.Is(err, model.ErrUnsupportedFormat):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, model.ErrNoValidDevices):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		h.logger.Error("sheet ingestion failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to process sheet")
	}
}

type calculateRequest struct {
	Device  string  `json:"device,omitempty"`
	Price   float64 `json:"price,omitempty"`
	State   string  `json:"state"`
	Prepaid bool    `json:"prepaid,omitempty"`
}

type calculateResponse struct {
	Device string  `json:"device,omitempty"`
	State  string  `json:"state"`
	Rate   float64 `json:"rate"`
	Price  float64 `json:"price"`
	Tax    float64 `json:"tax"`
	Total  float64 `json:"total"`
}

// Calculate computes sales tax for a price, or for a catalog device
// when a name is given instead of a price.
func (h *Handlers) Calculate(w http.ResponseWriter, r *http.Request) {
	var req calculateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rate, ok := tax.StateRates[req.State]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown state: %q", req.State))
		return
	}

	price := req.Price
	if req.Device != "" && price == 0 {
		rec, found := h.cache.Get(req.Device)
		if !found {
			writeError(w, http.StatusNotFound, fmt.Sprintf("device not found: %q", req.Device))
			return
		}
		price = rec.MSRP
		if req.Prepaid {
			if !rec.HasPrepaid() {
				writeError(w, http.StatusNotFound, fmt.Sprintf("no prepaid price for %q", req.Device))
				return
			}
			price = rec.Prepaid
		}
	}

	taxAmount, total := tax.Calculate(price, rate)
	writeJSON(w, http.StatusOK, calculateResponse{
		Device: req.Device,
		State:  req.State,
		Rate:   rate,
		Price:  price,
		Tax:    taxAmount,
		Total:  total,
	})
}

// States lists every supported state with its tax rate.
func (h *Handlers) States(w http.ResponseWriter, r *http.Request) {
	type stateRate struct {
		Name string  `json:"name"`
		Rate float64 `json:"rate"`
	}
	names := tax.States()
	out := make([]stateRate, len(names))
	for i, name := range names {
		out[i] = stateRate{Name: name, Rate: tax.Rate(name)}
	}
	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, map[string]any{"states": out})
}

// Devices lists every device name. Concurrent calls share one pass
// through the catalog.
func (h *Handlers) Devices(w http.ResponseWriter, r *http.Request) {
	var names []string
	h.group.Run("devices", func() error {
		names = h.cache.Names()
		return nil
	})

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": names,
		"count":   len(names),
	})
}

// Search returns device names matching a substring query.
func (h *Handlers) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("q")
	limit := model.DefaultSearchLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	matches := h.cache.Search(query, limit)
	w.Header().Set("Cache-Control", "public, max-age=60")
	writeJSON(w, http.StatusOK, map[string]any{
		"query":   query,
		"devices": matches,
		"count":   len(matches),
	})
}

// Popular returns the homepage popular-device strip.
func (h *Handlers) Popular(w http.ResponseWriter, r *http.Request) {
	limit := 4
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{
		"devices": h.manager.Popular(limit),
	})
}

// Device returns the full record for one device. Concurrent lookups of
// the same name share one pass.
func (h *Handlers) Device(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var (
		rec   model.PriceRecord
		found bool
	)
	h.group.Run("device:"+name, func() error {
		rec, found = h.cache.Get(name)
		return nil
	})
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("device not found: %q", name))
		return
	}

	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    name,
		"msrp":    rec.MSRP,
		"prepaid": rec.Prepaid,
	})
}

// DevicePrice returns just the price fields for one device.
func (h *Handlers) DevicePrice(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	rec, found := h.cache.Get(name)
	if !found {
		writeError(w, http.StatusNotFound, fmt.Sprintf("device not found: %q", name))
		return
	}

	resp := map[string]any{"name": name, "msrp": rec.MSRP}
	if rec.HasPrepaid() {
		resp["prepaid"] = rec.Prepaid
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	writeJSON(w, http.StatusOK, resp)
}

// saveUpload writes the uploaded sheet to a temp file, enforcing the
// size cap and the format allow-list. The caller removes the file.
func (h *Handlers) saveUpload(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("upload exceeds %s limit", humanize.Bytes(uint64(h.maxUploadBytes))))
			return "", false
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return "", false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return "", false
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(filepath.Base(header.Filename)))
	if !sheet.AllowedExtensions[ext] {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("unsupported file type %q, expected .csv, .xlsx, or .xls", ext))
		return "", false
	}

	tmp, err := os.CreateTemp("", "sheet-upload-*"+ext)
	if err != nil {
		h.logger.Error("failed to create temp file", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return "", false
	}
	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		writeError(w, http.StatusInternalServerError, "failed to store upload")
		return "", false
	}
	tmp.Close()

	h.logger.Info("sheet uploaded",
		zap.String("filename", filepath.Base(header.Filename)),
		zap.String("size", humanize.Bytes(uint64(header.Size))))
	return tmp.Name(), true
}

// Upload ingests an uploaded sheet into the catalog.
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	path, ok := h.saveUpload(w, r)
	if !ok {
		return
	}
	defer os.Remove(path)

	result, err := h.manager.IngestUpload(path)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "sheet ingested",
		"processed": result.Processed,
		"skipped":   result.Skipped,
		"devices":   len(result.Devices),
		"columns":   result.Columns,
	})
}

// UploadPreview returns per-column samples from an uploaded sheet so a
// caller can inspect it before committing an ingest.
func (h *Handlers) UploadPreview(w http.ResponseWriter, r *http.Request) {
	path, ok := h.saveUpload(w, r)
	if !ok {
		return
	}
	defer os.Remove(path)

	columns, totalRows, err := sheet.Preview(path)
	if err != nil {
		h.writeIngestError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"columns":   columns,
		"totalRows": totalRows,
	})
}

// Refresh forces a remote sheet refresh.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if err := h.manager.Refresh(r.Context()); err != nil {
		if errors.Is(err, model.ErrRefreshInFlight) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		h.writeIngestError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "sheet refreshed",
		"status":  h.manager.Status(),
	})
}

// Status reports the service view of the catalog: sync state, cache
// stats, and the price distribution.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	sync := h.manager.Status()
	resp := map[string]any{
		"sync":           sync,
		"devices":        h.cache.Len(),
		"reloadedAt":     h.cache.ReloadedAt(),
		"searchComputes": h.cache.SearchComputes(),
		"priceBuckets":   h.cache.PriceBuckets(),
	}
	if n, err := strconv.ParseUint(sync.SheetSize, 10, 64); err == nil {
		resp["sheetSizeHuman"] = humanize.Bytes(n)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SheetStatus reports just the sheet sync record.
func (h *Handlers) SheetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.Status())
}

// Validate cross-checks device counts across every data source.
func (h *Handlers) Validate(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.manager.ValidateCounts())
}

// Health is the liveness probe.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
