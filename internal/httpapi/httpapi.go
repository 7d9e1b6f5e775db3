package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"kasirsync/backend/internal/domain"
	"kasirsync/backend/internal/lock"
	"kasirsync/backend/internal/logger"
	"kasirsync/backend/internal/service"
	"kasirsync/backend/internal/session"
	"kasirsync/backend/internal/store"
)

const (
	roleCashier = "cashier"
	roleAdmin   = "admin"

	xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type API struct {
	service       *service.Service
	tokens        *session.TokenIssuer
	metrics       http.Handler
	allowedOrigin string
	syncLimiter   *keyedLimiter
	log           *zap.Logger
}

func New(svc *service.Service, tokens *session.TokenIssuer, allowedOrigin string, metrics http.Handler, log *zap.Logger) *API {
	return &API{
		service:       svc,
		tokens:        tokens,
		metrics:       metrics,
		allowedOrigin: allowedOrigin,
		syncLimiter:   newKeyedLimiter(6, time.Minute),
		log:           logger.OrNop(log).Named("http"),
	}
}

func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", a.handleHealth)
	if a.metrics != nil {
		mux.Handle("/metrics", a.metrics)
	}

	mux.HandleFunc("/api/v1/network", a.requireAuth(a.handleNetwork, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/products/", a.requireAuth(a.handleProductSummary, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/inventory/batches", a.requireAuth(a.handleBatches, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/inventory/batches/", a.requireAuth(a.handleBatchActions, roleAdmin))
	mux.HandleFunc("/api/v1/inventory/validate", a.requireAuth(a.handleValidateStock, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/checkout", a.requireAuth(a.handleCheckout, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/orders/", a.requireAuth(a.handleOrderActions, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/sync", a.requireAuth(a.handleSync, roleCashier, roleAdmin))
	mux.HandleFunc("/api/v1/reconciliation/discrepancies", a.requireAuth(a.handleDiscrepancies, roleAdmin))
	mux.HandleFunc("/api/v1/reconciliation/export", a.requireAuth(a.handleDiscrepancyExport, roleAdmin))
	mux.HandleFunc("/api/v1/reconciliation/orders/", a.requireAuth(a.handleReconciliationActions, roleAdmin))

	return a.withMiddleware(mux)
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}

	status := http.StatusOK
	storeOK := true
	if err := a.service.Health(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		storeOK = false
	}
	writeJSON(w, status, map[string]any{
		"ok":      storeOK,
		"network": a.service.NetworkState(),
		"at":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleNetwork(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	state := a.service.NetworkState()
	writeJSON(w, http.StatusOK, map[string]any{"state": state})
}

func (a *API) handleProductSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	productID, action := splitResource(r.URL.Path, "/api/v1/products/")
	if productID == "" || action != "summary" {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}

	product, err := a.service.ProductSummary(r.Context(), productID)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, product)
}

func (a *API) handleBatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		batches, err := a.service.ListBatches(r.Context(), r.URL.Query().Get("product_id"))
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
	case http.MethodPost:
		if !isRoleAllowed(roleFromRequest(r), []string{roleAdmin}) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		var req domain.ReceiveBatchRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		batch, err := a.service.ReceiveBatch(r.Context(), req)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, batch)
	default:
		a.writeMethodNotAllowed(w)
	}
}

type retireRequest struct {
	Status domain.BatchStatus `json:"status"`
}

func (a *API) handleBatchActions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	batchID, action := splitResource(r.URL.Path, "/api/v1/inventory/batches/")
	if batchID == "" || action != "retire" {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}

	var req retireRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	batch, err := a.service.RetireBatch(r.Context(), batchID, req.Status)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

type validateRequest struct {
	ProductID string          `json:"product_id"`
	Quantity  decimal.Decimal `json:"quantity"`
}

func (a *API) handleValidateStock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req validateRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := a.service.ValidateStock(r.Context(), req.ProductID, req.Quantity)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type checkoutRequest struct {
	Items []domain.CartItem `json:"items"`
}

func (a *API) handleCheckout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(r, &req); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	o, err := a.service.Checkout(r.Context(), req.Items)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	status := http.StatusCreated
	if o.IsOffline {
		status = http.StatusAccepted
	}
	writeJSON(w, status, o)
}

type returnRequest struct {
	Reason string `json:"reason"`
}

type resolveRequest struct {
	Resolutions []domain.ItemResolution `json:"resolutions"`
}

func (a *API) handleOrderActions(w http.ResponseWriter, r *http.Request) {
	orderID, action := splitResource(r.URL.Path, "/api/v1/orders/")
	if orderID == "" {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		o, err := a.service.GetOrder(r.Context(), orderID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case action == "return" && r.Method == http.MethodPost:
		if !isRoleAllowed(roleFromRequest(r), []string{roleAdmin}) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		var req returnRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		reversals, err := a.service.ReturnOrder(r.Context(), orderID, req.Reason)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "reversals": reversals})
	case action == "resolve" && r.Method == http.MethodPost:
		if !isRoleAllowed(roleFromRequest(r), []string{roleAdmin}) {
			a.writeError(w, http.StatusForbidden, errors.New("forbidden role"))
			return
		}
		var req resolveRequest
		if err := decodeJSON(r, &req); err != nil {
			a.writeError(w, http.StatusBadRequest, err)
			return
		}
		o, err := a.service.ResolveOrder(r.Context(), orderID, req.Resolutions)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, o)
	case action == "" || action == "return" || action == "resolve":
		a.writeMethodNotAllowed(w)
	default:
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	}
}

func (a *API) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	key := session.DeviceFromContext(r.Context())
	if key == "" {
		key = clientKey(r)
	}
	if !a.syncLimiter.Allow(key) {
		a.writeError(w, http.StatusTooManyRequests, errors.New("too many sync requests, try again later"))
		return
	}

	summary, err := a.service.TriggerSync(r.Context())
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleDiscrepancies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}
	found, err := a.service.FindDiscrepancies(r.Context(), start, end)
	if err != nil {
		a.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"start":         start.Format(time.RFC3339),
		"end":           end.Format(time.RFC3339),
		"discrepancies": found,
	})
}

func (a *API) handleDiscrepancyExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		a.writeMethodNotAllowed(w)
		return
	}
	start, end, err := parseWindow(r)
	if err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=reconciliation-%s.xlsx", start.Format("20060102")))
	if err := a.service.ExportDiscrepancies(r.Context(), w, start, end); err != nil {
		w.Header().Del("Content-Disposition")
		a.writeServiceError(w, err)
	}
}

func (a *API) handleReconciliationActions(w http.ResponseWriter, r *http.Request) {
	orderID, action := splitResource(r.URL.Path, "/api/v1/reconciliation/orders/")
	if orderID == "" {
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
		return
	}

	if action == "audit" {
		if r.Method != http.MethodGet {
			a.writeMethodNotAllowed(w)
			return
		}
		entries, err := a.service.ReconciliationAudit(r.Context(), orderID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
		return
	}

	if r.Method != http.MethodPost {
		a.writeMethodNotAllowed(w)
		return
	}
	switch action {
	case "reprocess":
		result, err := a.service.ReprocessInventory(r.Context(), orderID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result)
	case "ledger":
		entry, err := a.service.CreateMissingLedger(r.Context(), orderID)
		if err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	case "reconcile":
		if err := a.service.MarkAsReconciled(r.Context(), orderID); err != nil {
			a.writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"order_id": orderID, "reconciled": true})
	default:
		a.writeError(w, http.StatusNotFound, errors.New("route not found"))
	}
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost && strings.Contains(strings.ToLower(r.Header.Get("Content-Type")), "application/json") {
			r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		startedAt := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(startedAt)))
	})
}

// splitResource turns "/prefix/{id}/{action}" into id and action.
func splitResource(path string, prefix string) (string, string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	if rest == "" {
		return "", ""
	}
	id, action, _ := strings.Cut(rest, "/")
	return id, action
}

// parseWindow reads start/end as RFC3339 or YYYY-MM-DD. A bare end date
// covers that whole day. The default window is the last 24 hours.
func parseWindow(r *http.Request) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	start, end := now.Add(-24*time.Hour), now

	if raw := strings.TrimSpace(r.URL.Query().Get("start")); raw != "" {
		parsed, _, err := parseInstant(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid start: %w", err)
		}
		start = parsed
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("end")); raw != "" {
		parsed, dateOnly, err := parseInstant(raw)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid end: %w", err)
		}
		if dateOnly {
			parsed = parsed.Add(24*time.Hour - time.Nanosecond)
		}
		end = parsed
	}
	return start, end, nil
}

func parseInstant(raw string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), false, nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, false, err
	}
	return t.UTC(), true, nil
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// statusFor maps core and store sentinels to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNoCompanyPermission):
		return http.StatusForbidden
	case errors.Is(err, store.ErrNotFound), errors.Is(err, domain.ErrBatchNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientStock),
		errors.Is(err, domain.ErrInsufficientBatchQuantity),
		errors.Is(err, domain.ErrInventoryUnavailable),
		errors.Is(err, domain.ErrCannotFulfillOfflinePlan),
		errors.Is(err, domain.ErrOrderNotPendingAdjustment),
		errors.Is(err, domain.ErrLedgerExists),
		errors.Is(err, store.ErrConflict),
		errors.Is(err, lock.ErrNotObtained):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNetworkOffline), errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeServiceError(w http.ResponseWriter, err error) {
	a.writeError(w, statusFor(err), err)
}

func (a *API) writeMethodNotAllowed(w http.ResponseWriter) {
	a.writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func (a *API) writeError(w http.ResponseWriter, status int, err error) {
	// 5xx bodies stay generic; the cause goes to the log only.
	msg := err.Error()
	if status >= 500 && status != http.StatusServiceUnavailable {
		a.log.Error("internal error", zap.Int("status", status), zap.Error(err))
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
