package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
	"github.com/rl1809/bhw-inventory/internal/core/service"
)

type HTTPHandler struct {
	inventory *service.InventoryService
	reports   *service.ReportService
	logger    *zap.Logger
}

type messageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func NewHTTPHandler(inventory *service.InventoryService, reports *service.ReportService, logger *zap.Logger) *HTTPHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPHandler{inventory: inventory, reports: reports, logger: logger}
}

// Register mounts the inventory API on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)

	mux.HandleFunc("POST /api/resources", h.CreateResource)
	mux.HandleFunc("GET /api/resources", h.ListResources)
	mux.HandleFunc("GET /api/resources/{id}", h.GetResource)
	mux.HandleFunc("PATCH /api/resources/{id}", h.UpdateResource)
	mux.HandleFunc("DELETE /api/resources/{id}", h.DeleteResource)
	mux.HandleFunc("POST /api/resources/{id}/stock-in", h.StockIn)
	mux.HandleFunc("POST /api/resources/{id}/dispense", h.Dispense)
	mux.HandleFunc("POST /api/resources/{id}/borrow", h.Borrow)

	mux.HandleFunc("GET /api/transactions", h.ListTransactions)
	mux.HandleFunc("GET /api/transactions/{id}", h.GetTransaction)
	mux.HandleFunc("POST /api/transactions/{id}/return", h.ReturnItem)
	mux.HandleFunc("GET /api/borrowers/{id}/transactions", h.BorrowerHistory)

	mux.HandleFunc("GET /api/reports/alerts", h.Alerts)
	mux.HandleFunc("GET /api/reports/low-stock", h.LowStock)
	mux.HandleFunc("GET /api/reports/borrows/active", h.ActiveBorrows)
	mux.HandleFunc("GET /api/reports/borrows/overdue", h.OverdueBorrows)
	mux.HandleFunc("GET /api/reports/top", h.Top)
	mux.HandleFunc("GET /api/reports/usage", h.Usage)
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) CreateResource(w http.ResponseWriter, r *http.Request) {
	var req CreateResourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	exp, err := parseDate("expiration", req.Expiration)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.inventory.CreateResource(r.Context(), service.CreateResourceInput{
		Kind:       domain.ResourceKind(req.Kind),
		Name:       req.Name,
		Quantity:   req.Quantity,
		Expiration: exp,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toResource(*res))
}

func (h *HTTPHandler) ListResources(w http.ResponseWriter, r *http.Request) {
	filter := domain.ResourceFilter{Kind: domain.ResourceKind(r.URL.Query().Get("kind"))}
	resources, err := h.inventory.ListResources(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResources(resources))
}

func (h *HTTPHandler) GetResource(w http.ResponseWriter, r *http.Request) {
	res, err := h.inventory.GetResource(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResource(*res))
}

func (h *HTTPHandler) UpdateResource(w http.ResponseWriter, r *http.Request) {
	var req UpdateResourceRequest
	if !h.decode(w, r, &req) {
		return
	}
	exp, err := parseDate("expiration", req.Expiration)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.inventory.UpdateResource(r.Context(), r.PathValue("id"), domain.ResourceUpdate{
		Name:       req.Name,
		Expiration: exp,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResource(*res))
}

func (h *HTTPHandler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	if err := h.inventory.DeleteResource(r.Context(), r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Success: true, Message: "resource deleted"})
}

func (h *HTTPHandler) StockIn(w http.ResponseWriter, r *http.Request) {
	var req StockInRequest
	if !h.decode(w, r, &req) {
		return
	}
	exp, err := parseDate("expiration", req.Expiration)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	res, err := h.inventory.StockIn(r.Context(), service.StockInInput{
		ResourceID: r.PathValue("id"),
		Quantity:   req.Quantity,
		Expiration: exp,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResource(*res))
}

func (h *HTTPHandler) Dispense(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !h.decode(w, r, &req) {
		return
	}

	tx, err := h.inventory.Dispense(r.Context(), service.DispenseInput{
		ResourceID: r.PathValue("id"),
		Quantity:   req.Quantity,
		Recipient:  recipientOf(req),
		RequestID:  req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransaction(*tx))
}

func (h *HTTPHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if !h.decode(w, r, &req) {
		return
	}
	expected, err := parseDate("expected_return_date", req.ExpectedReturnDate)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	tx, err := h.inventory.Borrow(r.Context(), service.BorrowInput{
		ResourceID:     r.PathValue("id"),
		Quantity:       req.Quantity,
		Recipient:      recipientOf(req),
		ExpectedReturn: expected,
		RequestID:      req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransaction(*tx))
}

func (h *HTTPHandler) ReturnItem(w http.ResponseWriter, r *http.Request) {
	// The body is optional: an empty one returns everything borrowed.
	var req ReturnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return
	}

	tx, err := h.inventory.ReturnItem(r.Context(), service.ReturnInput{
		TransactionID: r.PathValue("id"),
		Quantity:      req.Quantity,
		RequestID:     req.RequestID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(*tx))
}

func (h *HTTPHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	txs, err := h.inventory.ListTransactions(r.Context(), domain.TransactionFilter{
		ResourceID:   q.Get("resource_id"),
		ResourceKind: domain.ResourceKind(q.Get("kind")),
		Movement:     domain.MovementKind(q.Get("movement")),
		Status:       domain.TransactionStatus(q.Get("status")),
		BorrowerID:   q.Get("borrower_id"),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(txs))
}

func (h *HTTPHandler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := h.inventory.GetTransaction(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransaction(*tx))
}

func (h *HTTPHandler) BorrowerHistory(w http.ResponseWriter, r *http.Request) {
	txs, err := h.reports.BorrowerHistory(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(txs))
}

func (h *HTTPHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := h.reports.Alerts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AlertsResponse{
		LowStockMedicine: toResources(alerts.LowStockMedicine),
		LowStockTools:    toResources(alerts.LowStockTools),
		Expiring:         toResources(alerts.Expiring),
		Expired:          toResources(alerts.Expired),
	})
}

func (h *HTTPHandler) LowStock(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	threshold := -1
	if raw := q.Get("threshold"); raw != "" {
		n, err := parseInt("threshold", raw)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		threshold = n
	}

	resources, err := h.reports.LowStock(r.Context(), domain.ResourceKind(q.Get("kind")), threshold)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toResources(resources))
}

func (h *HTTPHandler) ActiveBorrows(w http.ResponseWriter, r *http.Request) {
	txs, err := h.reports.ActiveBorrows(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(txs))
}

func (h *HTTPHandler) OverdueBorrows(w http.ResponseWriter, r *http.Request) {
	txs, err := h.reports.OverdueBorrows(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTransactions(txs))
}

func (h *HTTPHandler) Top(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt("limit", q.Get("limit"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	usage, err := h.reports.Top(r.Context(), domain.MovementKind(q.Get("movement")), limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

func (h *HTTPHandler) Usage(w http.ResponseWriter, r *http.Request) {
	months, err := parseInt("months", r.URL.Query().Get("months"))
	if err != nil {
		h.fail(w, r, err)
		return
	}

	trends, err := h.reports.MonthlyUsage(r.Context(), months)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trends)
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, msg := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	writeError(w, status, code, msg)
}

func recipientOf(req ReserveRequest) service.Recipient {
	return service.Recipient{
		BorrowerID:   req.BorrowerID,
		Purpose:      req.Purpose,
		PrescribedBy: req.PrescribedBy,
	}
}
