package pos

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/botica-erp/botica/internal/inventory"
	"github.com/botica-erp/botica/internal/platform/httpx"
	"github.com/botica-erp/botica/internal/shared"
)

// Handler wires point-of-sale endpoints.
type Handler struct {
	logger      *slog.Logger
	service     *Service
	idempotency *shared.IdempotencyStore
	validate    *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service, idempotency *shared.IdempotencyStore) *Handler {
	return &Handler{logger: logger, service: service, idempotency: idempotency, validate: validator.New()}
}

// MountRoutes registers POS routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/sales", h.listSales)
	r.Post("/sales", h.recordSale)
	r.Get("/sales/{id}", h.getSale)
	r.Post("/sales/{id}/void", h.voidSale)
}

type saleLineRequest struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,gt=0"`
}

type recordSaleRequest struct {
	PaymentMethod string            `json:"payment_method" validate:"required"`
	Lines         []saleLineRequest `json:"lines" validate:"required,min=1,dive"`
}

type saleLineResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	LotID     int64  `json:"lot_id"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Subtotal  int64  `json:"subtotal"`
}

type saleResponse struct {
	ID            string             `json:"id"`
	UserID        int64              `json:"user_id"`
	SoldAt        time.Time          `json:"sold_at"`
	Total         int64              `json:"total"`
	PaymentMethod string             `json:"payment_method"`
	Voided        bool               `json:"voided"`
	Lines         []saleLineResponse `json:"lines,omitempty"`
}

func toSaleResponse(sale Sale) saleResponse {
	resp := saleResponse{
		ID:            sale.ID.String(),
		UserID:        sale.UserID,
		SoldAt:        sale.SoldAt,
		Total:         sale.Total,
		PaymentMethod: string(sale.PaymentMethod),
		Voided:        sale.Voided,
	}
	for _, line := range sale.Lines {
		resp.Lines = append(resp.Lines, saleLineResponse{
			ID:        line.ID,
			ProductID: line.ProductID,
			LotID:     line.LotID,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
			Subtotal:  line.Subtotal,
		})
	}
	return resp
}

func (h *Handler) recordSale(w http.ResponseWriter, r *http.Request) {
	userID := shared.ActorFromContext(r.Context())
	if userID == 0 {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "authentication required")
		return
	}

	var req recordSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.idempotency != nil {
		if err := h.idempotency.CheckAndInsert(r.Context(), idemKey, "pos"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				httpx.Problem(w, http.StatusConflict, "Duplicate", "sale already recorded for this idempotency key")
				return
			}
			h.respondError(w, r, err)
			return
		}
	}

	lines := make([]LineRequest, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, LineRequest{ProductID: line.ProductID, Quantity: line.Quantity})
	}

	sale, err := h.service.RecordSale(r.Context(), userID, PaymentMethod(req.PaymentMethod), lines)
	if err != nil {
		if idemKey != "" && h.idempotency != nil {
			_ = h.idempotency.Delete(r.Context(), idemKey)
		}
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toSaleResponse(sale))
}

func (h *Handler) getSale(w http.ResponseWriter, r *http.Request) {
	id, ok := salePathID(w, r)
	if !ok {
		return
	}
	sale, err := h.service.GetSale(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSaleResponse(sale))
}

func (h *Handler) voidSale(w http.ResponseWriter, r *http.Request) {
	id, ok := salePathID(w, r)
	if !ok {
		return
	}
	if err := h.service.VoidSale(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listSales(w http.ResponseWriter, r *http.Request) {
	filter := SaleFilter{
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}
	if raw := r.URL.Query().Get("from"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.From = t
		}
	}
	if raw := r.URL.Query().Get("to"); raw != "" {
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			filter.To = t
		}
	}
	if raw := r.URL.Query().Get("payment_method"); raw != "" {
		method := PaymentMethod(raw)
		if method.Valid() {
			filter.PaymentMethod = &method
		}
	}
	filter.UserID = queryInt64Ptr(r, "user_id")
	filter.Voided = queryBoolPtr(r, "voided")

	sales, total, err := h.service.ListSales(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]saleResponse, 0, len(sales))
	for _, sale := range sales {
		items = append(items, toSaleResponse(sale))
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"items":      items,
		"pagination": shared.NewPagination(filter.Page, filter.PerPage, total),
	})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var insufficientErr *InsufficientStockError
	switch {
	case errors.As(err, &insufficientErr):
		httpx.Problem(w, http.StatusConflict, "Insufficient Stock", insufficientErr.Error())
	case errors.Is(err, ErrEmptySale), errors.Is(err, ErrZeroQuantity), errors.Is(err, ErrUnknownPaymentMethod),
		errors.Is(err, inventory.ErrProductNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrAnonymousSale):
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	case errors.Is(err, ErrSaleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrSaleAlreadyVoided):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		h.logger.Error("pos request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func salePathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid sale id")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, key string) int {
	v, _ := strconv.Atoi(r.URL.Query().Get(key))
	return v
}

func queryInt64Ptr(r *http.Request, key string) *int64 {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &v
}

func queryBoolPtr(r *http.Request, key string) *bool {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
