package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/botica-erp/botica/internal/platform/httpx"
	"github.com/botica-erp/botica/internal/shared"
)

// Handler wires inventory endpoints. Request shape validation happens here;
// business invariants are enforced by the service and guard.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validate: validator.New()}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/laboratories", h.listLaboratories)
	r.Post("/laboratories", h.createLaboratory)
	r.Get("/laboratories/{id}", h.getLaboratory)
	r.Put("/laboratories/{id}", h.updateLaboratory)

	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
	r.Get("/products/{id}", h.getProduct)
	r.Put("/products/{id}", h.updateProduct)
	r.Get("/products/{id}/stock", h.productStock)

	r.Get("/lots", h.listLots)
	r.Post("/lots", h.createLot)
	r.Get("/lots/{id}", h.getLot)
	r.Put("/lots/{id}", h.updateLot)
	r.Delete("/lots/{id}", h.deleteLot)
}

type laboratoryRequest struct {
	Name    string  `json:"name" validate:"required,max=150"`
	Address *string `json:"address,omitempty" validate:"omitempty,max=255"`
	Phone   *string `json:"phone,omitempty" validate:"omitempty,max=20"`
}

type productRequest struct {
	LaboratoryID  int64  `json:"laboratory_id" validate:"required,gt=0"`
	Name          string `json:"name" validate:"required,max=200"`
	Description   string `json:"description"`
	DoseMG        int    `json:"dose_mg" validate:"required,gt=0"`
	UnitsPerPack  int    `json:"units_per_pack" validate:"required,gt=0"`
	Bioequivalent bool   `json:"bioequivalent"`
	SKU           string `json:"sku" validate:"required,max=13"`
	SalePrice     int64  `json:"sale_price" validate:"gte=0"`
}

type lotRequest struct {
	ProductID   int64  `json:"product_id" validate:"required,gt=0"`
	LotCode     string `json:"lot_code" validate:"required,max=50"`
	CreatedDate string `json:"created_date" validate:"required"`
	ExpiryDate  string `json:"expiry_date" validate:"required"`
	Quantity    int    `json:"quantity" validate:"gte=0"`
	Defective   bool   `json:"defective"`
	Active      bool   `json:"active"`
}

type laboratoryResponse struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Address *string `json:"address,omitempty"`
	Phone   *string `json:"phone,omitempty"`
}

type productResponse struct {
	ID            int64  `json:"id"`
	LaboratoryID  int64  `json:"laboratory_id"`
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	DoseMG        int    `json:"dose_mg"`
	UnitsPerPack  int    `json:"units_per_pack"`
	Bioequivalent bool   `json:"bioequivalent"`
	SKU           string `json:"sku"`
	SalePrice     int64  `json:"sale_price"`
	Active        bool   `json:"active"`
}

type lotResponse struct {
	ID          int64  `json:"id"`
	ProductID   int64  `json:"product_id"`
	LotCode     string `json:"lot_code"`
	CreatedDate string `json:"created_date"`
	ExpiryDate  string `json:"expiry_date"`
	Quantity    int    `json:"quantity"`
	Defective   bool   `json:"defective"`
	Active      bool   `json:"active"`
}

type listResponse struct {
	Items      any               `json:"items"`
	Pagination shared.Pagination `json:"pagination"`
}

const dateLayout = "2006-01-02"

func toLaboratoryResponse(lab Laboratory) laboratoryResponse {
	return laboratoryResponse{ID: lab.ID, Name: lab.Name, Address: lab.Address, Phone: lab.Phone}
}

func toProductResponse(p Product) productResponse {
	return productResponse{
		ID: p.ID, LaboratoryID: p.LaboratoryID, Name: p.Name, Description: p.Description,
		DoseMG: p.DoseMG, UnitsPerPack: p.UnitsPerPack, Bioequivalent: p.Bioequivalent,
		SKU: p.SKU, SalePrice: p.SalePrice, Active: p.Active,
	}
}

func toLotResponse(lot Lot) lotResponse {
	return lotResponse{
		ID: lot.ID, ProductID: lot.ProductID, LotCode: lot.LotCode,
		CreatedDate: lot.CreatedDate.Format(dateLayout), ExpiryDate: lot.ExpiryDate.Format(dateLayout),
		Quantity: lot.Quantity, Defective: lot.Defective, Active: lot.Active,
	}
}

func (h *Handler) listLaboratories(w http.ResponseWriter, r *http.Request) {
	filter := LaboratoryFilter{
		Search:  r.URL.Query().Get("search"),
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}
	labs, total, err := h.service.ListLaboratories(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]laboratoryResponse, 0, len(labs))
	for _, lab := range labs {
		items = append(items, toLaboratoryResponse(lab))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) createLaboratory(w http.ResponseWriter, r *http.Request) {
	var req laboratoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	lab, err := h.service.CreateLaboratory(r.Context(), LaboratoryInput{Name: req.Name, Address: req.Address, Phone: req.Phone})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLaboratoryResponse(lab))
}

func (h *Handler) getLaboratory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lab, err := h.service.GetLaboratory(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLaboratoryResponse(lab))
}

func (h *Handler) updateLaboratory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req laboratoryRequest
	if !h.decode(w, r, &req) {
		return
	}
	lab, err := h.service.UpdateLaboratory(r.Context(), id, LaboratoryInput{Name: req.Name, Address: req.Address, Phone: req.Phone})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLaboratoryResponse(lab))
}

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	filter := ProductFilter{
		Search:        r.URL.Query().Get("search"),
		LaboratoryID:  queryInt64Ptr(r, "laboratory_id"),
		Active:        queryBoolPtr(r, "active"),
		Bioequivalent: queryBoolPtr(r, "bioequivalent"),
		SortBy:        r.URL.Query().Get("sort_by"),
		SortDir:       r.URL.Query().Get("sort_dir"),
		Page:          queryInt(r, "page"),
		PerPage:       queryInt(r, "per_page"),
	}
	products, total, err := h.service.ListProducts(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]productResponse, 0, len(products))
	for _, p := range products {
		items = append(items, toProductResponse(p))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.CreateProduct(r.Context(), productInput(req))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toProductResponse(p))
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := h.service.GetProduct(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) updateProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req productRequest
	if !h.decode(w, r, &req) {
		return
	}
	p, err := h.service.UpdateProduct(r.Context(), id, productInput(req))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toProductResponse(p))
}

func (h *Handler) productStock(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	total, err := h.service.StockTotal(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"product_id": id, "stock_total": total})
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	filter := LotFilter{
		ProductID: queryInt64Ptr(r, "product_id"),
		Defective: queryBoolPtr(r, "defective"),
		Active:    queryBoolPtr(r, "active"),
		Page:      queryInt(r, "page"),
		PerPage:   queryInt(r, "per_page"),
	}
	lots, total, err := h.service.ListLots(r.Context(), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	items := make([]lotResponse, 0, len(lots))
	for _, lot := range lots {
		items = append(items, toLotResponse(lot))
	}
	httpx.JSON(w, http.StatusOK, listResponse{Items: items, Pagination: shared.NewPagination(filter.Page, filter.PerPage, total)})
}

func (h *Handler) createLot(w http.ResponseWriter, r *http.Request) {
	var req lotRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := lotInput(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.CreateLot(r.Context(), input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, toLotResponse(lot))
}

func (h *Handler) getLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLotResponse(lot))
}

func (h *Handler) updateLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req lotRequest
	if !h.decode(w, r, &req) {
		return
	}
	input, err := lotInput(req)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	lot, err := h.service.UpdateLot(r.Context(), id, input)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toLotResponse(lot))
}

func (h *Handler) deleteLot(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteLot(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func productInput(req productRequest) ProductInput {
	return ProductInput{
		LaboratoryID:  req.LaboratoryID,
		Name:          req.Name,
		Description:   req.Description,
		DoseMG:        req.DoseMG,
		UnitsPerPack:  req.UnitsPerPack,
		Bioequivalent: req.Bioequivalent,
		SKU:           req.SKU,
		SalePrice:     req.SalePrice,
	}
}

func lotInput(req lotRequest) (LotInput, error) {
	createdDate, err := time.Parse(dateLayout, req.CreatedDate)
	if err != nil {
		return LotInput{}, &ValidationError{Field: "created_date", Reason: "must be a YYYY-MM-DD date"}
	}
	expiryDate, err := time.Parse(dateLayout, req.ExpiryDate)
	if err != nil {
		return LotInput{}, &ValidationError{Field: "expiry_date", Reason: "must be a YYYY-MM-DD date"}
	}
	return LotInput{
		ProductID:   req.ProductID,
		LotCode:     req.LotCode,
		CreatedDate: createdDate,
		ExpiryDate:  expiryDate,
		Quantity:    req.Quantity,
		Defective:   req.Defective,
		Active:      req.Active,
	}, nil
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "malformed JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	var validationErr *ValidationError
	var permissionErr *PermissionError
	switch {
	case errors.As(err, &validationErr):
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", validationErr.Error())
	case errors.As(err, &permissionErr):
		httpx.Problem(w, http.StatusForbidden, "Forbidden", permissionErr.Error())
	case errors.Is(err, ErrLaboratoryNotFound), errors.Is(err, ErrProductNotFound), errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	default:
		h.logger.Error("inventory request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid id")
		return 0, false
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
