package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// ?id= поддерживается ради старых клиентов каталога.
	if id := q.Get("id"); id != "" {
		h.writeProduct(w, r, id)
		return
	}

	query := domain.ProductQuery{
		Search: strings.TrimSpace(q.Get("search")),
		Limit:  atoiOrZero(q.Get("limit")),
		Offset: atoiOrZero(q.Get("offset")),
	}
	products, err := h.catalog.ListProducts(r.Context(), query)
	if err != nil {
		writeError(w, h.requestLogger(r), err)
		return
	}

	resp := make([]ProductResponse, 0, len(products))
	for _, p := range products {
		resp = append(resp, NewProductResponse(p))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	h.writeProduct(w, r, chi.URLParam(r, "id"))
}

func (h *Handler) writeProduct(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
	if err != nil {
		writeError(w, h.requestLogger(r), domain.NewValidationError(domain.CodeInvalidID, "Valid ID is required"))
		return
	}

	product, err := h.catalog.GetProduct(r.Context(), id)
	if err != nil {
		writeError(w, h.requestLogger(r).WithField("product_id", id), err)
		return
	}
	writeJSON(w, http.StatusOK, NewProductResponse(product))
}

func atoiOrZero(value string) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0
	}
	return n
}
