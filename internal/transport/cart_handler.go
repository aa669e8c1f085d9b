package transport

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"casham-store/internal/catalog"
	"casham-store/internal/domain"
	"casham-store/internal/logger"
	"casham-store/internal/middleware"
	"casham-store/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AddItemRequest represents the add-to-cart payload. An empty variant
// selects the product's default variant.
type AddItemRequest struct {
	ProductID int    `json:"product_id" validate:"required,gt=0"`
	Variant   string `json:"variant" validate:"omitempty,max=32"`
	Quantity  int    `json:"quantity" validate:"gte=1,lte=99"`
}

// UpdateQuantityRequest represents the set-quantity payload. Zero or less
// removes the line.
type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"lte=99"`
}

// CartHandler handles HTTP requests for the shopper's cart
type CartHandler struct {
	cartService service.CartService
	logger      *zap.Logger
}

// NewCartHandler creates a new CartHandler
func NewCartHandler(cartService service.CartService, logger *zap.Logger) *CartHandler {
	return &CartHandler{
		cartService: cartService,
		logger:      logger,
	}
}

// RegisterRoutes registers all cart routes. The cart session middleware
// must run before them.
func (h *CartHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Post("/items", h.AddItem)
		r.Put("/items/{productID}/{variant}", h.UpdateQuantity)
		r.Delete("/items/{productID}/{variant}", h.RemoveItem)
	})
}

// GetCart returns the cart with its totals
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}

	summary, err := h.cartService.Summary(r.Context(), cartID)
	if err != nil {
		h.respondWithCartError(w, cartID, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, summary)
}

// AddItem adds a product variant to the cart
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}

	var req AddItemRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondWithDecodeError(w, err)
		return
	}

	summary, err := h.cartService.AddItem(r.Context(), cartID, req.ProductID, req.Variant, req.Quantity)
	if err != nil {
		h.respondWithCartError(w, cartID, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, summary)
}

// UpdateQuantity sets the quantity of one line
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}

	productID, variant, ok := lineFromPath(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequest
	if err := middleware.DecodeAndValidate(r, &req); err != nil {
		respondWithDecodeError(w, err)
		return
	}

	summary, err := h.cartService.UpdateQuantity(r.Context(), cartID, productID, variant, req.Quantity)
	if err != nil {
		h.respondWithCartError(w, cartID, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, summary)
}

// RemoveItem removes one line
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}

	productID, variant, ok := lineFromPath(w, r)
	if !ok {
		return
	}

	summary, err := h.cartService.RemoveItem(r.Context(), cartID, productID, variant)
	if err != nil {
		h.respondWithCartError(w, cartID, err)
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, summary)
}

// ClearCart empties the cart
func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	cartID, ok := h.cartID(w, r)
	if !ok {
		return
	}

	if err := h.cartService.ClearCart(r.Context(), cartID); err != nil {
		h.respondWithCartError(w, cartID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *CartHandler) cartID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	cartID, ok := middleware.GetCartID(r.Context())
	if !ok {
		h.logger.Error("Cart session missing from request context", zap.String("path", r.URL.Path))
		middleware.RespondWithError(w, http.StatusInternalServerError, "cart session unavailable")
		return uuid.Nil, false
	}
	return cartID, true
}

func (h *CartHandler) respondWithCartError(w http.ResponseWriter, cartID uuid.UUID, err error) {
	switch {
	case errors.Is(err, catalog.ErrProductNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, domain.ErrLineNotFound):
		middleware.RespondWithError(w, http.StatusNotFound, "item not in cart")
	case errors.Is(err, domain.ErrInvalidVariant):
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrInvalidQuantity):
		middleware.RespondWithError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("Cart operation failed", logger.CartID(cartID), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to update cart")
	}
}

func lineFromPath(w http.ResponseWriter, r *http.Request) (int, string, bool) {
	productID, err := strconv.Atoi(chi.URLParam(r, "productID"))
	if err != nil || productID <= 0 {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return 0, "", false
	}
	variant, err := url.PathUnescape(chi.URLParam(r, "variant"))
	if err != nil || variant == "" {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid variant")
		return 0, "", false
	}
	return productID, variant, true
}

// respondWithDecodeError maps DecodeAndValidate failures to 400 responses
func respondWithDecodeError(w http.ResponseWriter, err error) {
	if validationErrors := middleware.FormatValidationErrors(err); len(validationErrors) > 0 {
		middleware.RespondWithValidationErrors(w, validationErrors)
		return
	}
	middleware.RespondWithError(w, http.StatusBadRequest, "invalid request body")
}
