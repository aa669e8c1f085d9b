package transport

import (
	"errors"
	"io"
	"net/http"

	"casham-store/internal/logger"
	"casham-store/internal/middleware"
	"casham-store/internal/service"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// multipart overhead allowed on top of the screenshot itself
const formOverheadBytes = 1 << 20

// CheckoutHandler handles order placement
type CheckoutHandler struct {
	checkoutService    service.CheckoutService
	maxScreenshotBytes int64
	logger             *zap.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler
func NewCheckoutHandler(checkoutService service.CheckoutService, maxScreenshotBytes int64, logger *zap.Logger) *CheckoutHandler {
	if maxScreenshotBytes <= 0 {
		maxScreenshotBytes = service.DefaultMaxScreenshotBytes
	}
	return &CheckoutHandler{
		checkoutService:    checkoutService,
		maxScreenshotBytes: maxScreenshotBytes,
		logger:             logger,
	}
}

// RegisterRoutes registers the checkout route. The cart session middleware
// must run before it.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/checkout", h.Checkout)
}

// Checkout accepts a multipart form with name, phone, email and a
// screenshot file, and places the order for the session's cart
func (h *CheckoutHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	cartID, ok := middleware.GetCartID(r.Context())
	if !ok {
		h.logger.Error("Cart session missing from request context")
		middleware.RespondWithError(w, http.StatusInternalServerError, "cart session unavailable")
		return
	}

	limit := h.maxScreenshotBytes + formOverheadBytes
	if r.ContentLength > limit {
		middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "payment screenshot is too large")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, limit)
	if err := r.ParseMultipartForm(limit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.RespondWithError(w, http.StatusRequestEntityTooLarge, "payment screenshot is too large")
			return
		}
		h.logger.Debug("Checkout form rejected", zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid checkout form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := service.CheckoutRequest{
		Name:  r.FormValue("name"),
		Phone: r.FormValue("phone"),
		Email: r.FormValue("email"),
	}

	screenshot, err := h.readScreenshot(r)
	if err != nil {
		h.logger.Warn("Failed to read payment screenshot", logger.CartID(cartID), zap.Error(err))
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid checkout form")
		return
	}
	req.Screenshot = screenshot

	receipt, err := h.checkoutService.Checkout(r.Context(), cartID, req)
	if err != nil {
		var validationErrors service.ValidationErrors
		switch {
		case errors.As(err, &validationErrors):
			middleware.RespondWithValidationErrors(w, toValidationErrors(validationErrors))
		case errors.Is(err, service.ErrCheckoutInProgress):
			middleware.RespondWithError(w, http.StatusConflict, "checkout already in progress")
		case errors.Is(err, service.ErrEmptyCart):
			middleware.RespondWithError(w, http.StatusUnprocessableEntity, "cart is empty")
		case errors.Is(err, service.ErrSubmissionFailed):
			middleware.RespondWithError(w, http.StatusBadGateway, "failed to submit order, please try again")
		default:
			h.logger.Error("Checkout failed", logger.CartID(cartID), zap.Error(err))
			middleware.RespondWithError(w, http.StatusInternalServerError, "failed to place order")
		}
		return
	}

	middleware.RespondWithJSON(w, http.StatusCreated, receipt)
}

// readScreenshot returns nil when no file was attached
func (h *CheckoutHandler) readScreenshot(r *http.Request) (*service.Upload, error) {
	file, header, err := r.FormFile("screenshot")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	// one byte past the limit is enough for the service to reject it
	data, err := io.ReadAll(io.LimitReader(file, h.maxScreenshotBytes+1))
	if err != nil {
		return nil, err
	}

	return &service.Upload{Filename: header.Filename, Data: data}, nil
}

func toValidationErrors(errs service.ValidationErrors) []middleware.ValidationError {
	converted := make([]middleware.ValidationError, 0, len(errs))
	for _, e := range errs {
		converted = append(converted, middleware.ValidationError{Field: e.Field, Message: e.Message})
	}
	return converted
}
