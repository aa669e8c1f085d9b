package transport

import (
	"errors"
	"net/http"
	"strconv"

	"casham-store/internal/catalog"
	"casham-store/internal/domain"
	"casham-store/internal/middleware"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// CatalogHandler serves the read-only product catalog
type CatalogHandler struct {
	catalog catalog.Catalog
	logger  *zap.Logger
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(products catalog.Catalog, logger *zap.Logger) *CatalogHandler {
	return &CatalogHandler{
		catalog: products,
		logger:  logger,
	}
}

// RegisterRoutes registers all catalog routes
func (h *CatalogHandler) RegisterRoutes(r chi.Router) {
	r.Route("/api/products", func(r chi.Router) {
		r.Get("/", h.ListProducts)
		r.Get("/featured", h.ListFeatured)
		r.Get("/new", h.ListNew)
		r.Get("/{id}", h.GetProduct)
	})
	r.Get("/api/categories", h.ListCategories)
}

// ListProducts returns every product, or one category with ?category=
func (h *CatalogHandler) ListProducts(w http.ResponseWriter, r *http.Request) {
	if category := r.URL.Query().Get("category"); category != "" {
		respondWithProducts(w, h.catalog.ByCategory(category))
		return
	}
	respondWithProducts(w, h.catalog.All())
}

func (h *CatalogHandler) ListFeatured(w http.ResponseWriter, r *http.Request) {
	respondWithProducts(w, h.catalog.Featured())
}

func (h *CatalogHandler) ListNew(w http.ResponseWriter, r *http.Request) {
	respondWithProducts(w, h.catalog.New())
}

// GetProduct returns one product by id
func (h *CatalogHandler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		middleware.RespondWithError(w, http.StatusBadRequest, "invalid product id")
		return
	}

	product, err := h.catalog.ByID(id)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			middleware.RespondWithError(w, http.StatusNotFound, "product not found")
			return
		}
		h.logger.Error("Failed to get product", zap.Int("product_id", id), zap.Error(err))
		middleware.RespondWithError(w, http.StatusInternalServerError, "failed to get product")
		return
	}

	middleware.RespondWithJSON(w, http.StatusOK, product)
}

func (h *CatalogHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	middleware.RespondWithJSON(w, http.StatusOK, h.catalog.Categories())
}

// respondWithProducts never encodes a nil slice as null
func respondWithProducts(w http.ResponseWriter, products []*domain.Product) {
	if products == nil {
		products = []*domain.Product{}
	}
	middleware.RespondWithJSON(w, http.StatusOK, products)
}
