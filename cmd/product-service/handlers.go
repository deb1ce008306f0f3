package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	prod "github.com/MikeMC777/storefront-orders/internal/product"
)

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// listOnlyHandler godoc
// @Summary List products
// @Tags products
// @Produce json
// @Param limit query int false "page size"
// @Param offset query int false "offset"
// @Success 200 {object} prod.ListResponse
// @Router /products [get]
func listOnlyHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		items, err := repo.List(c.Request.Context(), prod.Query{Limit: limit, Offset: offset})
		if err != nil {
			c.JSON(http.StatusInternalServerError, prod.HTTPError{Error: "list failed", Code: "internal"})
			return
		}
		c.JSON(http.StatusOK, prod.ListResponse{Limit: limit, Offset: offset, Items: items})
	}
}

// searchHandler godoc
// @Summary Search products by name or description
// @Tags products
// @Produce json
// @Param q query string true "at least 2 characters"
// @Success 200 {object} prod.ListResponse
// @Failure 400 {object} prod.HTTPError
// @Router /products/search [get]
func searchHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		q := strings.TrimSpace(c.Query("q"))
		if len([]rune(q)) < 2 {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "q must have at least 2 characters", Code: "validation"})
			return
		}
		limit, offset := pagination(c)
		items, err := repo.List(c.Request.Context(), prod.Query{Q: q, Limit: limit, Offset: offset})
		if err != nil {
			c.JSON(http.StatusInternalServerError, prod.HTTPError{Error: "search failed", Code: "internal"})
			return
		}
		c.JSON(http.StatusOK, prod.ListResponse{Q: q, Limit: limit, Offset: offset, Items: items})
	}
}

// getProductHandler godoc
// @Summary Get a product
// @Tags products
// @Produce json
// @Param id path string true "product id"
// @Success 200 {object} prod.Product
// @Failure 404 {object} prod.HTTPError
// @Router /products/{id} [get]
func getProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := repo.GetByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			if errors.Is(err, prod.ErrNotFound) {
				c.JSON(http.StatusNotFound, prod.HTTPError{Error: "not found", Code: "not_found"})
				return
			}
			c.JSON(http.StatusInternalServerError, prod.HTTPError{Error: "get failed", Code: "internal"})
			return
		}
		c.JSON(http.StatusOK, p)
	}
}

// createProductHandler godoc
// @Summary Create a product
// @Tags products
// @Accept json
// @Produce json
// @Param body body prod.CreateProductRequest true "product"
// @Success 201 {object} prod.Product
// @Failure 400 {object} prod.HTTPError
// @Router /products [post]
func createProductHandler(repo prod.Repository) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req prod.CreateProductRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "invalid json", Code: "validation"})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" || strings.TrimSpace(req.Price) == "" {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "name and price are required", Code: "validation"})
			return
		}
		price, err := decimal.NewFromString(strings.TrimSpace(req.Price))
		if err != nil || price.IsNegative() {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "price must be a non-negative decimal", Code: "validation"})
			return
		}
		if !prod.FitsNumeric(price) {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "price must have at most 2 decimals and be below 10000000000", Code: "validation"})
			return
		}
		if req.Stock < 0 {
			c.JSON(http.StatusBadRequest, prod.HTTPError{Error: "stock must be non-negative", Code: "validation"})
			return
		}

		p := &prod.Product{
			ID:          uuid.NewString(),
			Name:        name,
			Description: strings.TrimSpace(req.Description),
			Price:       price,
			Stock:       req.Stock,
		}
		if err := repo.Create(c.Request.Context(), p); err != nil {
			c.JSON(http.StatusInternalServerError, prod.HTTPError{Error: "create failed", Code: "internal"})
			return
		}
		c.JSON(http.StatusCreated, p)
	}
}
