package httpx

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/storefront-orders/internal/order"
)

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError maps order errors onto a status code and a stable code string.
func WriteError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, order.ErrValidation):
		status, code = http.StatusBadRequest, "validation"
	case errors.Is(err, order.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, order.ErrInsufficientStock):
		status, code = http.StatusConflict, "insufficient_stock"
	case errors.Is(err, order.ErrPersistence):
		code = "persistence"
	}
	msg := err.Error()
	if status == http.StatusInternalServerError && !errors.Is(err, order.ErrPersistence) {
		msg = "internal error"
	}
	c.JSON(status, ErrorResponse{Error: msg, Code: code})
}

func BadRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, ErrorResponse{Error: msg, Code: "validation"})
}
