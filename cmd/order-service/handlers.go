package main

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MikeMC777/storefront-orders/internal/httpx"
	ord "github.com/MikeMC777/storefront-orders/internal/order"
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

// createOrderHandler godoc
// @Summary Place an order and reserve its stock
// @Tags orders
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "replays the original order when repeated"
// @Param body body ord.CreateOrderRequest true "order"
// @Success 201 {object} ord.Order
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Failure 409 {object} httpx.ErrorResponse
// @Failure 500 {object} httpx.ErrorResponse
// @Router /orders [post]
func createOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.CreateOrderRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		o, err := svc.CreateOrder(c.Request.Context(), ord.CreateOrderInput{
			CreateOrderRequest: req,
			IdempotencyKey:     strings.TrimSpace(c.GetHeader("Idempotency-Key")),
		})
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusCreated, o)
	}
}

// updateOrderStatusHandler godoc
// @Summary Change an order's status; cancelling restores stock
// @Tags orders
// @Accept json
// @Produce json
// @Param id path string true "order id"
// @Param body body ord.UpdateStatusRequest true "new status"
// @Success 200 {object} ord.Order
// @Failure 400 {object} httpx.ErrorResponse
// @Failure 404 {object} httpx.ErrorResponse
// @Router /orders/{id}/status [put]
func updateOrderStatusHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ord.UpdateStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			httpx.BadRequest(c, "invalid json")
			return
		}
		o, err := svc.UpdateStatus(c.Request.Context(), c.Param("id"), req.Status)
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// getOrderHandler godoc
// @Summary Get an order with its items
// @Tags orders
// @Produce json
// @Param id path string true "order id"
// @Success 200 {object} ord.Order
// @Failure 404 {object} httpx.ErrorResponse
// @Router /orders/{id} [get]
func getOrderHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		o, err := svc.GetOrder(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// getOrderItemsHandler godoc
// @Summary List an order's lines
// @Tags orders
// @Produce json
// @Param id path string true "order id"
// @Success 200 {array} ord.Item
// @Failure 404 {object} httpx.ErrorResponse
// @Router /orders/{id}/items [get]
func getOrderItemsHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		items, err := svc.GetItems(c.Request.Context(), c.Param("id"))
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, items)
	}
}

// listOrdersHandler godoc
// @Summary List orders, newest first
// @Tags orders
// @Produce json
// @Param limit query int false "page size (max 100)"
// @Param offset query int false "offset"
// @Success 200 {object} ord.ListResponse
// @Router /orders [get]
func listOrdersHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		out, err := svc.ListOrders(c.Request.Context(), limit, offset)
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.ListResponse{Limit: limit, Offset: offset, Items: out})
	}
}

// listOrdersByUserHandler godoc
// @Summary List a user's orders with items
// @Tags orders
// @Produce json
// @Param user_id path string true "user id"
// @Success 200 {object} ord.ListResponse
// @Failure 400 {object} httpx.ErrorResponse
// @Router /orders/user/{user_id} [get]
func listOrdersByUserHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, offset := pagination(c)
		out, err := svc.ListUserOrders(c.Request.Context(), c.Param("user_id"), limit, offset)
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, ord.ListResponse{Limit: limit, Offset: offset, Items: out})
	}
}

// orderStatsHandler godoc
// @Summary Revenue and volume summary
// @Tags orders
// @Produce json
// @Success 200 {object} ord.Stats
// @Router /orders/stats [get]
func orderStatsHandler(svc *ord.Service) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Stats(c.Request.Context())
		if err != nil {
			httpx.WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func registerRoutes(r gin.IRouter, svc *ord.Service) {
	r.POST("/orders", createOrderHandler(svc))
	r.GET("/orders", listOrdersHandler(svc))
	r.GET("/orders/stats", orderStatsHandler(svc))
	r.GET("/orders/user/:user_id", listOrdersByUserHandler(svc))
	r.GET("/orders/:id", getOrderHandler(svc))
	r.GET("/orders/:id/items", getOrderItemsHandler(svc))
	r.PUT("/orders/:id/status", updateOrderStatusHandler(svc))
}
