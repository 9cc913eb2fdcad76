package httpapi

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/example/orderflow/pkg/models"
	"github.com/example/orderflow/pkg/orders"
	"github.com/gin-gonic/gin"
)

type orderItemRequest struct {
	ProductID int64 `json:"productId" binding:"required,gt=0"`
	Quantity  int   `json:"quantity" binding:"required,gt=0"`
}

type createOrderRequest struct {
	UserID          int64              `json:"userId" binding:"required,gt=0"`
	ShippingAddress string             `json:"shippingAddress" binding:"required"`
	Items           []orderItemRequest `json:"items" binding:"required,min=1,dive"`
}

func (r createOrderRequest) toDomain() orders.CreateOrderRequest {
	items := make([]orders.ItemRequest, len(r.Items))
	for i, item := range r.Items {
		items[i] = orders.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}
	return orders.CreateOrderRequest{
		UserID:          r.UserID,
		ShippingAddress: r.ShippingAddress,
		Items:           items,
	}
}

type statusUpdateRequest struct {
	Status string `json:"status" binding:"required"`
}

func (s *Server) createOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}

	order, err := s.orders.CreateOrder(c.Request.Context(), req.toDomain())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) getOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	order, err := s.orders.GetOrder(c.Request.Context(), id)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) listOrders(c *gin.Context) {
	list, err := s.orders.ListOrders(c.Request.Context())
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(list))
}

func (s *Server) listByUser(c *gin.Context) {
	userID, ok := idParam(c, "userId")
	if !ok {
		return
	}
	list, err := s.orders.ListByUser(c.Request.Context(), userID)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(list))
}

func (s *Server) listByStatus(c *gin.Context) {
	status, err := models.ParseOrderStatus(c.Param("status"))
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}
	list, err := s.orders.ListByStatus(c.Request.Context(), status)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponses(list))
}

func (s *Server) updateStatus(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req statusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindError(c, err)
		return
	}
	status, err := models.ParseOrderStatus(req.Status)
	if err != nil {
		writeError(c, http.StatusBadRequest, err.Error(), nil)
		return
	}

	order, err := s.orders.UpdateStatus(c.Request.Context(), id, status)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, toOrderResponse(order))
}

func (s *Server) cancelOrder(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := s.orders.CancelOrder(c.Request.Context(), id); err != nil {
		s.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// productUsed answers with a bare boolean.
func (s *Server) productUsed(c *gin.Context) {
	productID, ok := idParam(c, "productId")
	if !ok {
		return
	}
	used, err := s.orders.IsProductUsed(c.Request.Context(), productID)
	if err != nil {
		s.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, used)
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		writeError(c, http.StatusBadRequest, fmt.Sprintf("%s must be a positive integer", name), nil)
		return 0, false
	}
	return id, true
}
