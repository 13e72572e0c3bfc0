package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	customerdomain "github.com/medistore/payments/internal/customer/domain"
	paymentdomain "github.com/medistore/payments/internal/payment/domain"
	"github.com/medistore/payments/pkg/db/pagination"
)

type createOrderRequest struct {
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	MedicineID    string  `json:"medicineId"`
	MedicineName  string  `json:"medicineName"`
	UserID        string  `json:"userId"`
	CustomerName  string  `json:"customerName"`
	CustomerEmail string  `json:"customerEmail"`
	CustomerPhone string  `json:"customerPhone"`
}

type createOrderResponse struct {
	Success  bool                       `json:"success"`
	Order    paymentdomain.OrderSummary `json:"order"`
	KeyID    string                     `json:"keyId"`
	Customer customerdomain.Summary     `json:"customer"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.paymentSvc.CreateOrder(c.Request.Context(), paymentdomain.CreateOrderRequest{
		Amount:        req.Amount,
		Currency:      req.Currency,
		ItemID:        req.MedicineID,
		ItemName:      req.MedicineName,
		UserID:        req.UserID,
		CustomerName:  req.CustomerName,
		CustomerEmail: req.CustomerEmail,
		CustomerPhone: req.CustomerPhone,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("gateway_order_id", res.Order.ID)

	c.JSON(http.StatusOK, createOrderResponse{
		Success:  true,
		Order:    res.Order,
		KeyID:    res.KeyID,
		Customer: res.Customer,
	})
}

type verifyPaymentRequest struct {
	OrderID   string `json:"orderId"`
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}

type verifyPaymentResponse struct {
	Success     bool                             `json:"success"`
	PaymentID   string                           `json:"paymentId"`
	OrderID     string                           `json:"orderId"`
	Transaction paymentdomain.PaymentTransaction `json:"transaction"`
}

func (s *Server) VerifyPayment(c *gin.Context) {
	var req verifyPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}
	c.Set("gateway_order_id", strings.TrimSpace(req.OrderID))

	res, err := s.paymentSvc.Verify(c.Request.Context(), paymentdomain.VerifyRequest{
		OrderID:   req.OrderID,
		PaymentID: req.PaymentID,
		Signature: req.Signature,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, verifyPaymentResponse{
		Success:     true,
		PaymentID:   res.PaymentID,
		OrderID:     res.OrderID,
		Transaction: res.Transaction,
	})
}

type transactionResponse struct {
	Success     bool                             `json:"success"`
	Transaction paymentdomain.PaymentTransaction `json:"transaction"`
}

func (s *Server) GetPaymentByID(c *gin.Context) {
	txn, err := s.paymentSvc.GetByPaymentID(c.Request.Context(), c.Param("paymentId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("gateway_order_id", txn.GatewayOrderID)
	c.JSON(http.StatusOK, transactionResponse{Success: true, Transaction: txn})
}

func (s *Server) GetPaymentByOrderID(c *gin.Context) {
	txn, err := s.paymentSvc.GetByOrderID(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.Set("gateway_order_id", txn.GatewayOrderID)
	c.JSON(http.StatusOK, transactionResponse{Success: true, Transaction: txn})
}

type listTransactionsQuery struct {
	UserID string `form:"userId"`
	pagination.Pagination
}

type listTransactionsResponse struct {
	Success      bool                               `json:"success"`
	Customer     customerdomain.Summary             `json:"customer"`
	Balance      paymentdomain.Balance              `json:"balance"`
	Transactions []paymentdomain.PaymentTransaction `json:"transactions"`
	PageInfo     *pagination.PageInfo               `json:"page_info,omitempty"`
}

func (s *Server) ListCustomerTransactions(c *gin.Context) {
	var query listTransactionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	res, err := s.paymentSvc.ListCustomerTransactions(c.Request.Context(), paymentdomain.CustomerTransactionsRequest{
		UserID:     query.UserID,
		Pagination: query.Pagination,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, listTransactionsResponse{
		Success:      true,
		Customer:     res.Customer,
		Balance:      res.Balance,
		Transactions: res.Transactions,
		PageInfo:     res.PageInfo,
	})
}
