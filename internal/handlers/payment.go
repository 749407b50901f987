package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"momo-gateway/internal/models"
	"momo-gateway/internal/services"
	"momo-gateway/internal/storage"
	"momo-gateway/internal/transport"
	"momo-gateway/internal/utils"
)

type PaymentHandler struct {
	paymentService *services.PaymentService
}

func NewPaymentHandler(paymentService *services.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) InitiatePayment(c *gin.Context) {
	var req models.InitiatePaymentRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, utils.ErrorResponse("Invalid request payload", err.Error()))
		return
	}

	txn, err := h.paymentService.InitiatePayment(c.Request.Context(), &req)
	if err != nil {
		status, message := classifyPaymentError(err)
		// The pending transaction, when one was created, rides along so
		// the caller can poll it once the provider recovers.
		if txn != nil && status >= http.StatusInternalServerError {
			c.JSON(status, gin.H{
				"status":  "error",
				"message": message,
				"detail":  err.Error(),
				"data":    initiateResponse(txn),
			})
			return
		}
		c.JSON(status, utils.ErrorResponse(message, err.Error()))
		return
	}

	c.JSON(http.StatusAccepted, utils.SuccessResponse("Payment initiated", initiateResponse(txn)))
}

func (h *PaymentHandler) GetPaymentStatus(c *gin.Context) {
	txn, err := h.paymentService.CheckPaymentStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, storage.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, utils.ErrorResponse("Transaction not found", err.Error()))
			return
		}
		// Fall through with the stored state when only the provider
		// lookup failed.
		if txn == nil {
			c.JSON(http.StatusInternalServerError, utils.ErrorResponse("Status check failed", err.Error()))
			return
		}
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Payment status", txn))
}

func (h *PaymentHandler) VerifyPayment(c *gin.Context) {
	verified, err := h.paymentService.VerifyPayment(c.Request.Context(), c.Param("id"))
	if err != nil && errors.Is(err, storage.ErrTransactionNotFound) {
		c.JSON(http.StatusNotFound, utils.ErrorResponse("Transaction not found", err.Error()))
		return
	}

	data := gin.H{
		"transaction_id": c.Param("id"),
		"verified":       verified,
	}
	if err != nil {
		// Stored state only; the provider refresh did not complete.
		data["stale"] = true
		data["detail"] = err.Error()
	}

	c.JSON(http.StatusOK, utils.SuccessResponse("Payment verification", data))
}

func initiateResponse(txn *models.Transaction) models.InitiatePaymentResponse {
	return models.InitiatePaymentResponse{
		TransactionID:     txn.ID,
		Provider:          txn.Provider,
		ProviderReference: txn.ProviderReference,
		Status:            txn.Status,
		OrderRef:          txn.OrderRef,
		IdempotencyKey:    txn.IdempotencyKey,
	}
}

func classifyPaymentError(err error) (int, string) {
	var apiErr *transport.APIError
	switch {
	case errors.Is(err, services.ErrUnknownProvider),
		errors.Is(err, services.ErrInvalidPhone),
		errors.Is(err, services.ErrInvalidAmount),
		errors.Is(err, services.ErrAmountTooSmall):
		return http.StatusBadRequest, "Validation failed"
	case errors.As(err, &apiErr):
		return http.StatusBadGateway, "Provider request failed"
	default:
		return http.StatusInternalServerError, "Payment initiation failed"
	}
}
