package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-orchestrator/internal/payment"
)

// GetPaymentMethods handles GET /api/payments/methods: probe every backend
// and report which one would be picked.
func (h *Handler) GetPaymentMethods(c *gin.Context) {
	statuses := h.payments.TestAllMethods(c.Request.Context())

	resp := gin.H{"methods": statuses}
	if best, err := h.payments.BestAvailableMethod(statuses); err == nil {
		resp["best"] = best
	}
	c.JSON(http.StatusOK, resp)
}

type paymentRequest struct {
	AmountCents  int    `json:"amount_cents" binding:"required"`
	PaymentType  string `json:"paymentType" binding:"required"`
	OrderID      string `json:"orderId" binding:"required"`
	Installments int    `json:"installments"`
	Preferred    string `json:"preferredMethod"`
}

// PostPayment handles POST /api/payments. Card payments capture synchronously.
// A pix payment generates the charge and then blocks until it settles or the
// confirmation window closes; a dropped client connection cancels the wait.
func (h *Handler) PostPayment(c *gin.Context) {
	var req paymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	result, err := h.payments.ProcessPayment(ctx, payment.Request{
		AmountCents:  req.AmountCents,
		Type:         req.PaymentType,
		OrderID:      req.OrderID,
		Installments: req.Installments,
	}, payment.Method(req.Preferred))
	if err != nil {
		h.paymentError(c, err)
		return
	}

	if req.PaymentType == payment.TypePix {
		confirmed, err := h.payments.AwaitConfirmation(ctx, req.OrderID)
		if err != nil {
			h.paymentError(c, err)
			return
		}
		confirmed.Pix = result.Pix
		c.JSON(http.StatusOK, confirmed)
		return
	}
	c.JSON(http.StatusOK, result)
}

type pixChargeRequest struct {
	AmountCents int    `json:"amount_cents" binding:"required"`
	OrderID     string `json:"orderId" binding:"required"`
}

// PostPixCharge handles POST /api/payments/pix: generate a charge without
// waiting for confirmation. Clients follow up through the status endpoint.
func (h *Handler) PostPixCharge(c *gin.Context) {
	var req pixChargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.payments.ProcessPayment(c.Request.Context(), payment.Request{
		AmountCents: req.AmountCents,
		Type:        payment.TypePix,
		OrderID:     req.OrderID,
	}, "")
	if err != nil {
		h.paymentError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result.Pix)
}

// GetPixStatus handles GET /api/payments/pix/{order_id}.
func (h *Handler) GetPixStatus(c *gin.Context) {
	status, err := h.payments.ChargeStatus(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		h.paymentError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// CancelPixCharge handles DELETE /api/payments/pix/{order_id}.
func (h *Handler) CancelPixCharge(c *gin.Context) {
	if err := h.payments.CancelCharge(c.Request.Context(), c.Param("order_id")); err != nil {
		h.paymentError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// paymentError maps the payment error taxonomy onto HTTP answers. A decline
// is a definitive 402 with the backend's code; infrastructure trouble is 5xx.
func (h *Handler) paymentError(c *gin.Context, err error) {
	var denied *payment.DeniedError
	switch {
	case errors.Is(err, payment.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &denied):
		c.JSON(http.StatusPaymentRequired, gin.H{
			"error": denied.Message, "resultCode": denied.Code,
		})
	case errors.Is(err, payment.ErrNoMethodAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrPaymentTimeout),
		errors.Is(err, payment.ErrPaymentExpired):
		c.JSON(http.StatusRequestTimeout, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrPaymentCancelled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, payment.ErrMethodUnreachable):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
