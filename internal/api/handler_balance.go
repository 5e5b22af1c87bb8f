package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-orchestrator/internal/balancer"
)

type balanceRequest struct {
	Action     string `json:"action" binding:"required"`
	SourceNode string `json:"sourceNode"`
	TargetNode string `json:"targetNode"`
}

// PostBalance handles POST /api/nodes/balance. The action selects one of the
// three rebalancing strategies; failover additionally needs source and target.
func (h *Handler) PostBalance(c *gin.Context) {
	var req balanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()

	switch req.Action {
	case "redistribute":
		result, err := h.balancer.Redistribute(ctx)
		if err != nil {
			h.balanceError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	case "failover":
		if req.SourceNode == "" || req.TargetNode == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "failover requires sourceNode and targetNode"})
			return
		}
		result, err := h.balancer.Failover(ctx, req.SourceNode, req.TargetNode)
		if err != nil {
			h.balanceError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	case "optimize":
		result, err := h.balancer.Optimize(ctx)
		if err != nil {
			h.balanceError(c, err)
			return
		}
		c.JSON(http.StatusOK, result)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown balance action: " + req.Action})
	}
}

// balanceError maps balancer precondition failures to distinct 4xx answers.
func (h *Handler) balanceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, balancer.ErrNodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, balancer.ErrTargetOffline):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, balancer.ErrNoOnlineNodes):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
