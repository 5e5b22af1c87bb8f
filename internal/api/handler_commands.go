package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-orchestrator/internal/command"
	"laundry-orchestrator/internal/store"
)

// PostCommand handles POST /api/commands: dispatch a relay action, directly
// when the node is reachable, queued otherwise.
func (h *Handler) PostCommand(c *gin.Context) {
	var req command.EnqueueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.dispatcher.Dispatch(c.Request.Context(), &req)
	if err != nil {
		if errors.Is(err, command.ErrInvalidAction) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	status := http.StatusOK
	if result.Queued {
		status = http.StatusAccepted
	}
	c.JSON(status, result)
}

// GetNodeCommands handles GET /api/nodes/{node_id}/commands: the poll a node
// makes to claim its pending commands.
func (h *Handler) GetNodeCommands(c *gin.Context) {
	commands, err := h.dispatcher.Pending(c.Request.Context(), c.Param("node_id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"commands": commands})
}

type ackRequest struct {
	Status string `json:"status" binding:"required"`
}

// AckCommand handles POST /api/commands/{command_id}/ack: a node reporting
// the execution outcome of a claimed command.
func (h *Handler) AckCommand(c *gin.Context) {
	var req ackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.dispatcher.Ack(c.Request.Context(), c.Param("command_id"), req.Status)
	if err != nil {
		if errors.Is(err, store.ErrCommandNotPending) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type releaseCreditRequest struct {
	TransactionID string  `json:"transaction_id" binding:"required"`
	Amount        float64 `json:"amount" binding:"required"`
}

// PostReleaseCredit handles POST /api/nodes/{node_id}/release-credit: pushing
// a paid-for credit to a machine through its node.
func (h *Handler) PostReleaseCredit(c *gin.Context) {
	var req releaseCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.dispatcher.ReleaseCredit(c.Request.Context(), c.Param("node_id"), req.TransactionID, req.Amount)
	if err != nil {
		switch {
		case errors.Is(err, command.ErrUnknownNode):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, command.ErrNodeOffline):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"released": true})
}
