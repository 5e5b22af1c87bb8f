package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-orchestrator/internal/nettest"
)

type networkTestRequest struct {
	Nodes    []string `json:"nodes" binding:"required"`
	TestType string   `json:"testType"`
}

// PostNetworkTest handles POST /api/nodes/network-test: on-demand
// connectivity diagnostics for a set of nodes.
func (h *Handler) PostNetworkTest(c *gin.Context) {
	var req networkTestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	summary, err := h.tester.TestConnectivity(c.Request.Context(), req.Nodes, req.TestType)
	if err != nil {
		if errors.Is(err, nettest.ErrNoNodesMatched) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}
