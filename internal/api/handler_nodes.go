package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"laundry-orchestrator/internal/monitor"
	"laundry-orchestrator/internal/topology"
)

// GetTopology handles GET /api/nodes: the merged config-and-status fleet view.
func (h *Handler) GetTopology(c *gin.Context) {
	ctx := c.Request.Context()

	configs, err := h.store.NodeConfigs(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	statuses, err := h.store.ListNodeStatuses(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, topology.Build(configs, statuses, h.cfg.Balancer.MaxMachinesPerNode))
}

// RunHealthCheck handles POST /api/nodes/health-check: one on-demand probe
// cycle over the whole fleet.
func (h *Handler) RunHealthCheck(c *gin.Context) {
	summary, err := h.monitor.CheckOnce(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// PostHeartbeat handles POST /api/nodes/heartbeat: a node pushing its own
// liveness. Unknown nodes are recorded with a pending registration and still
// get an interval back.
func (h *Handler) PostHeartbeat(c *gin.Context) {
	var req monitor.HeartbeatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	interval, err := h.monitor.Heartbeat(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"heartbeat_interval": interval})
}
