package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/objects"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

const defaultCircuitHistoryLimit = 50

type CircuitHandlersParams struct {
	fx.In

	Health *biz.HealthMonitor
}

func NewCircuitHandlers(params CircuitHandlersParams) *CircuitHandlers {
	return &CircuitHandlers{
		Health: params.Health,
	}
}

type CircuitHandlers struct {
	Health *biz.HealthMonitor
}

// CircuitHistoryResponse lists recent breaker transitions, oldest first.
type CircuitHistoryResponse struct {
	Events []objects.CircuitEvent `json:"events"`
}

// History returns the most recent breaker transitions. `?limit=` caps the
// result, defaulting to 50.
func (h *CircuitHandlers) History(c *gin.Context) {
	limit := defaultCircuitHistoryLimit

	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			JSONError(c, http.StatusBadRequest, fmt.Errorf("invalid limit: %q", raw))
			return
		}

		limit = parsed
	}

	events := h.Health.CircuitHistory(limit)
	if events == nil {
		events = []objects.CircuitEvent{}
	}

	c.JSON(http.StatusOK, CircuitHistoryResponse{Events: events})
}

// ResetCircuitRequest narrows a reset to one protocol signature. An empty
// signature resets every signature of the credential.
type ResetCircuitRequest struct {
	Signature string `json:"signature"`
}

// Reset restores a credential's breaker and health state to closed. The
// signature comes from the `signature` query parameter or the JSON body.
func (h *CircuitHandlers) Reset(c *gin.Context) {
	ctx := c.Request.Context()

	signature := c.Query("signature")
	if signature == "" && c.Request.ContentLength > 0 {
		var req ResetCircuitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
			return
		}

		signature = req.Signature
	}

	err := h.Health.ResetHealth(ctx, c.Param("id"), signature)
	if err != nil {
		if errors.Is(err, biz.ErrCredentialNotFound) {
			JSONError(c, http.StatusNotFound, err)
			return
		}

		JSONError(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
