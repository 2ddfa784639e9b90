package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/server/biz"
)

type HealthHandlersParams struct {
	fx.In

	Health *biz.HealthMonitor
}

func NewHealthHandlers(params HealthHandlersParams) *HealthHandlers {
	return &HealthHandlers{
		Health: params.Health,
	}
}

type HealthHandlers struct {
	Health *biz.HealthMonitor
}

// KeyHealth reports one credential's health. The optional `signature` query
// parameter narrows the report to a single protocol signature.
func (h *HealthHandlers) KeyHealth(c *gin.Context) {
	ctx := c.Request.Context()

	view, err := h.Health.KeyHealth(ctx, c.Param("id"), c.Query("signature"))
	if err != nil {
		if errors.Is(err, biz.ErrCredentialNotFound) {
			JSONError(c, http.StatusNotFound, err)
			return
		}

		JSONError(c, http.StatusInternalServerError, err)

		return
	}

	c.JSON(http.StatusOK, view)
}

// Summary reports the fleet roll-up across every endpoint and credential.
func (h *HealthHandlers) Summary(c *gin.Context) {
	c.JSON(http.StatusOK, h.Health.FleetSummaryCached(c.Request.Context()))
}
