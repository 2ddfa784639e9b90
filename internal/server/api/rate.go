package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/server/biz"
)

type RateHandlersParams struct {
	fx.In

	Catalog  *biz.CatalogService
	Rate     *biz.RateService
	Adaptive *biz.AdaptiveService
}

func NewRateHandlers(params RateHandlersParams) *RateHandlers {
	return &RateHandlers{
		Catalog:  params.Catalog,
		Rate:     params.Rate,
		Adaptive: params.Adaptive,
	}
}

type RateHandlers struct {
	Catalog  *biz.CatalogService
	Rate     *biz.RateService
	Adaptive *biz.AdaptiveService
}

// ResetCredential clears one credential's minute-window counters.
func (h *RateHandlers) ResetCredential(c *gin.Context) {
	id := c.Param("id")

	if _, ok := h.Catalog.Credential(id); !ok {
		JSONError(c, http.StatusNotFound, fmt.Errorf("%w: %s", biz.ErrCredentialNotFound, id))
		return
	}

	if err := h.Rate.ResetCredential(c.Request.Context(), id); err != nil {
		JSONError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ResetAll clears every credential's minute-window counters.
func (h *RateHandlers) ResetAll(c *gin.Context) {
	if err := h.Rate.ResetAll(c.Request.Context()); err != nil {
		JSONError(c, http.StatusInternalServerError, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// SetRateLimitRequest installs a per-minute limit. A null limit removes the
// cap entirely.
type SetRateLimitRequest struct {
	Limit *int `json:"limit"`
}

// SetLimit installs or clears a credential's RPM limit. Adaptive learning
// state is dropped alongside, so a stale learned ceiling never overrides the
// operator's value.
func (h *RateHandlers) SetLimit(c *gin.Context) {
	ctx := c.Request.Context()

	var req SetRateLimitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	if req.Limit != nil && *req.Limit <= 0 {
		JSONError(c, http.StatusBadRequest, fmt.Errorf("limit must be positive, got %d", *req.Limit))
		return
	}

	id := c.Param("id")

	err := h.Catalog.SetCredentialRPMLimit(ctx, id, req.Limit)
	if err != nil {
		if errors.Is(err, biz.ErrCredentialNotFound) {
			JSONError(c, http.StatusNotFound, err)
			return
		}

		JSONError(c, http.StatusInternalServerError, err)

		return
	}

	h.Adaptive.ResetLearning(id)

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
