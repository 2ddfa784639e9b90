package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/server/biz"
)

type CredentialHandlersParams struct {
	fx.In

	Catalog *biz.CatalogService
	Health  *biz.HealthMonitor
}

func NewCredentialHandlers(params CredentialHandlersParams) *CredentialHandlers {
	return &CredentialHandlers{
		Catalog: params.Catalog,
		Health:  params.Health,
	}
}

type CredentialHandlers struct {
	Catalog *biz.CatalogService
	Health  *biz.HealthMonitor
}

// List returns every credential in the catalog, inactive ones included.
func (h *CredentialHandlers) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"credentials": h.Catalog.Credentials()})
}

// Enable reactivates a credential and wipes its health and breaker state, so
// an operator can bring a blocked credential back without waiting out the
// recovery timer.
func (h *CredentialHandlers) Enable(c *gin.Context) {
	err := h.Health.ManualEnable(c.Request.Context(), c.Param("id"))
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

// Disable takes a credential out of rotation. Health and breaker state are
// kept, so re-enabling restores the previous picture.
func (h *CredentialHandlers) Disable(c *gin.Context) {
	err := h.Catalog.SetCredentialActive(c.Request.Context(), c.Param("id"), false)
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
