package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/build"
	"github.com/switchyardai/switchyard/internal/server/biz"
)

type SystemHandlersParams struct {
	fx.In

	Catalog *biz.CatalogService
}

func NewSystemHandlers(params SystemHandlersParams) *SystemHandlers {
	return &SystemHandlers{
		Catalog: params.Catalog,
	}
}

type SystemHandlers struct {
	Catalog *biz.CatalogService
}

// HealthzResponse is the liveness probe payload.
type HealthzResponse struct {
	Status      string `json:"status"`
	Providers   int    `json:"providers"`
	Endpoints   int    `json:"endpoints"`
	Credentials int    `json:"credentials"`
}

// Healthz reports liveness and catalog size. It never requires auth.
func (h *SystemHandlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, HealthzResponse{
		Status:      "ok",
		Providers:   len(h.Catalog.ActiveProviders()),
		Endpoints:   len(h.Catalog.Endpoints()),
		Credentials: len(h.Catalog.Credentials()),
	})
}

// Version reports build information.
func (h *SystemHandlers) Version(c *gin.Context) {
	c.JSON(http.StatusOK, build.GetBuildInfo())
}
