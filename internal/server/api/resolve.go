package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"

	"github.com/switchyardai/switchyard/internal/server/orchestrator"
)

type ResolveHandlersParams struct {
	fx.In

	Resolver *orchestrator.Resolver
}

func NewResolveHandlers(params ResolveHandlersParams) *ResolveHandlers {
	return &ResolveHandlers{
		Resolver: params.Resolver,
	}
}

type ResolveHandlers struct {
	Resolver *orchestrator.Resolver
}

// Resolve runs a dry-run resolution and returns the ordered candidates with
// the per-stage trace. Gateways call it to plan a dispatch; operators call it
// to see why a request landed where it did.
func (h *ResolveHandlers) Resolve(c *gin.Context) {
	ctx := c.Request.Context()

	var req orchestrator.ResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		JSONError(c, http.StatusBadRequest, errors.New("Invalid request format"))
		return
	}

	if req.Signature == "" || req.Model == "" {
		JSONError(c, http.StatusBadRequest, errors.New("signature and model are required"))
		return
	}

	result, err := h.Resolver.ResolveCandidates(ctx, req)
	if err != nil {
		// Both failure modes are malformed input: a signature that does not
		// parse or a constraint expression that does not compile.
		JSONError(c, http.StatusBadRequest, err)

		return
	}

	c.JSON(http.StatusOK, result)
}
