package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestResolveEndpoint(t *testing.T) {
	ts := newTestServer(t)

	t.Run("orders exact format first", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve", `{"signature": "claude:chat", "model": "sonnet"}`)
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.Equal(t, "claude-sonnet-4", gjson.Get(body, "globalModelId").String())
		require.Greater(t, gjson.Get(body, "candidates.#").Int(), int64(0))
		assert.Equal(t, "ep-claude-chat", gjson.Get(body, "candidates.0.endpoint.id").String())
		assert.Equal(t, "cred-a", gjson.Get(body, "candidates.0.credential.id").String())
		assert.Equal(t, int64(0), gjson.Get(body, "candidates.0.bucket").Int())
		assert.False(t, gjson.Get(body, "candidates.0.needsConversion").Bool())
		assert.Greater(t, gjson.Get(body, "trace.stages.#").Int(), int64(0))
	})

	t.Run("reports the empty reason", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve", `{"signature": "claude:chat", "model": "unknown-model"}`)
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.Equal(t, int64(0), gjson.Get(body, "candidates.#").Int())
		assert.Equal(t, "no_model_available", gjson.Get(body, "reason").String())
	})

	t.Run("request knobs pass through", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve",
			`{"signature": "claude:chat", "model": "sonnet", "excludedCredentialIds": ["cred-a"], "maxCandidates": 1}`)
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		require.Equal(t, int64(1), gjson.Get(body, "candidates.#").Int())
		assert.Equal(t, "cred-b", gjson.Get(body, "candidates.0.credential.id").String())
	})

	t.Run("invalid signature", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve", `{"signature": "claude", "model": "sonnet"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid client signature")
	})

	t.Run("invalid constraint expression", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve",
			`{"signature": "claude:chat", "model": "sonnet", "constraintExpr": "auth_type =="}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid constraint expression")
	})

	t.Run("missing required fields", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve", `{"model": "sonnet"}`)
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "signature and model are required")
	})

	t.Run("malformed body", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/resolve", `{"signature": `)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})
}
