package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func tripCircuit(ctx context.Context, ts *testServer, credentialID, signature string) {
	for i := 0; i < 5; i++ {
		ts.health.RecordFailure(ctx, credentialID, signature, "server_error")
	}
}

func TestCircuitHistoryEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	t.Run("empty history", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/circuits", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, int64(0), gjson.Get(w.Body.String(), "events.#").Int())
	})

	tripCircuit(ctx, ts, "cred-a", "claude:chat")
	require.False(t, ts.health.AllowRequest(ctx, "cred-a", "claude:chat"))

	t.Run("records the open transition", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/circuits", "")
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		require.Equal(t, int64(1), gjson.Get(body, "events.#").Int())
		assert.Equal(t, "opened", gjson.Get(body, "events.0.event").String())
		assert.Equal(t, "cred-a", gjson.Get(body, "events.0.credentialId").String())
		assert.Equal(t, "claude:chat", gjson.Get(body, "events.0.signature").String())
	})

	t.Run("limit caps the result", func(t *testing.T) {
		tripCircuit(ctx, ts, "cred-b", "claude:chat")

		w := ts.do(t, http.MethodGet, "/admin/circuits?limit=1", "")
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		require.Equal(t, int64(1), gjson.Get(body, "events.#").Int())
		assert.Equal(t, "cred-b", gjson.Get(body, "events.0.credentialId").String())
	})

	t.Run("invalid limit", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/circuits?limit=abc", "")
		require.Equal(t, http.StatusBadRequest, w.Code)
		assert.Contains(t, w.Body.String(), "invalid limit")
	})
}

func TestCircuitResetEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	t.Run("reset one signature via query", func(t *testing.T) {
		tripCircuit(ctx, ts, "cred-a", "claude:chat")
		require.False(t, ts.health.AllowRequest(ctx, "cred-a", "claude:chat"))

		w := ts.do(t, http.MethodPost, "/admin/circuits/cred-a/reset?signature=claude:chat", "")
		require.Equal(t, http.StatusOK, w.Code)

		assert.True(t, ts.health.AllowRequest(ctx, "cred-a", "claude:chat"))
	})

	t.Run("reset every signature via body", func(t *testing.T) {
		tripCircuit(ctx, ts, "cred-a", "claude:chat")
		tripCircuit(ctx, ts, "cred-a", "claude:cli")

		w := ts.do(t, http.MethodPost, "/admin/circuits/cred-a/reset", `{"signature": ""}`)
		require.Equal(t, http.StatusOK, w.Code)

		assert.True(t, ts.health.AllowRequest(ctx, "cred-a", "claude:chat"))
		assert.True(t, ts.health.AllowRequest(ctx, "cred-a", "claude:cli"))
	})

	t.Run("malformed body", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/circuits/cred-a/reset", `{"signature": 42`)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown credential", func(t *testing.T) {
		w := ts.do(t, http.MethodPost, "/admin/circuits/cred-zz/reset", "")
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "credential not found")
	})
}
