package api

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestKeyHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	ts.health.RecordSuccess(ctx, "cred-a", "claude:chat", 100*time.Millisecond)
	ts.health.RecordFailure(ctx, "cred-a", "claude:chat", "server_error")
	ts.health.RecordSuccess(ctx, "cred-a", "claude:cli", 80*time.Millisecond)

	t.Run("full report", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/health/credentials/cred-a", "")
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.Equal(t, "cred-a", gjson.Get(body, "credentialId").String())
		assert.True(t, gjson.Get(body, "active").Bool())
		assert.Equal(t, int64(3), gjson.Get(body, "statistics.requestCount").Int())
		assert.Equal(t, int64(2), gjson.Get(body, "statistics.successCount").Int())
		assert.Equal(t, int64(1), gjson.Get(body, "statistics.errorCount").Int())
		assert.True(t, gjson.Get(body, "bySignature.claude:chat").Exists())
		assert.True(t, gjson.Get(body, "bySignature.claude:cli").Exists())
	})

	t.Run("narrowed to one signature", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/health/credentials/cred-a?signature=claude:chat", "")
		require.Equal(t, http.StatusOK, w.Code)

		body := w.Body.String()
		assert.True(t, gjson.Get(body, "bySignature.claude:chat").Exists())
		assert.False(t, gjson.Get(body, "bySignature.claude:cli").Exists())
	})

	t.Run("unknown credential", func(t *testing.T) {
		w := ts.do(t, http.MethodGet, "/admin/health/credentials/cred-zz", "")
		require.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), "credential not found")
	})
}

func TestFleetSummaryEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/admin/health/summary", "")
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Equal(t, int64(3), gjson.Get(body, "endpoints.total").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "endpoints.active").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "credentials.total").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "credentials.active").Int())
	assert.Equal(t, int64(0), gjson.Get(body, "credentials.circuitOpen").Int())
}
