package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tidwall/gjson"
)

func TestHealthz(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/healthz", "")

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.Equal(t, "ok", gjson.Get(body, "status").String())
	assert.Equal(t, int64(2), gjson.Get(body, "providers").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "endpoints").Int())
	assert.Equal(t, int64(3), gjson.Get(body, "credentials").Int())
}

func TestVersion(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/version", "")

	assert.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.NotEmpty(t, gjson.Get(body, "version").String())
	assert.NotEmpty(t, gjson.Get(body, "go_version").String())
	assert.NotEmpty(t, gjson.Get(body, "platform").String())
}
