package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type routes func(e *echo.Echo)

func (r routes) RegisterRoutes(e *echo.Echo) { r(e) }

type sizeRequest struct {
	Side string  `json:"side" validate:"required,oneof=buy sell"`
	Size float64 `json:"size" default:"5" validate:"gt=0"`
}

func newTestServer(t *testing.T, r routes) *Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewServer([]ServerOption{WithMetrics(reg, reg)}, r)
}

func serve(s *Server, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestRecoverTurnsPanicInto500(t *testing.T) {
	s := newTestServer(t, func(e *echo.Echo) {
		e.GET("/boom", func(echo.Context) error { panic("boom") })
	})

	rec := serve(s, http.MethodGet, "/boom", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, http.StatusInternalServerError, decode(t, rec).Status)
}

func TestAppErrorResponseUsesErrorStatus(t *testing.T) {
	s := newTestServer(t, func(e *echo.Echo) {
		e.GET("/missing", func(c echo.Context) error {
			return AppErrorResponse(c, NotFoundErrorf("no cooldown for %s", "SOL").WithParam("symbol", "SOL"))
		})
		e.GET("/plain", func(c echo.Context) error {
			return AppErrorResponse(c, errors.New("disk on fire"))
		})
	})

	rec := serve(s, http.MethodGet, "/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"code":"ERR_NOT_FOUND"`)
	assert.Contains(t, rec.Body.String(), `"symbol":"SOL"`)

	rec = serve(s, http.MethodGet, "/plain", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "disk on fire")
}

func TestReadAndValidateRequest(t *testing.T) {
	var got sizeRequest
	s := newTestServer(t, func(e *echo.Echo) {
		e.POST("/size", func(c echo.Context) error {
			req := sizeRequest{}
			if errs := ReadAndValidateRequest(c, &req); errs != nil {
				return BadRequestResponse(c, errs)
			}
			got = req
			return SuccessResponse(c, req)
		})
	})

	rec := serve(s, http.MethodPost, "/size", `{"side":"buy"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5.0, got.Size)

	rec = serve(s, http.MethodPost, "/size", `{"side":"hold","size":2}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var body struct {
		Data []ValidationError `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Data, 1)
	assert.Equal(t, "ERR_ONEOF", body.Data[0].Code)
	assert.Equal(t, "side", body.Data[0].Field)
	assert.Equal(t, "side must be one of: buy, sell", body.Data[0].Message)

	rec = serve(s, http.MethodPost, "/size", `{"side":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "ERR_BIND")
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, func(e *echo.Echo) {
		e.GET("/ping", func(c echo.Context) error { return SuccessResponse(c, "pong") })
	})

	req := httptest.NewRequest(http.MethodOptions, "/ping", nil)
	req.Header.Set(echo.HeaderOrigin, "http://dash.local")
	rec := httptest.NewRecorder()
	s.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://dash.local", rec.Header().Get(echo.HeaderAccessControlAllowOrigin))
	assert.Contains(t, rec.Header().Get(echo.HeaderAccessControlAllowMethods), http.MethodDelete)
}
