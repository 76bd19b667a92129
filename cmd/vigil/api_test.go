package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"github.com/vigil-mod/vigil/pipeline"
)

func testServer() *Server {
	eng := pipeline.EngineTestFixture()
	return &Server{
		logger:     eng.Logger,
		engine:     eng,
		configs:    eng.Configs,
		adminToken: "sekrit",
	}
}

func TestAPIBearerAuth(t *testing.T) {
	assert := assert.New(t)
	e := testServer().buildRouter()

	// missing key
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(http.StatusBadRequest, rr.Code)

	// wrong key
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(http.StatusUnauthorized, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(http.StatusOK, rr.Code)
}

func TestSubmitEndpoint(t *testing.T) {
	assert := assert.New(t)
	e := testServer().buildRouter()

	body := `{"message_id":"m1","group_id":"g1","user_id":"u1","text":"good morning all"}`
	req := httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr := httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), `"allow"`)

	// missing identifiers rejected
	req = httptest.NewRequest(http.MethodPost, "/submit", strings.NewReader(`{"text":"hi"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer sekrit")
	rr = httptest.NewRecorder()
	e.ServeHTTP(rr, req)
	assert.Equal(http.StatusBadRequest, rr.Code)
}
