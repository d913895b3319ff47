package proxy

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"keymeter/internal/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandlerForwardsToUpstream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var gotPath, gotAPIKey, gotAuth, gotBody string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAPIKey = r.Header.Get("x-api-key")
		gotAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"verdict":"ok"}`))
	}))
	defer backend.Close()

	handler, err := Handler("analyze", backend.URL+"/analyze", logger.NewWithWriter(io.Discard, false))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/v1/analyze", handler)

	// httptest.NewRequest carries a context without a Done channel,
	// which sends ReverseProxy down the CloseNotifier path that the
	// recorder cannot serve. A cancelable context keeps it on the
	// context path.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(`{"image":"..."}`)).WithContext(ctx)
	// Credentials must not cross the hop to the backend.
	req.Header.Set("x-api-key", "sk_live_secret")
	req.Header.Set("Authorization", "Bearer sk_live_secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "verdict")
	assert.Equal(t, "/analyze", gotPath)
	assert.Equal(t, `{"image":"..."}`, gotBody)
	assert.Empty(t, gotAPIKey)
	assert.Empty(t, gotAuth)
}

func TestHandlerUnconfiguredUpstream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	handler, err := Handler("voice", "", logger.NewWithWriter(io.Discard, false))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/v1/voice", handler)

	req := httptest.NewRequest("POST", "/api/v1/voice", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandlerUnreachableUpstream(t *testing.T) {
	gin.SetMode(gin.TestMode)

	// A port nothing listens on.
	handler, err := Handler("generate", "http://127.0.0.1:1/generate", logger.NewWithWriter(io.Discard, false))
	require.NoError(t, err)

	router := gin.New()
	router.POST("/api/v1/generate", handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest("POST", "/api/v1/generate", nil).WithContext(ctx)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadGateway, w.Code)
}
