package route

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yolooverlay/internal/config"
	"yolooverlay/internal/logger/loggertest"
	"yolooverlay/internal/middleware"
	"yolooverlay/internal/model"
	"yolooverlay/internal/service"
	wsservice "yolooverlay/internal/service/websocket"
)

type stubController struct{}

func (stubController) Settings() service.Settings         { return service.Settings{} }
func (stubController) Reconfigure(service.Settings) error { return nil }
func (stubController) Status() service.Status             { return service.Status{Running: true} }
func (stubController) Boxes() []model.Rect                { return []model.Rect{} }

func TestSetupRoutes(t *testing.T) {
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>live</h1>"), 0644))

	log := loggertest.New(t)
	h := SetupRoutes(Deps{
		Controller: stubController{},
		Hub:        wsservice.NewHubService(log),
		Logger:     log,
		Config:     &config.Config{Password: "pw"},
		StaticDir:  static,
	})

	get := func(path string, authed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if authed {
			req.AddCookie(&http.Cookie{Name: middleware.AuthCookie, Value: "true"})
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, get("/api/status", false).Code)

	rec := get("/api/status", true)
	require.Equal(t, http.StatusOK, rec.Code)
	var st service.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &st))
	assert.True(t, st.Running)

	assert.Equal(t, http.StatusOK, get("/", true).Code)
	assert.Contains(t, get("/", true).Body.String(), "live")
	assert.Equal(t, http.StatusNotFound, get("/settings", true).Code)
}
