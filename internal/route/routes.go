package route

import (
	"net/http"
	"os"
	"path/filepath"

	"yolooverlay/internal/config"
	"yolooverlay/internal/handler"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/middleware"
	"yolooverlay/internal/repository"
	wsservice "yolooverlay/internal/service/websocket"
)

// Deps are the services the routes are served from.
type Deps struct {
	Controller    handler.Controller
	Hub           *wsservice.HubService
	Archive       handler.Archive
	SnapshotRepo  repository.SnapshotRepository
	DetectionRepo repository.DetectionRepository
	Logger        *logger.Logger
	Config        *config.Config
	StaticDir     string
}

// dynamicHTMLHandler serves /path as <static>/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(staticDir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if path == "/" {
			path = "/index"
		}

		filePath := filepath.Join(staticDir, filepath.Clean("/"+path)+".html")
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}
		http.ServeFile(w, r, filePath)
	}
}

// SetupRoutes registers the API, log, auth and page routes and wraps the mux
// with the authentication middleware.
func SetupRoutes(d Deps) http.Handler {
	mux := http.NewServeMux()
	log := d.Logger

	staticDir := d.StaticDir
	if staticDir == "" {
		staticDir = "static"
	}
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))

	// Detection loop
	mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(d.Hub, log))
	mux.HandleFunc("/api/config", handler.ConfigHandler(d.Controller, log))
	mux.HandleFunc("/api/status", handler.StatusHandler(d.Controller, log))
	mux.HandleFunc("/api/boxes", handler.BoxesHandler(d.Controller, log))

	// Snapshot archive
	mux.HandleFunc("/api/snapshots", handler.GetSnapshotsHandler(d.Archive, log, d.SnapshotRepo, d.DetectionRepo))
	mux.HandleFunc("/api/snapshots/view", handler.ViewSnapshotHandler(d.Archive))
	mux.HandleFunc("/api/snapshots/delete", handler.DeleteSnapshotHandler(d.Archive, log))
	mux.HandleFunc("/api/snapshots/clear", handler.ClearSnapshotsHandler(d.Archive, log))

	// Log endpoints
	for _, level := range []struct{ path, file string }{
		{"info", logger.InfoFile},
		{"warning", logger.WarningFile},
		{"error", logger.ErrorFile},
	} {
		mux.HandleFunc("/logs/"+level.path, handler.ShowLogsHandler(log, level.file))
		mux.HandleFunc("/logs/"+level.path+"/clear", handler.ClearLogsHandler(log, level.file))
	}

	// Auth endpoints
	mux.HandleFunc("/auth/login", handler.LoginHandler(d.Config, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping, for example /settings -> static/settings.html
	mux.HandleFunc("/", dynamicHTMLHandler(staticDir))

	return middleware.AuthMiddleware(mux)
}
