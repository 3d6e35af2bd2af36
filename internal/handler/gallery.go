package handler

import (
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"yolooverlay/internal/dto"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/model"
	"yolooverlay/internal/repository"
)

// Archive is the snapshot store behind the gallery endpoints.
type Archive interface {
	Dir() string
	Delete(filename string) error
	Clear() error
}

// GetSnapshotsHandler returns a filtered, paginated list of archived snapshots.
func GetSnapshotsHandler(archive Archive, logger *logger.Logger,
	snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), 24)

		filter := &model.SnapshotFilter{
			Provider:  q.Get("provider"),
			Label:     q.Get("label"),
			StartDate: parseDate(q.Get("dateAfter")),
			EndDate:   endOfDay(parseDate(q.Get("dateBefore"))),
			Limit:     limit,
			Offset:    (page - 1) * limit,
		}

		snapshots, err := snapshotRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying snapshots from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := snapshotRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting snapshots: %v", err)
			totalCount = len(snapshots)
		}

		providers, err := snapshotRepo.GetProviders()
		if err != nil {
			logger.Error("Error listing providers: %v", err)
		}
		labels, err := detectionRepo.GetAllLabels()
		if err != nil {
			logger.Error("Error listing labels: %v", err)
		}

		infos := make([]dto.SnapshotInfo, 0, len(snapshots))
		for _, s := range snapshots {
			snapshotLabels, err := detectionRepo.GetLabelsBySnapshotID(s.ID)
			if err != nil {
				logger.Error("Error getting labels for snapshot %d: %v", s.ID, err)
				snapshotLabels = []string{}
			}
			infos = append(infos, dto.SnapshotInfo{
				Name:      s.Filename,
				Date:      s.Timestamp,
				TimeOfDay: s.Timestamp,
				Provider:  s.Provider,
				Labels:    snapshotLabels,
				Size:      s.FileSize,
			})
		}

		writeJSON(w, logger, http.StatusOK, dto.SnapshotsData{
			Snapshots:   infos,
			Directory:   archive.Dir(),
			Providers:   providers,
			Labels:      labels,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// DeleteSnapshotHandler removes one snapshot from disk and the catalogue.
func DeleteSnapshotHandler(archive Archive, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filename := r.URL.Query().Get("filename")
		if filename == "" {
			http.Error(w, "Filename required", http.StatusBadRequest)
			return
		}

		if err := archive.Delete(filename); err != nil {
			logger.Error("Failed to delete snapshot %s: %v", filename, err)
			http.Error(w, "Unable to delete snapshot", http.StatusBadRequest)
			return
		}

		logger.Info("Deleted snapshot: %s", filename)
		writeJSON(w, logger, http.StatusOK, map[string]string{"status": "deleted", "filename": filename})
	}
}

// ClearSnapshotsHandler deletes every snapshot and empties the catalogue.
func ClearSnapshotsHandler(archive Archive, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := archive.Clear(); err != nil {
			logger.Error("Error clearing snapshots: %v", err)
			http.Error(w, "Unable to clear snapshots", http.StatusInternalServerError)
			return
		}

		logger.Info("All snapshots cleared from directory: %s", archive.Dir())
		w.WriteHeader(http.StatusNoContent)
	}
}

// ViewSnapshotHandler serves a single snapshot named by the "image" query parameter.
func ViewSnapshotHandler(archive Archive) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		image := r.URL.Query().Get("image")
		if image == "" || filepath.Base(image) != image {
			http.Error(w, "Image parameter is required", http.StatusBadRequest)
			return
		}
		http.ServeFile(w, r, filepath.Join(archive.Dir(), image))
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}

func endOfDay(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return t.Add(24*time.Hour - time.Nanosecond)
}
