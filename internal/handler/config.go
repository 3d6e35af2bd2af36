package handler

import (
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"

	"yolooverlay/internal/config"
	"yolooverlay/internal/dto"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/model"
	"yolooverlay/internal/service"
	"yolooverlay/internal/service/provider"
)

// Controller is the part of the detection loop the HTTP surface drives.
type Controller interface {
	Settings() service.Settings
	Reconfigure(service.Settings) error
	Status() service.Status
	Boxes() []model.Rect
}

// ConfigHandler serves the runtime configuration on GET and applies a
// dto.ConfigPatch on POST. Every accepted POST goes through Reconfigure.
func ConfigHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, logger, http.StatusOK, configView(ctrl.Settings()))

		case http.MethodPost:
			var patch dto.ConfigPatch
			if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
				http.Error(w, "Invalid JSON body", http.StatusBadRequest)
				return
			}

			settings, err := applyPatch(ctrl.Settings(), patch)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}

			if err := ctrl.Reconfigure(settings); err != nil {
				logger.Error("Reconfiguration failed: %v", err)
				status := http.StatusInternalServerError
				if errors.Is(err, service.ErrInvalidConfiguration) {
					status = http.StatusBadRequest
				}
				http.Error(w, err.Error(), status)
				return
			}

			logger.Info("Configuration updated: provider=%s minBoxConfidence=%.2f", settings.Provider, settings.MinBoxConfidence)
			writeJSON(w, logger, http.StatusOK, configView(ctrl.Settings()))

		default:
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		}
	}
}

func configView(s service.Settings) dto.ConfigView {
	return dto.ConfigView{
		MinBoxConfidence: s.MinBoxConfidence,
		Provider:         s.Provider.String(),
		LabelColor:       config.FormatColor(s.LabelColor),
		DisplayWidth:     s.Display.X,
		DisplayHeight:    s.Display.Y,
	}
}

func applyPatch(s service.Settings, patch dto.ConfigPatch) (service.Settings, error) {
	if patch.MinBoxConfidence != nil {
		s.MinBoxConfidence = *patch.MinBoxConfidence
	}
	if patch.Provider != nil {
		kind, err := provider.ParseKind(*patch.Provider)
		if err != nil {
			return s, err
		}
		s.Provider = kind
	}
	if patch.LabelColor != nil {
		c, err := config.ParseColor(*patch.LabelColor)
		if err != nil {
			return s, err
		}
		s.LabelColor = c
	}
	display := s.Display
	if patch.DisplayWidth != nil {
		display.X = *patch.DisplayWidth
	}
	if patch.DisplayHeight != nil {
		display.Y = *patch.DisplayHeight
	}
	if display.X <= 0 || display.Y <= 0 {
		return s, errors.Errorf("invalid display size %v", display)
	}
	s.Display = display
	return s, nil
}

// StatusHandler reports the loop state.
func StatusHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, ctrl.Status())
	}
}

// BoxesHandler returns the boxes drawn during the last tick.
func BoxesHandler(ctrl Controller, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, logger, http.StatusOK, ctrl.Boxes())
	}
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}
