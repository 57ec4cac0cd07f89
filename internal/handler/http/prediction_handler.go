package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cypherlabdev/win-probability-service/internal/models"
	"github.com/cypherlabdev/win-probability-service/internal/service"
)

// PredictionHandler handles HTTP requests for the query surface
type PredictionHandler struct {
	service *service.PredictionService
	logger  zerolog.Logger
}

// NewPredictionHandler creates a new prediction HTTP handler
func NewPredictionHandler(svc *service.PredictionService, logger zerolog.Logger) *PredictionHandler {
	return &PredictionHandler{
		service: svc,
		logger:  logger.With().Str("component", "prediction_handler").Logger(),
	}
}

// RegisterRoutes registers HTTP routes with the provided mux
func (h *PredictionHandler) RegisterRoutes(mux *http.ServeMux) {
	// GET /api/v1/games/:game_id/winprob - Current win probability
	// GET /api/v1/games/:game_id/players/:player_id/milestone - Milestone probability
	mux.HandleFunc("/api/v1/games/", h.handleGames)

	// GET /api/v1/rates/:owner_id - Fitted rate profiles
	mux.HandleFunc("/api/v1/rates/", h.handleGetRates)
}

// handleGames dispatches the per-game routes
func (h *PredictionHandler) handleGames(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/games/")
	parts := strings.Split(path, "/")

	switch {
	case len(parts) == 2 && parts[1] == "winprob":
		h.handleGetWinProbability(w, r, parts[0])
	case len(parts) == 4 && parts[1] == "players" && parts[3] == "milestone":
		h.handleGetMilestone(w, r, parts[0], parts[2])
	default:
		h.errorResponse(w, http.StatusBadRequest,
			"invalid path: expected /api/v1/games/:game_id/winprob or /api/v1/games/:game_id/players/:player_id/milestone")
	}
}

// handleGetWinProbability handles GET /api/v1/games/:game_id/winprob
func (h *PredictionHandler) handleGetWinProbability(w http.ResponseWriter, r *http.Request, gameID string) {
	if gameID == "" {
		h.errorResponse(w, http.StatusBadRequest, "game_id is required")
		return
	}

	result, err := h.service.GetWinProbability(r.Context(), gameID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			h.logger.Debug().Err(err).Str("game_id", gameID).Msg("win probability not found")
			h.errorResponse(w, http.StatusNotFound, "no prediction available for game")
			return
		}
		h.logger.Error().Err(err).Str("game_id", gameID).Msg("failed to compute win probability")
		h.errorResponse(w, http.StatusInternalServerError, "failed to compute win probability")
		return
	}

	h.jsonResponse(w, http.StatusOK, result)
}

// handleGetMilestone handles
// GET /api/v1/games/:game_id/players/:player_id/milestone?stat=points&threshold=30
func (h *PredictionHandler) handleGetMilestone(w http.ResponseWriter, r *http.Request, gameID, playerID string) {
	if gameID == "" || playerID == "" {
		h.errorResponse(w, http.StatusBadRequest, "game_id and player_id are required")
		return
	}

	stat := r.URL.Query().Get("stat")
	if stat == "" {
		stat = string(models.EventPoints)
	}
	thresholdParam := r.URL.Query().Get("threshold")
	threshold, err := strconv.ParseFloat(thresholdParam, 64)
	if err != nil || threshold <= 0 {
		h.errorResponse(w, http.StatusBadRequest, "threshold must be a positive number")
		return
	}

	milestone := models.Milestone{
		PlayerID:  playerID,
		Stat:      models.EventType(stat),
		Threshold: threshold,
	}

	probability, err := h.service.GetMilestoneProbability(r.Context(), gameID, playerID, milestone)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrInsufficientData) {
			h.logger.Debug().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("milestone not available")
			h.errorResponse(w, http.StatusNotFound, "no milestone prediction available")
			return
		}
		h.logger.Error().Err(err).Str("game_id", gameID).Str("player_id", playerID).Msg("failed to compute milestone probability")
		h.errorResponse(w, http.StatusInternalServerError, "failed to compute milestone probability")
		return
	}

	h.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"game_id":     gameID,
		"player_id":   playerID,
		"stat":        milestone.Stat,
		"threshold":   milestone.Threshold,
		"probability": probability,
	})
}

// handleGetRates handles GET /api/v1/rates/:owner_id
func (h *PredictionHandler) handleGetRates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.errorResponse(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ownerID := strings.TrimPrefix(r.URL.Path, "/api/v1/rates/")
	if ownerID == "" || strings.Contains(ownerID, "/") {
		h.errorResponse(w, http.StatusBadRequest, "invalid path: expected /api/v1/rates/:owner_id")
		return
	}

	profiles, err := h.service.GetRateProfile(r.Context(), ownerID)
	if err != nil {
		if errors.Is(err, models.ErrInsufficientData) || errors.Is(err, models.ErrNotFound) {
			h.logger.Debug().Err(err).Str("owner_id", ownerID).Msg("rate profiles not available")
			h.errorResponse(w, http.StatusNotFound, "no rate profiles available for owner")
			return
		}
		h.logger.Error().Err(err).Str("owner_id", ownerID).Msg("failed to retrieve rate profiles")
		h.errorResponse(w, http.StatusInternalServerError, "failed to retrieve rate profiles")
		return
	}

	h.jsonResponse(w, http.StatusOK, profiles)
}

// jsonResponse writes a JSON response
func (h *PredictionHandler) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("failed to encode JSON response")
	}
}

// errorResponse writes a JSON error response
func (h *PredictionHandler) errorResponse(w http.ResponseWriter, status int, message string) {
	h.jsonResponse(w, status, map[string]string{
		"error": message,
	})
}
