// ABOUTME: Model settings handlers
// ABOUTME: read, update, and report built-in defaults

package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/parley-chat/parley/internal/store"
)

type settingsPayload struct {
	Temperature float32 `json:"temperature"`
	TopP        float32 `json:"top_p"`
	MaxTokens   int     `json:"max_tokens"`
	Model       string  `json:"model"`
	Host        string  `json:"host"`
	APIKey      string  `json:"api_key"`
}

func toPayload(ms *store.ModelSettings) settingsPayload {
	return settingsPayload{
		Temperature: ms.Temperature,
		TopP:        ms.TopP,
		MaxTokens:   ms.MaxTokens,
		Model:       ms.Model,
		Host:        ms.Host,
		APIKey:      ms.APIKey,
	}
}

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := s.store.GetSettings(r.Context())
	if err != nil {
		s.logger.Error("failed to load settings", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	s.writeJSON(w, http.StatusOK, toPayload(settings))
}

func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsPayload
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := validateSettings(&body); err != nil {
		s.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	settings := &store.ModelSettings{
		Temperature: body.Temperature,
		TopP:        body.TopP,
		MaxTokens:   body.MaxTokens,
		Model:       strings.TrimSpace(body.Model),
		Host:        strings.TrimSpace(body.Host),
		APIKey:      body.APIKey,
	}
	if err := s.store.SaveSettings(r.Context(), settings); err != nil {
		s.logger.Error("failed to save settings", "error", err)
		s.sendJSONError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleDefaultSettings(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toPayload(store.DefaultSettings()))
}

// validateSettings enforces the ranges the upstream API accepts
func validateSettings(p *settingsPayload) error {
	switch {
	case p.Temperature < 0 || p.Temperature > 2:
		return errTemperatureRange
	case p.TopP < 0 || p.TopP > 1:
		return errTopPRange
	case p.MaxTokens < 1:
		return errMaxTokensRange
	case strings.TrimSpace(p.Model) == "":
		return errModelRequired
	case strings.TrimSpace(p.Host) == "":
		return errHostRequired
	}
	return nil
}

var (
	errTemperatureRange = errors.New("temperature must be between 0 and 2")
	errTopPRange        = errors.New("top_p must be between 0 and 1")
	errMaxTokensRange   = errors.New("max_tokens must be at least 1")
	errModelRequired    = errors.New("model is required")
	errHostRequired     = errors.New("host is required")
)
