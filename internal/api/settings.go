package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/config"
)

func (s *Server) handleGetSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.settings.Describe(r.Context()))
}

// handleSaveSettings stores an object of key → value. Values that still carry
// the redaction mask are ignored so a settings form can be posted back as-is.
func (s *Server) handleSaveSettings(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeJSON(r, &body, false); err != nil {
		badRequest(w, err.Error())
		return
	}

	keys := make([]string, 0, len(body))
	for k := range body {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	saved := []string{}
	for _, k := range keys {
		key, raw := strings.TrimSpace(k), body[k]
		if key == "" || raw == nil {
			continue
		}
		value := strings.TrimSpace(fmt.Sprint(raw))
		if strings.HasPrefix(value, "****") {
			continue
		}
		if err := s.store.SetConfig(r.Context(), key, value, config.IsSecret(key)); err != nil {
			s.writeError(w, r, err)
			return
		}
		saved = append(saved, key)
	}

	if s.models != nil {
		s.models.Invalidate()
	}
	s.log.Info("settings saved", zap.Strings("keys", saved))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "saved": saved})
}
