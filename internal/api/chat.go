package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/R0m1k3/n8ngest/internal/chat"
)

const (
	headerSessionID       = "X-Session-Id"
	trailerWorkflowResult = "X-Workflow-Result"
	trailerChatError      = "X-Chat-Error"
)

// handleChat streams the answer as plain text. The session id goes out as a
// header; a dispatched command's result and any late generation failure are
// sent as trailers once the stream ends. A request carrying workflowAction
// skips generation and gets the dispatch result as JSON.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if err := decodeJSON(r, &req, false); err != nil {
		badRequest(w, err.Error())
		return
	}
	ctx := r.Context()

	if req.WorkflowAction != nil {
		res, err := s.chat.Dispatch(ctx, *req.WorkflowAction)
		status := http.StatusOK
		if err != nil && !res.Success {
			status = statusFor(err)
		}
		writeJSON(w, status, res)
		return
	}

	turn, err := s.chat.Begin(ctx, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	h.Set("Cache-Control", "no-cache")
	h.Set("X-Content-Type-Options", "nosniff")
	h.Add("Trailer", trailerWorkflowResult)
	h.Add("Trailer", trailerChatError)
	if turn.SessionID != "" {
		h.Set(headerSessionID, turn.SessionID)
	}
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	out, err := turn.Run(ctx, func(delta string) error {
		if _, err := io.WriteString(w, delta); err != nil {
			return err
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			s.log.Info("chat stream aborted by client", zap.String("session_id", turn.SessionID))
			return
		}
		s.log.Error("chat stream failed", zap.String("session_id", turn.SessionID), zap.Error(err))
		h.Set(trailerChatError, err.Error())
		return
	}

	if out.Result != nil {
		res := resultTrailer{
			Success:    out.Result.Success,
			Action:     out.Result.Action,
			WorkflowID: out.Result.WorkflowID,
			Error:      out.Result.Error,
		}
		s.results.put(turn.SessionID, res)
		if b, err := json.Marshal(res); err == nil {
			h.Set(trailerWorkflowResult, string(b))
		}
	}
}

// handleLastResult serves the most recent command result of a session for
// clients that cannot read trailers. 204 means nothing was dispatched yet.
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.store.GetSession(r.Context(), id); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, ok := s.results.get(id)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

const maxKeptResults = 1024

// resultLog keeps the last command result per session in memory.
type resultLog struct {
	mu sync.Mutex
	m  map[string]resultTrailer
}

func (l *resultLog) put(sessionID string, res resultTrailer) {
	if sessionID == "" {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = map[string]resultTrailer{}
	}
	if _, ok := l.m[sessionID]; !ok && len(l.m) >= maxKeptResults {
		for k := range l.m {
			delete(l.m, k)
			break
		}
	}
	l.m[sessionID] = res
}

func (l *resultLog) get(sessionID string) (resultTrailer, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	res, ok := l.m[sessionID]
	return res, ok
}

func (l *resultLog) forget(sessionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.m, sessionID)
}

// resultTrailer is the compact form of chat.Result that fits in a trailer.
type resultTrailer struct {
	Success    bool   `json:"success"`
	Action     string `json:"action"`
	WorkflowID string `json:"workflowId"`
	Error      string `json:"error,omitempty"`
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.agents.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.models.Models(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, models)
}
