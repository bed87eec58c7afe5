package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/actuallyrizzn/puppet-engine/internal/agents"
	"github.com/actuallyrizzn/puppet-engine/pkg/models"
)

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	statuses, healthy := s.checker.Run(r.Context())
	registered, owned := s.manager.Count()

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"healthy":           healthy,
		"agents_registered": registered,
		"agents_owned":      owned,
		"queue_len":         s.engine.QueueLen(),
		"checks":            statuses,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"agents": s.manager.Summaries()})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runtime.Summary())
}

func (s *Server) handlePost(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.activeRuntime(w, r)
	if !ok {
		return
	}

	var req struct {
		Context string `json:"context"`
		Force   bool   `json:"force"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	// surface cadence denial synchronously so the operator learns the
	// earliest allowed time instead of a silent skip
	agent := runtime.Agent()
	minBetween := time.Duration(agent.Behavior.PostFrequency.MinHoursBetweenPosts * float64(time.Hour))
	if !req.Force {
		if last, posted := s.cadence.LastPost(agent.ID); posted && time.Since(last) < minBetween {
			writeError(w, http.StatusConflict, models.CodeTooSoon, "minimum post spacing not reached", map[string]any{
				"last_post_time": last.UTC().Format(time.RFC3339),
				"retry_after":    (minBetween - time.Since(last)).Round(time.Second).String(),
			})
			return
		}
	}

	s.engine.Enqueue(&models.Event{
		Type:         models.EventManualPost,
		ManualPost:   &models.ManualPostPayload{Context: req.Context, Force: req.Force},
		Priority:     models.PriorityHigh,
		TargetAgents: []string{agent.ID},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.activeRuntime(w, r)
	if !ok {
		return
	}

	var req struct {
		TweetID string `json:"tweet_id"`
		Content string `json:"content"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TweetID == "" {
		writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, "tweet_id is required", nil)
		return
	}

	s.engine.Enqueue(&models.Event{
		Type:         models.EventManualReply,
		ManualReply:  &models.ManualReplyPayload{TweetID: req.TweetID, Content: req.Content},
		Priority:     models.PriorityHigh,
		TargetAgents: []string{runtime.Agent().ID},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (s *Server) handleMoodShift(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.activeRuntime(w, r)
	if !ok {
		return
	}

	var shift models.MoodShift
	if !decodeBody(w, r, &shift) {
		return
	}

	s.engine.Enqueue(&models.Event{
		Type:         models.EventMoodShift,
		MoodShift:    &models.MoodShiftPayload{Shift: shift},
		Priority:     models.PriorityNormal,
		TargetAgents: []string{runtime.Agent().ID},
	})
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued"})
}

func (s *Server) handleGetMood(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, runtime.Mood())
}

func (s *Server) handleGetContext(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}

	snap := runtime.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"mood":          snap.Mood,
		"core_memories": snap.CoreMemories,
		"recent_events": snap.RecentEvents,
		"relationships": snap.Relationships,
	})
}

func (s *Server) handleListMemories(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}

	items := runtime.Memory().All()
	if query := r.URL.Query().Get("q"); query != "" {
		limit := 10
		if n, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && n > 0 {
			limit = n
		}
		hits := runtime.Memory().Search(r.Context(), query, limit)
		scored := make([]map[string]any, 0, len(hits))
		for _, hit := range hits {
			scored = append(scored, map[string]any{"memory": hit.Item, "score": hit.Score})
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": scored})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"memories": items})
}

func (s *Server) handleAddMemory(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.activeRuntime(w, r)
	if !ok {
		return
	}

	var req struct {
		Content    string  `json:"content"`
		Kind       string  `json:"kind"`
		Importance float64 `json:"importance"`
		Emotion    float64 `json:"emotion"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, "content is required", nil)
		return
	}

	kind := models.MemoryKind(req.Kind)
	switch kind {
	case "":
		kind = models.MemoryGeneral
	case models.MemoryCore, models.MemoryInteraction, models.MemoryEvent, models.MemoryGeneral, models.MemoryPost:
	default:
		writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, "invalid memory kind", nil)
		return
	}

	item := runtime.Memory().Insert(r.Context(), &models.MemoryItem{
		Content:    req.Content,
		Kind:       kind,
		Importance: req.Importance,
		Emotion:    req.Emotion,
	})
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleDeleteMemory(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}

	memoryID := chi.URLParam(r, "memoryID")
	if err := runtime.Memory().Delete(r.Context(), memoryID); err != nil {
		if err == agents.ErrNotFound {
			writeError(w, http.StatusNotFound, models.CodeMemoryNotFound, "memory not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, models.CodeSystemError, err.Error(), nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted"})
}

func (s *Server) handleListRelationships(w http.ResponseWriter, r *http.Request) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": runtime.Relationships().All()})
}

func (s *Server) handleInjectEvent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Type         string         `json:"type"`
		Priority     string         `json:"priority"`
		TargetAgents []string       `json:"target_agents"`
		Data         map[string]any `json:"data"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Type == "" {
		req.Type = models.EventDebugInject
	}

	event := &models.Event{
		Type:         req.Type,
		Priority:     models.ParsePriority(req.Priority),
		TargetAgents: req.TargetAgents,
		Data:         req.Data,
	}
	s.engine.Enqueue(event)
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "id": event.ID})
}

func (s *Server) handleEventHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"events": s.engine.History()})
}

func (s *Server) runtime(w http.ResponseWriter, r *http.Request) (*agents.Runtime, bool) {
	agentID := chi.URLParam(r, "agentID")
	runtime, ok := s.manager.Runtime(agentID)
	if !ok {
		writeError(w, http.StatusNotFound, models.CodeAgentNotFound, "unknown agent: "+agentID, nil)
		return nil, false
	}
	return runtime, true
}

// activeRuntime additionally requires that this replica owns the agent
// and it is not stopped.
func (s *Server) activeRuntime(w http.ResponseWriter, r *http.Request) (*agents.Runtime, bool) {
	runtime, ok := s.runtime(w, r)
	if !ok {
		return nil, false
	}
	if !s.manager.Owned(runtime.Agent().ID) || runtime.Summary().State == models.StateStopped {
		writeError(w, http.StatusConflict, models.CodeAgentInactive, "agent is not active on this replica", nil)
		return nil, false
	}
	return runtime, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if r.Body == nil || r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		writeError(w, http.StatusBadRequest, models.CodeInvalidRequest, "invalid JSON body: "+err.Error(), nil)
		return false
	}
	return true
}
