package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"relay-scheduler/pkg/scheduling"
	"relay-scheduler/storage"
)

const maxBodyBytes = 64 << 10

func (s *Server) handlePosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.List())
	case http.MethodPost:
		if !s.allowWrite(w, r) {
			return
		}
		var post scheduling.ScheduledPost
		if !s.decode(w, r, &post) {
			return
		}
		s.prepare(&post, func(id string) (int64, bool) {
			existing, err := s.store.Get(id)
			return existing.CreatedAt, err == nil
		})
		if s.enricher != nil {
			s.enricher.Enrich(r.Context(), &post)
		}
		if err := post.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.store.Upsert(r.Context(), post); err != nil {
			s.logger.Error("Failed to save post", "post_id", post.ID, "error", err)
			http.Error(w, "Failed to save post", http.StatusInternalServerError)
			return
		}
		s.logger.Info("Post scheduled", "post_id", post.ID, "content_type", post.ContentType, "scheduled_time", post.ScheduledTime)
		s.writeJSON(w, http.StatusCreated, post)
	case http.MethodDelete:
		if !s.allowWrite(w, r) {
			return
		}
		s.remove(w, r, s.store.Remove)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSocial(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.writeJSON(w, http.StatusOK, s.store.ListSocial())
	case http.MethodPost:
		if !s.allowWrite(w, r) {
			return
		}
		var post scheduling.SocialScheduledPost
		if !s.decode(w, r, &post) {
			return
		}
		s.prepare(&post.ScheduledPost, func(id string) (int64, bool) {
			for _, existing := range s.store.ListSocial() {
				if existing.ID == id {
					return existing.CreatedAt, true
				}
			}
			return 0, false
		})
		post.Status = scheduling.SocialPending
		post.PreparedText = ""
		if err := post.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err := s.store.UpsertSocial(r.Context(), post); err != nil {
			s.logger.Error("Failed to save social post", "post_id", post.ID, "error", err)
			http.Error(w, "Failed to save post", http.StatusInternalServerError)
			return
		}
		s.logger.Info("Social post scheduled", "post_id", post.ID, "platform", post.Platform)
		s.writeJSON(w, http.StatusCreated, post)
	case http.MethodDelete:
		if !s.allowWrite(w, r) {
			return
		}
		s.remove(w, r, s.store.RemoveSocial)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSocialPosted(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}
	err := s.store.SetSocialStatus(r.Context(), id, scheduling.SocialPostedManually, "")
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to mark social post posted", "post_id", id, "error", err)
		http.Error(w, "Failed to update post", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// prepare fills server-owned fields. A resubmitted post keeps its creation
// time and starts over as pending.
func (s *Server) prepare(post *scheduling.ScheduledPost, createdAt func(id string) (int64, bool)) {
	if post.ID == "" {
		post.ID = s.newID()
	}
	post.CreatedAt = s.now().Unix()
	if t, ok := createdAt(post.ID); ok {
		post.CreatedAt = t
	}
	post.Status = scheduling.StatusPending
	post.PublishedEventID = ""
	post.Error = ""
}

func (s *Server) remove(w http.ResponseWriter, r *http.Request, remove func(ctx context.Context, id string) error) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Missing id", http.StatusBadRequest)
		return
	}
	err := remove(r.Context(), id)
	if errors.Is(err, storage.ErrNotFound) {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.Error("Failed to remove post", "post_id", id, "error", err)
		http.Error(w, "Failed to remove post", http.StatusInternalServerError)
		return
	}
	s.logger.Info("Post removed", "post_id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		http.Error(w, "Invalid JSON: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
