package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/facegate/internal/auth"
	"github.com/hyperjump/facegate/internal/config"
	"github.com/hyperjump/facegate/internal/embedding"
	"github.com/hyperjump/facegate/internal/models"
	"github.com/hyperjump/facegate/internal/storage"
	"github.com/hyperjump/facegate/internal/vector"
)

const (
	msgRunning = "Face Auth API is running"
)

// errorResponse is a StandardResponse with the "detail" field older clients read errors from.
type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

type identityResponse struct {
	UserID     string                 `json:"user_id"`
	Dimensions int                    `json:"dimensions"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt  time.Time              `json:"created_at"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"message": msgRunning})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	s.logger.Debug("register request", zap.String("user_id", req.UserID), zap.Int("image_len", len(req.Image)))
	id, err := s.auth.Register(r.Context(), &req)
	if err != nil {
		s.respondServiceError(w, err, "No face detected in the image")
		return
	}
	s.respondJSON(w, http.StatusOK, models.NewRegisterResponse(id))
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req models.VerifyRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	decision, err := s.auth.Verify(r.Context(), req.Image)
	if err != nil {
		s.respondServiceError(w, err, "No face detected")
		return
	}
	s.respondJSON(w, http.StatusOK, models.NewVerifyResponse(decision))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.auth.Ping(r.Context()); err != nil {
		s.logger.Error("health check failed", zap.Error(err))
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := StatusReport(r.Context(), s.auth, s.config)
	if err != nil {
		s.logger.Error("status: count identities failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, "Identity store unavailable")
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// StatusReport summarizes the identity store and decision settings for display.
func StatusReport(ctx context.Context, svc *auth.Service, cfg *config.Config) (map[string]interface{}, error) {
	stats, err := svc.Status(ctx)
	if err != nil {
		return nil, err
	}
	resp := map[string]interface{}{
		"identities":          stats.Identities,
		"dimensions":          stats.Dimensions,
		"verify_threshold":    stats.VerifyThreshold,
		"duplicate_threshold": stats.DuplicateThreshold,
		"workers":             stats.Workers,
		"storage_driver":      cfg.Storage.Driver,
		"extractor_type":      cfg.Extractor.Type,
	}
	if cfg.Extractor.Model != "" {
		resp["extractor_model"] = cfg.Extractor.Model
	}
	if cfg.Inbox.Enabled() {
		resp["inbox_directory"] = cfg.Inbox.Directory
	}
	if paths := storage.Paths(cfg.Storage); len(paths) > 0 {
		if diskBytes, err := storage.DiskUsageBytes(paths...); err == nil {
			resp["disk_usage_bytes"] = diskBytes
		}
	}
	return resp, nil
}

func (s *Server) handleGetIdentity(w http.ResponseWriter, r *http.Request) {
	id, err := s.auth.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.respondServiceError(w, err, "")
		return
	}
	s.respondJSON(w, http.StatusOK, identityResponse{
		UserID:     id.UserID,
		Dimensions: id.Dimensions(),
		Metadata:   id.Metadata,
		CreatedAt:  id.CreatedAt,
	})
}

func (s *Server) handleDeleteIdentity(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	s.logger.Debug("delete identity request", zap.String("user_id", userID))
	if err := s.auth.Delete(r.Context(), userID); err != nil {
		s.respondServiceError(w, err, "")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"user_id": models.NormalizeUserID(userID), "status": "deleted"})
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// statusFor maps a service error to an HTTP status and client message. noFace is the message
// used for a missing face, which differs between endpoints.
func statusFor(err error, noFace string) (int, string) {
	var dup *auth.DuplicateFaceError
	switch {
	case errors.As(err, &dup):
		return http.StatusBadRequest, fmt.Sprintf("Face already registered as user %q", dup.UserID)
	case errors.Is(err, auth.ErrInvalidUserID):
		return http.StatusBadRequest, "Invalid user ID"
	case errors.Is(err, auth.ErrUserExists):
		return http.StatusBadRequest, "User ID already exists"
	case errors.Is(err, embedding.ErrInvalidImage):
		return http.StatusBadRequest, "Invalid image data"
	case errors.Is(err, embedding.ErrNoFaceDetected):
		if noFace == "" {
			noFace = "No face detected"
		}
		return http.StatusBadRequest, noFace
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "Identity not found"
	case errors.Is(err, embedding.ErrUnavailable):
		return http.StatusBadGateway, "Face extractor unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Request timed out"
	case errors.Is(err, vector.ErrStoreScan):
		return http.StatusInternalServerError, "Identity store unavailable"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

func (s *Server) respondServiceError(w http.ResponseWriter, err error, noFace string) {
	status, msg := statusFor(err, noFace)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", status), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	}
	s.respondError(w, status, msg)
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, errorResponse{Success: false, Message: message, Detail: message})
}
