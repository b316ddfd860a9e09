package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"clipstitch/internal/api"
	"clipstitch/internal/assets"
	"clipstitch/internal/config"
	"clipstitch/internal/logging"
	"clipstitch/internal/services"
	"clipstitch/internal/store"
	"clipstitch/internal/upload"
)

type apiServer struct {
	bind     string
	maxChunk int64
	logger   *slog.Logger
	daemon   *Daemon

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) *apiServer {
	srv := &apiServer{
		bind:     strings.TrimSpace(cfg.Paths.APIBind),
		maxChunk: cfg.Upload.MaxChunkBytes,
		logger:   logging.NewComponentLogger(logger, "api-server"),
		daemon:   d,
	}
	srv.server = &http.Server{
		Handler:           srv.routes(cfg.Paths.APIToken),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv
}

func (s *apiServer) routes(token string) http.Handler {
	mux := http.NewServeMux()
	guarded := func(pattern string, h http.HandlerFunc) {
		mux.HandleFunc(pattern, authMiddleware(token, principalMiddleware(h)))
	}

	guarded("POST /api/uploads", s.handleInitiate)
	guarded("PUT /api/uploads/{id}/chunks/{n}", s.handleChunk)
	guarded("GET /api/uploads/{id}", s.handleUploadStatus)
	guarded("POST /api/uploads/{id}/complete", s.handleComplete)
	guarded("DELETE /api/uploads/{id}", s.handleCancel)
	guarded("GET /api/clips/{id}", s.handleClip)
	guarded("GET /api/assets/{id}", s.handleAsset)
	guarded("GET /api/assets/{id}/info", s.handleAssetInfo)
	guarded("GET /api/assets/{id}/segments", s.handleSegments)
	guarded("POST /api/challenges/{id}/merge", s.handleMerge)
	guarded("GET /api/challenges/{id}/jobs", s.handleChallengeJobs)
	guarded("GET /api/jobs/{id}", s.handleJob)
	mux.HandleFunc("GET /api/health", authMiddleware(token, s.handleHealth))

	return requestIDMiddleware(mux)
}

func (s *apiServer) start(ctx context.Context) error {
	if s.bind == "" {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) stop() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = s.server.Shutdown(shutdownCtx)
	s.mu.Lock()
	if s.listener != nil {
		_ = s.listener.Close()
		s.listener = nil
	}
	s.mu.Unlock()
}

func (s *apiServer) addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

func (s *apiServer) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req api.InitiateUploadRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	sess, err := s.daemon.uploads.Initiate(r.Context(), principalFrom(r), upload.InitiateRequest{
		ChallengeID:    req.ChallengeID,
		StatementIndex: req.StatementIndex,
		TotalSize:      req.TotalSize,
		ChunkSize:      req.ChunkSize,
		MimeType:       req.MimeType,
		FileHash:       req.FileHash,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/uploads/"+sess.ID)
	s.writeJSON(w, http.StatusCreated, api.FromSession(sess))
}

func (s *apiServer) handleChunk(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "upload chunk", "chunk number must be an integer", nil))
		return
	}
	// Chunk bodies may outlive the server-wide read timeout.
	_ = http.NewResponseController(w).SetReadDeadline(time.Now().Add(5 * time.Minute))
	body := r.Body
	if s.maxChunk > 0 {
		body = http.MaxBytesReader(w, r.Body, s.maxChunk)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeServiceError(w, r, services.Wrap(services.ErrValidation, "api", "upload chunk", "chunk exceeds maximum size", nil))
			return
		}
		s.writeServiceError(w, r, services.Wrap(services.ErrTransient, "api", "upload chunk", "read body", err))
		return
	}
	progress, err := s.daemon.uploads.AcceptChunk(r.Context(), principalFrom(r), r.PathValue("id"), n, data, r.Header.Get("X-Chunk-Hash"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromProgress(progress))
}

func (s *apiServer) handleUploadStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.daemon.uploads.Status(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromUploadStatus(status))
}

func (s *apiServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	clip, err := s.daemon.uploads.Complete(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromClip(clip))
}

func (s *apiServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	if err := s.daemon.uploads.Cancel(r.Context(), principalFrom(r), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *apiServer) handleClip(w http.ResponseWriter, r *http.Request) {
	stream, err := s.daemon.assets.StreamClip(r.Context(), r.PathValue("id"), r.Header.Get("Range"))
	s.writeStream(w, r, stream, err)
}

func (s *apiServer) handleAsset(w http.ResponseWriter, r *http.Request) {
	stream, err := s.daemon.assets.Stream(r.Context(), principalFrom(r), r.PathValue("id"), r.Header.Get("Range"))
	s.writeStream(w, r, stream, err)
}

func (s *apiServer) handleAssetInfo(w http.ResponseWriter, r *http.Request) {
	asset, err := s.daemon.assets.Asset(r.Context(), principalFrom(r), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromAsset(asset))
}

func (s *apiServer) handleSegments(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	segs, err := s.daemon.assets.Segments(r.Context(), principalFrom(r), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.SegmentsResponse{AssetID: id, Segments: api.FromSegments(segs)})
}

func (s *apiServer) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req api.MergeRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(r, &req); err != nil {
			s.writeServiceError(w, r, err)
			return
		}
	}
	job, created, err := s.daemon.runner.EnqueueMerge(r.Context(), r.PathValue("id"), req.Preset)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusAccepted
	}
	w.Header().Set("Location", "/api/jobs/"+job.ID)
	s.writeJSON(w, status, api.MergeResponse{Job: api.FromJob(job), Created: created})
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.daemon.store.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			err = services.Wrap(services.ErrNotFound, "api", "get job", "no such merge job", nil)
		}
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.FromJob(job))
}

func (s *apiServer) handleChallengeJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.daemon.store.JobsForChallenge(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, api.JobListResponse{Jobs: api.FromJobs(jobs)})
}

func (s *apiServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := api.FromStatusSummary(s.daemon.runner.Status(r.Context()))
	status := http.StatusOK
	for _, c := range health.Components {
		if !c.Ready {
			status = http.StatusServiceUnavailable
			break
		}
	}
	s.writeJSON(w, status, health)
}

func (s *apiServer) writeStream(w http.ResponseWriter, r *http.Request, stream *assets.Stream, err error) {
	if err != nil {
		if size, ok := assets.UnsatisfiableSize(err); ok {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		}
		s.writeServiceError(w, r, err)
		return
	}
	defer stream.Close()

	// Media bodies outlive the server-wide write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})
	for key, values := range stream.Headers {
		w.Header()[key] = values
	}
	w.WriteHeader(stream.Status)
	if _, err := io.Copy(w, stream.Body); err != nil {
		logging.WithContext(r.Context(), s.logger).Debug("stream interrupted", logging.Error(err))
	}
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return services.Wrap(services.ErrValidation, "api", "decode request", "malformed JSON body", nil)
	}
	return nil
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("failed to encode response", logging.Error(err))
	}
}

func (s *apiServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	status, body := errorResponse(err)
	logger := logging.WithContext(r.Context(), s.logger)
	if status >= http.StatusInternalServerError {
		logging.ErrorWithContext(logger, "request failed", "api_error", append(logging.ErrorAttrs(err),
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
		)...)
	} else {
		logger.Debug("request rejected",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", status),
			logging.String(logging.FieldErrorKind, body.Error),
		)
	}
	s.writeJSON(w, status, body)
}
