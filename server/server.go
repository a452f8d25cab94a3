// Package server exposes the engine over HTTP: a streaming chat endpoint
// speaking the line-delimited frame protocol, the confirmation sub-protocol
// for human approvals, and an execution stop endpoint. Authentication is a
// pluggable collaborator resolving the caller identity before any
// confirmation-registry operation.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/agentrelay"
	"github.com/hupe1980/agentrelay/confirm"
	"github.com/hupe1980/agentrelay/core"
	"github.com/hupe1980/agentrelay/logging"
	"github.com/hupe1980/agentrelay/stream"
)

// Authenticator resolves the caller identity for a request. Implementations
// must be safe for concurrent use.
type Authenticator interface {
	// Authenticate returns the caller's user id or an error when the request
	// carries no acceptable credentials.
	Authenticate(r *http.Request) (string, error)
}

// AnonymousAuthenticator accepts every request as a fixed anonymous user.
// Suitable for local development only.
type AnonymousAuthenticator struct{}

// Authenticate implements Authenticator.
func (AnonymousAuthenticator) Authenticate(*http.Request) (string, error) {
	return "anonymous", nil
}

// Options configure a Server.
type Options struct {
	// Authenticator resolves caller identity (defaults to anonymous).
	Authenticator Authenticator
	Logger        logging.Logger
}

// Server wires the engine's operations to HTTP handlers.
type Server struct {
	engine *agentrelay.Engine
	auth   Authenticator
	logger logging.Logger
}

// New constructs a Server around engine.
func New(engine *agentrelay.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Authenticator: AnonymousAuthenticator{},
		Logger:        logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Server{engine: engine, auth: opts.Authenticator, logger: opts.Logger}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/confirmations", s.handleListConfirmations)
	mux.HandleFunc("POST /v1/confirmations", s.handleResolveConfirmation)
	mux.HandleFunc("POST /v1/executions/{id}/stop", s.handleStop)
	return mux
}

// chatRequest is the body of POST /v1/chat.
type chatRequest struct {
	ThreadID    string         `json:"thread_id"`
	Content     string         `json:"content"`
	ContentKind string         `json:"content_kind,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// handleChat starts an execution and streams its wire frames until the finish
// terminator. The run is bound to the request context, so a client disconnect
// cancels the execution and releases any pending confirmation it holds.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "streaming unsupported"})
		return
	}

	rc := core.RequestContext{UserID: userID, ThreadID: req.ThreadID}
	task := core.TaskDescriptor{
		Content:     req.Content,
		ContentKind: contentKind(req.ContentKind),
		Metadata:    req.Metadata,
	}

	g, ctx := errgroup.WithContext(r.Context())

	execID, events, errs, err := s.engine.RunTask(ctx, rc, task)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Execution-Id", execID)
	w.WriteHeader(http.StatusOK)

	enc := stream.NewEncoder(w, func(o *stream.Options) { o.Flush = flusher.Flush })
	if err := enc.Start(); err != nil {
		s.logger.Error("server.stream.start_failed", "execution_id", execID, "error", err.Error())
		return
	}

	g.Go(func() error {
		for ev := range events {
			if err := enc.Encode(ev); err != nil {
				// Writer is gone; unblock the producer before bailing out.
				go func() {
					for range events {
					}
				}()
				return fmt.Errorf("%w: %v", core.ErrStreamClosed, err)
			}
		}
		return enc.Done()
	})

	g.Go(func() error {
		if runErr := <-errs; runErr != nil {
			s.logger.Warn("server.execution.failed", "execution_id", execID, "error", runErr.Error())
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		s.logger.Info("server.stream.closed", "execution_id", execID, "error", err.Error())
	}
}

// resolveRequest is the body of POST /v1/confirmations.
type resolveRequest struct {
	ID         string         `json:"id"`
	Approved   bool           `json:"approved"`
	EditedArgs map[string]any `json:"editedArgs,omitempty"`
}

// handleListConfirmations returns the caller's live pending confirmations.
func (s *Server) handleListConfirmations(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	pending := []confirm.Pending{}
	for _, p := range s.engine.Confirmations().List() {
		if p.OwnerID == userID {
			pending = append(pending, p)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": pending})
}

// handleResolveConfirmation delivers a human decision. Unknown or
// already-resolved ids report 410 so clients can distinguish staleness from
// malformed input (400) and foreign ownership (401).
func (s *Server) handleResolveConfirmation(w http.ResponseWriter, r *http.Request) {
	userID, err := s.auth.Authenticate(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "unauthorized"})
		return
	}

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "message": "invalid request body"})
		return
	}

	registry := s.engine.Confirmations()

	p, found := registry.Get(req.ID)
	if !found {
		writeJSON(w, http.StatusGone, map[string]any{"success": false, "message": "confirmation not found or already resolved"})
		return
	}
	if p.OwnerID != userID {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "message": "not the owner of this confirmation"})
		return
	}

	if err := registry.Resolve(req.ID, req.Approved, req.EditedArgs); err != nil {
		if errors.Is(err, core.ErrConfirmationNotFound) {
			writeJSON(w, http.StatusGone, map[string]any{"success": false, "message": "confirmation not found or already resolved"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "message": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "confirmation resolved"})
}

// handleStop cancels a running execution.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if _, err := s.auth.Authenticate(r); err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "unauthorized"})
		return
	}

	id := r.PathValue("id")
	if err := s.engine.Stop(id); err != nil {
		if errors.Is(err, core.ErrExecutionNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]any{"error": "execution not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stopped": true})
}

func contentKind(s string) core.ContentKind {
	switch core.ContentKind(s) {
	case core.ContentKindImage:
		return core.ContentKindImage
	case core.ContentKindDocument:
		return core.ContentKindDocument
	default:
		return core.ContentKindText
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
