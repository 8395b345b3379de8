// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/bureau-foundation/tandem/conduct"
	"github.com/bureau-foundation/tandem/lib/docstore"
	"github.com/bureau-foundation/tandem/lib/identity"
	"github.com/bureau-foundation/tandem/lib/netutil"
	"github.com/bureau-foundation/tandem/transport"
)

// DefaultMaxBodyBytes bounds uploaded documents when Config leaves
// MaxBodyBytes zero: 16 MiB, the same as the websocket message limit.
const DefaultMaxBodyBytes int64 = 16 << 20

// defaultTitle names documents created without a title parameter.
const defaultTitle = "Untitled"

// Documents is the document storage the server needs. *docstore.Store
// implements it.
type Documents interface {
	conduct.Store
	Create(ctx context.Context, owner, title string, data []byte) (string, error)
	Fetch(ctx context.Context, id string) (docstore.Document, error)
	OwnerOf(ctx context.Context, id string) (string, error)
	List(ctx context.Context, owner string) ([]docstore.Summary, error)
	Copy(ctx context.Context, owner, id string) (string, error)
	Delete(ctx context.Context, owner, id string) error
}

// Config configures a Server. All fields except MaxBodyBytes and
// Logger are required.
type Config struct {
	Hub       *conduct.Hub
	Documents Documents
	Signer    *identity.Signer
	Upgrader  *transport.Upgrader

	// MaxBodyBytes bounds document uploads. Defaults to
	// DefaultMaxBodyBytes.
	MaxBodyBytes int64

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Server exposes the document API and the session websocket
// endpoints.
type Server struct {
	hub          *conduct.Hub
	documents    Documents
	signer       *identity.Signer
	upgrader     *transport.Upgrader
	maxBodyBytes int64
	logger       *slog.Logger
}

// New validates config and creates a Server.
func New(config Config) (*Server, error) {
	var missing []string
	if config.Hub == nil {
		missing = append(missing, "Hub")
	}
	if config.Documents == nil {
		missing = append(missing, "Documents")
	}
	if config.Signer == nil {
		missing = append(missing, "Signer")
	}
	if config.Upgrader == nil {
		missing = append(missing, "Upgrader")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("server: missing required config: %s", strings.Join(missing, ", "))
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Server{
		hub:          config.Hub,
		documents:    config.Documents,
		signer:       config.Signer,
		upgrader:     config.Upgrader,
		maxBodyBytes: config.MaxBodyBytes,
		logger:       config.Logger,
	}, nil
}

// Handler returns the routing table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/documents", s.handleList)
	mux.HandleFunc("POST /api/documents", s.handleCreate)
	mux.HandleFunc("POST /api/documents/{id}/copy", s.handleCopy)
	mux.HandleFunc("DELETE /api/documents/{id}", s.handleDelete)
	mux.HandleFunc("GET /api/documents/{id}/export", s.handleExport)

	mux.HandleFunc("GET /api/conduct/{id}", s.handleConduct)
	mux.HandleFunc("GET /api/attend/{id}", s.handleAttend)
	mux.HandleFunc("GET /api/edit/{id}", s.handleEdit)
	return mux
}

// errUnauthorized is returned when a request carries no token.
var errUnauthorized = errors.New("server: missing bearer token")

// authenticate returns the identity named by the request's token.
// Browsers cannot set headers on websocket handshakes, so the token
// may also arrive as the "token" query parameter.
func (s *Server) authenticate(r *http.Request) (string, error) {
	token := r.URL.Query().Get("token")
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, credential, found := strings.Cut(header, " ")
		if !found || !strings.EqualFold(scheme, "Bearer") {
			return "", fmt.Errorf("%w: unsupported authorization scheme", errUnauthorized)
		}
		token = strings.TrimSpace(credential)
	}
	if token == "" {
		return "", errUnauthorized
	}
	return s.signer.Verify(token)
}

// authorizeOwner authenticates the request and loads document id,
// which the caller must own.
func (s *Server) authorizeOwner(r *http.Request, id string) (docstore.Document, error) {
	caller, err := s.authenticate(r)
	if err != nil {
		return docstore.Document{}, err
	}
	document, err := s.documents.Fetch(r.Context(), id)
	if err != nil {
		return docstore.Document{}, err
	}
	if document.Owner != caller {
		return docstore.Document{}, fmt.Errorf("server: %s requested %s: %w", caller, id, docstore.ErrNotOwner)
	}
	return document, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.hub.Registry().Len(),
	})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	summaries, err := s.documents.List(r.Context(), caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, summaries)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	data, err := netutil.ReadBody(r.Body, s.maxBodyBytes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	title := r.URL.Query().Get("title")
	if title == "" {
		title = defaultTitle
	}
	id, err := s.documents.Create(r.Context(), caller, title, data)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("document created", "document_id", id, "owner", caller, "size", len(data))
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (s *Server) handleCopy(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	copyID, err := s.documents.Copy(r.Context(), caller, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("document copied", "document_id", id, "copy_id", copyID, "owner", caller)
	s.writeJSON(w, http.StatusCreated, map[string]string{"id": copyID})
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	caller, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := r.PathValue("id")
	if err := s.documents.Delete(r.Context(), caller, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("document deleted", "document_id", id, "owner", caller)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	document, err := s.authorizeOwner(r, r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	etag := `"` + document.Digest.String() + `"`
	w.Header().Set("ETag", etag)
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition",
		mime.FormatMediaType("attachment", map[string]string{"filename": document.Title + ".tandem"}))
	w.WriteHeader(http.StatusOK)
	w.Write(document.Data)
}

// handleConduct pairs the owner's connection as the session leader.
// Pairing happens before the upgrade so a conflicting connection gets
// an HTTP status instead of a websocket that closes immediately.
func (s *Server) handleConduct(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	document, err := s.authorizeOwner(r, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	participant, err := s.hub.JoinLeader(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runParticipant(w, r, participant, document.Data)
}

// handleAttend pairs an anonymous follower. Knowing the session id is
// the only credential a follower needs.
func (s *Server) handleAttend(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	document, err := s.documents.Fetch(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	participant, err := s.hub.JoinFollower(id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.runParticipant(w, r, participant, document.Data)
}

func (s *Server) runParticipant(w http.ResponseWriter, r *http.Request, participant *conduct.Participant, payload []byte) {
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		participant.Abandon()
		s.logger.Warn("websocket upgrade failed",
			"session_id", participant.SessionID(),
			"role", participant.Role().String(),
			"error", err,
		)
		return
	}
	participant.Run(r.Context(), conn, payload)
}

func (s *Server) handleEdit(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	document, err := s.authorizeOwner(r, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "session_id", id, "role", "editor", "error", err)
		return
	}
	s.hub.Edit(r.Context(), id, conn, document.Data)
}

// statusFor maps an error to the HTTP status reported to the client.
func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnauthorized), errors.Is(err, identity.ErrInvalidToken):
		return http.StatusUnauthorized
	case errors.Is(err, docstore.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, docstore.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, conduct.ErrProtocolViolation):
		return http.StatusConflict
	case errors.Is(err, netutil.ErrBodyTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError reports err as {"error": "..."}. Internal errors are
// logged and replaced by a generic message.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	message := http.StatusText(status)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		s.logger.Debug("writing response", "error", err)
	}
}
