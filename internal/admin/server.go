// Package admin serves the HTTP API used to inspect and repair dead-letter
// queues. Each request works on its own connection cache, which is closed
// when the request ends.
package admin

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/epalmerini/burrow/internal/conncache"
	"github.com/epalmerini/burrow/internal/db"
	"github.com/epalmerini/burrow/internal/rabbitmq"
	"github.com/epalmerini/burrow/internal/scan"
)

// DefaultPrefix is where the operations are mounted.
const DefaultPrefix = "/private/virgil"

const maxAuditLimit = 1000

const (
	errMethodNotAllowed  = "method_not_allowed"
	errUnauthorized      = "unauthorized"
	errOperationNotFound = "operation_not_found"
	errInvalidBody       = "invalid_body"
	errInvalidQuery      = "invalid_query"
	errNoQueue           = "queue_not_configured"
	errBroker            = "broker_error"
	errAuditDisabled     = "audit_disabled"
	errInternal          = "internal_error"
)

type Server struct {
	Engine  *scan.Engine
	Dialer  rabbitmq.Dialer
	Binders conncache.Binders
	// Audit is nil when the audit log is disabled.
	Audit      db.Store
	AuditLimit int
	Authorize  Authorizer
	Logger     *slog.Logger
	Prefix     string
}

func NewServer(engine *scan.Engine, dialer rabbitmq.Dialer, binders conncache.Binders) *Server {
	return &Server{
		Engine:     engine,
		Dialer:     dialer,
		Binders:    binders,
		AuditLimit: 100,
		Logger:     slog.New(slog.DiscardHandler),
		Prefix:     DefaultPrefix,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.Authorize != nil && !s.Authorize(r) {
		writeError(w, http.StatusUnauthorized, errUnauthorized, "request is not authorized")
		return
	}

	cleanPath := path.Clean(r.URL.Path)
	if path.Dir(cleanPath) != path.Clean(s.Prefix) {
		writeError(w, http.StatusNotFound, errOperationNotFound, "operation was not found")
		return
	}

	switch op := path.Base(cleanPath); op {
	case "get-queues":
		s.read(w, r, s.handleGetQueues)
	case "get-queue-size":
		s.read(w, r, s.handleGetQueueSize)
	case "get-dlq-messages":
		s.read(w, r, s.handleGetMessages)
	case "drop-message":
		s.write(w, r, s.handleDropMessage)
	case "drop-all-messages":
		s.write(w, r, s.handleDropAll)
	case "publish-message":
		s.write(w, r, s.handlePublishMessage)
	case "audit":
		s.read(w, r, s.handleAudit)
	default:
		writeError(w, http.StatusNotFound, errOperationNotFound, "operation was not found")
	}
}

func (s *Server) read(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "method must be GET")
		return
	}
	h(w, r)
}

func (s *Server) write(w http.ResponseWriter, r *http.Request, h http.HandlerFunc) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errMethodNotAllowed, "method must be POST")
		return
	}
	h(w, r)
}

// withCache runs fn with a connection cache owned by the current request.
func (s *Server) withCache(fn func(c *conncache.Cache)) {
	c := conncache.New(s.Dialer, s.Binders)
	defer func() {
		if err := c.Close(); err != nil {
			s.Logger.Warn("close broker connections", "error", err)
		}
	}()
	fn(c)
}

// queueID falls back to the first configured queue when raw is empty.
func (s *Server) queueID(w http.ResponseWriter, raw string) (string, bool) {
	if id := strings.TrimSpace(raw); id != "" {
		return id, true
	}
	id, ok := s.Engine.DefaultQueueID()
	if !ok {
		writeError(w, http.StatusNotFound, errNoQueue, "no queues are configured")
		return "", false
	}
	return id, true
}

func (s *Server) handleGetQueues(w http.ResponseWriter, _ *http.Request) {
	writeData(w, http.StatusOK, s.Engine.QueueIDs())
}

func (s *Server) handleGetQueueSize(w http.ResponseWriter, r *http.Request) {
	queueID, ok := s.queueID(w, r.URL.Query().Get("queueId"))
	if !ok {
		return
	}

	s.withCache(func(c *conncache.Cache) {
		size, known, err := s.Engine.QueueSize(r.Context(), c, queueID)
		if err != nil {
			s.brokerError(w, "get-queue-size", queueID, err)
			return
		}
		if !known {
			writeData(w, http.StatusOK, nil)
			return
		}
		writeData(w, http.StatusOK, size)
	})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"), 0)
	if !ok {
		return
	}
	queueID, ok := s.queueID(w, q.Get("queueId"))
	if !ok {
		return
	}

	s.withCache(func(c *conncache.Cache) {
		views, err := s.Engine.Messages(r.Context(), c, queueID, limit)
		if err != nil {
			s.brokerError(w, "get-dlq-messages", queueID, err)
			return
		}
		writeData(w, http.StatusOK, views)
	})
}

type messageRequest struct {
	QueueID   string `json:"queueId"`
	MessageID string `json:"messageId"`
}

type dropAllResponse struct {
	Success bool `json:"success"`
}

func (s *Server) handleDropMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	queueID, ok := s.queueID(w, req.QueueID)
	if !ok {
		return
	}

	s.withCache(func(c *conncache.Cache) {
		res, err := s.Engine.Drop(r.Context(), c, queueID, req.MessageID)
		if err != nil {
			s.brokerError(w, "drop-message", queueID, err)
			return
		}
		writeData(w, http.StatusOK, res)
	})
}

func (s *Server) handleDropAll(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSONBody(w, r, &req, true) {
		return
	}
	queueID, ok := s.queueID(w, req.QueueID)
	if !ok {
		return
	}

	s.withCache(func(c *conncache.Cache) {
		purged, err := s.Engine.DropAll(r.Context(), c, queueID)
		if err != nil {
			s.brokerError(w, "drop-all-messages", queueID, err)
			return
		}
		writeData(w, http.StatusOK, dropAllResponse{Success: purged})
	})
}

func (s *Server) handlePublishMessage(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	queueID, ok := s.queueID(w, req.QueueID)
	if !ok {
		return
	}

	s.withCache(func(c *conncache.Cache) {
		res, err := s.Engine.Republish(r.Context(), c, queueID, req.MessageID)
		if err != nil {
			s.brokerError(w, "publish-message", queueID, err)
			return
		}
		writeData(w, http.StatusOK, res)
	})
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.Audit == nil {
		writeError(w, http.StatusNotFound, errAuditDisabled, "audit log is disabled")
		return
	}
	q := r.URL.Query()
	limit, ok := parseLimit(w, q.Get("limit"), s.AuditLimit)
	if !ok {
		return
	}
	if limit <= 0 || limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	records, err := s.Audit.ListActions(r.Context(), strings.TrimSpace(q.Get("queueId")), int64(limit))
	if err != nil {
		s.Logger.Error("list audit records", "error", err)
		writeError(w, http.StatusInternalServerError, errInternal, "could not read audit log")
		return
	}
	if records == nil {
		records = []db.ActionRecord{}
	}
	writeData(w, http.StatusOK, records)
}

func (s *Server) brokerError(w http.ResponseWriter, op, queueID string, err error) {
	s.Logger.Error("operation failed", "operation", op, "queue_id", queueID, "error", err)
	writeError(w, http.StatusBadGateway, errBroker, err.Error())
}

func parseLimit(w http.ResponseWriter, raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, errInvalidQuery, "limit must be an integer")
		return 0, false
	}
	return n, true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, http.StatusBadRequest, errInvalidBody, "invalid JSON body: "+err.Error())
		return false
	}

	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, errInvalidBody, "invalid JSON body: trailing data")
		return false
	}
	return true
}

type response struct {
	Data   any        `json:"data"`
	Errors []apiError `json:"errors,omitempty"`
}

type apiError struct {
	Code   string `json:"code"`
	Detail string `json:"detail"`
}

func writeData(w http.ResponseWriter, status int, data any) {
	writeJSON(w, status, response{Data: data})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, response{Errors: []apiError{{Code: code, Detail: detail}}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
