package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"foursight.local/orchestrator/internal/ids"
	"foursight.local/orchestrator/internal/orchestrator"
	"foursight.local/orchestrator/internal/session"
	"foursight.local/orchestrator/internal/types"
)

const (
	maxRequestBytes   int64 = 1 << 20
	maxChatFrameBytes int64 = 1 << 20
)

type server struct {
	logger     *log.Logger
	controller *orchestrator.Controller
	hub        *Hub
	remote     map[string]bool
	storeName  string
}

type Option func(*server)

// WithHub streams workflow events to chat sockets.
func WithHub(h *Hub) Option {
	return func(s *server) {
		s.hub = h
	}
}

// WithRemoteWorkers marks the workers served over HTTP in /v1/frameworks.
func WithRemoteWorkers(workerIDs []string) Option {
	return func(s *server) {
		for _, id := range workerIDs {
			s.remote[id] = true
		}
	}
}

func WithStoreName(name string) Option {
	return func(s *server) {
		s.storeName = name
	}
}

func NewServer(logger *log.Logger, addr string, controller *orchestrator.Controller, opts ...Option) *http.Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	h := &server{
		logger:     logger,
		controller: controller,
		remote:     make(map[string]bool),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.HandleFunc("GET /v1/frameworks", h.handleFrameworks)
	mux.HandleFunc("POST /v1/sessions", h.handleCreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.handleGetSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", h.handleMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/selection", h.handleSelection)
	mux.HandleFunc("POST /v1/sessions/{id}/answers", h.handleAnswer)
	mux.HandleFunc("GET /v1/sessions/{id}/next-question", h.handleNextQuestion)
	mux.HandleFunc("GET /v1/sessions/{id}/ws", h.handleChatWS)

	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	remote := make([]string, 0, len(s.remote))
	for id := range s.remote {
		remote = append(remote, id)
	}
	sort.Strings(remote)
	writeJSON(w, http.StatusOK, types.HealthResponse{OK: true, Store: s.storeName, RemoteWorkers: remote})
}

func (s *server) handleFrameworks(w http.ResponseWriter, _ *http.Request) {
	frameworks := s.controller.Frameworks()
	out := make([]types.Framework, 0, len(frameworks))
	for _, f := range frameworks {
		out = append(out, types.Framework{ID: f.ID, Name: f.Name, Description: f.Description, Remote: s.remote[f.ID]})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sessionID := strings.TrimSpace(req.SessionID)
	minted := sessionID == ""
	if minted {
		sessionID = ids.New()
	}
	if !ids.Valid(sessionID) {
		s.writeError(w, fmt.Errorf("%w: %q", orchestrator.ErrInvalidSessionID, sessionID))
		return
	}

	if strings.TrimSpace(req.Text) == "" {
		if _, err := s.controller.Session(r.Context(), sessionID); err == nil {
			writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: "session_exists", Message: "A session with that id already exists."})
			return
		}
		writeJSON(w, http.StatusCreated, types.Reply{
			SessionID: sessionID,
			Phase:     string(session.PhaseAwaitingQuery),
			Message:   "Describe the decision you're facing and I'll pick the frameworks to analyze it.",
		})
		return
	}

	start := s.controller.HandleMessage
	if minted {
		start = s.controller.StartSession
	}
	reply, err := start(r.Context(), sessionID, req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, reply)
}

func (s *server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.controller.Session(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req types.MessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply, err := s.controller.HandleMessage(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) handleSelection(w http.ResponseWriter, r *http.Request) {
	var req types.SelectionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply, err := s.controller.ConfirmSelection(r.Context(), r.PathValue("id"), req.Frameworks)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req types.AnswerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	reply, err := s.controller.ManageQA(r.Context(), r.PathValue("id"), req.TargetAgentName, req.Answer)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (s *server) handleNextQuestion(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	p, ok, err := s.controller.NextQuestion(r.Context(), sessionID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := types.NextQuestionResponse{SessionID: sessionID, Pending: ok}
	if ok {
		resp.Question = &types.Question{WorkerID: p.WorkerID, Text: p.Question, Index: p.Index, Total: p.Total}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleChatWS runs a conversational socket for one session. Every client
// frame gets a reply or error frame; workflow events arrive as event frames.
func (s *server) handleChatWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if !ids.Valid(sessionID) {
		s.writeError(w, fmt.Errorf("%w: %q", orchestrator.ErrInvalidSessionID, sessionID))
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: isWebSocketOriginAllowed}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("chat ws upgrade failed session_id=%s err=%v", sessionID, err)
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxChatFrameBytes)

	cc := &chatConn{conn: conn}
	if s.hub != nil {
		s.hub.add(sessionID, cc)
		defer s.hub.remove(sessionID, cc)
	}

	for {
		var frame types.ChatFrame
		if err := conn.ReadJSON(&frame); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Printf("chat ws read ended session_id=%s err=%v", sessionID, err)
			}
			return
		}

		reply, err := s.handleFrame(r.Context(), sessionID, frame)
		if err != nil {
			status, body := errorResponse(err)
			if status == http.StatusInternalServerError {
				s.logger.Printf("chat ws request failed session_id=%s action=%s err=%v", sessionID, frame.Action, err)
			}
			if sendErr := cc.send(types.ChatFrame{Action: types.ChatActionError, Error: &body}); sendErr != nil {
				return
			}
			continue
		}
		if err := cc.send(types.ChatFrame{Action: types.ChatActionReply, Reply: &reply}); err != nil {
			s.logger.Printf("chat ws write failed session_id=%s err=%v", sessionID, err)
			return
		}
	}
}

func (s *server) handleFrame(ctx context.Context, sessionID string, frame types.ChatFrame) (types.Reply, error) {
	switch frame.Action {
	case types.ChatActionMessage, "":
		return s.controller.HandleMessage(ctx, sessionID, frame.Text)
	case types.ChatActionAnswer:
		return s.controller.ManageQA(ctx, sessionID, frame.TargetAgentName, frame.Answer)
	case types.ChatActionSelect:
		return s.controller.ConfirmSelection(ctx, sessionID, frame.Frameworks)
	default:
		return types.Reply{}, fmt.Errorf("%w: %q", errUnsupportedAction, frame.Action)
	}
}

func (s *server) writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	if status == http.StatusInternalServerError {
		s.logger.Printf("request failed err=%v", err)
	}
	writeJSON(w, status, body)
}

// decodeBody reads one JSON object and writes a 400 on failure.
func decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid_json", Message: fmt.Sprintf("invalid json: %v", err)})
		return false
	}
	if dec.More() {
		writeJSON(w, http.StatusBadRequest, types.ErrorResponse{Error: "invalid_json", Message: "invalid json: trailing content"})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func isWebSocketOriginAllowed(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	parsedOrigin, err := url.Parse(origin)
	if err != nil || strings.TrimSpace(parsedOrigin.Host) == "" {
		return false
	}
	return strings.EqualFold(parsedOrigin.Host, r.Host)
}
