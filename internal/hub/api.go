// ABOUTME: HTTP API handlers for agent lifecycle, channels, and messages
// ABOUTME: POST /api/messages persists, broadcasts, then fires invocations

package hub

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yashkhare0/talkto/internal/invoke"
	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

// RegisterAgentRequest is the JSON request body for POST /api/agents/register.
type RegisterAgentRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// ConnectAgentRequest is the JSON request body for POST /api/agents/connect.
type ConnectAgentRequest struct {
	Name      string `json:"name"`
	SessionID string `json:"session_id"`
	ServerURL string `json:"server_url,omitempty"`
	Project   string `json:"project,omitempty"`
}

// AgentNameRequest is the JSON request body for disconnect and heartbeat.
type AgentNameRequest struct {
	Name string `json:"name"`
}

// AgentResponse is the JSON shape for a roster entry.
type AgentResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Status    string `json:"status"`
	IsGhost   bool   `json:"is_ghost"`
	Project   string `json:"project,omitempty"`
	LastSeen  string `json:"last_seen,omitempty"`
	CreatedAt string `json:"created_at"`
}

// CreateChannelRequest is the JSON request body for POST /api/channels.
type CreateChannelRequest struct {
	Name string `json:"name"`
}

// DMRequest is the JSON request body for POST /api/dm.
type DMRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// ChannelResponse is the JSON shape for a channel.
type ChannelResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
}

// PostMessageRequest is the JSON request body for POST /api/messages.
// ClientMsgID, when set, dedupes UI retries: a repeated id is
// acknowledged without persisting or invoking again.
type PostMessageRequest struct {
	ChannelID   string `json:"channel_id"`
	Sender      string `json:"sender"`
	Content     string `json:"content"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
}

// PostMessageResponse is the JSON response for POST /api/messages.
type PostMessageResponse struct {
	Message   MessageJSON `json:"message"`
	Duplicate bool        `json:"duplicate,omitempty"`
}

// ChannelMessagesResponse is the JSON response for channel history.
type ChannelMessagesResponse struct {
	ChannelID string        `json:"channel_id"`
	Messages  []MessageJSON `json:"messages"`
}

// routes builds the hub's HTTP mux.
func (h *Hub) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/agents/register", h.handleRegisterAgent)
	mux.HandleFunc("POST /api/agents/connect", h.handleConnectAgent)
	mux.HandleFunc("POST /api/agents/disconnect", h.handleDisconnectAgent)
	mux.HandleFunc("POST /api/agents/heartbeat", h.handleHeartbeat)
	mux.HandleFunc("GET /api/agents", h.handleListAgents)

	mux.HandleFunc("GET /api/channels", h.handleListChannels)
	mux.HandleFunc("POST /api/channels", h.handleCreateChannel)
	mux.HandleFunc("POST /api/dm", h.handleEnsureDM)

	mux.HandleFunc("POST /api/messages", h.handlePostMessage)
	mux.HandleFunc("GET /api/channels/{id}/messages", h.handleChannelMessages)

	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /health/ready", h.handleReady)
	mux.HandleFunc("GET /ws", h.handleWS)

	return mux
}

// handleRegisterAgent handles POST /api/agents/register.
// Registration is idempotent: re-registering an existing name returns
// the existing agent with 200 instead of 201.
func (h *Hub) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	var req RegisterAgentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if !validAgentKind(req.Kind) {
		h.sendJSONError(w, http.StatusBadRequest, fmt.Sprintf("invalid kind %q", req.Kind))
		return
	}

	agent := &store.Agent{
		ID:     uuid.New().String(),
		Name:   req.Name,
		Kind:   req.Kind,
		Status: store.AgentStatusOffline,
	}

	err := h.store.CreateAgent(r.Context(), agent)
	if errors.Is(err, store.ErrDuplicate) {
		existing, getErr := h.store.GetAgentByName(r.Context(), req.Name)
		if getErr != nil {
			h.logger.Error("failed to load existing agent", "agent", req.Name, "error", getErr)
			h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, h.agentResponse(existing))
		return
	}
	if err != nil {
		h.logger.Error("failed to register agent", "agent", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("agent registered", "agent", req.Name, "kind", req.Kind)
	h.writeJSON(w, http.StatusCreated, h.agentResponse(agent))
}

// handleConnectAgent handles POST /api/agents/connect: attaches a live
// session reference to a registered agent and broadcasts it online.
func (h *Hub) handleConnectAgent(w http.ResponseWriter, r *http.Request) {
	var req ConnectAgentRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" || req.SessionID == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name and session_id are required")
		return
	}

	err := h.store.UpdateAgentSession(r.Context(), req.Name, req.SessionID, req.ServerURL, req.Project)
	if errors.Is(err, store.ErrNotFound) {
		h.sendJSONError(w, http.StatusNotFound, "agent not registered")
		return
	}
	if err != nil {
		h.logger.Error("failed to connect agent", "agent", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if agent, getErr := h.store.GetAgentByName(r.Context(), req.Name); getErr == nil {
		h.markSession(agent.Kind, req.SessionID, true)
	}

	h.logger.Info("agent connected",
		"agent", req.Name,
		"session_id", req.SessionID,
		"server_url", req.ServerURL,
	)
	h.broadcaster.Publish(AgentStatusEvent(req.Name, store.AgentStatusOnline))
	w.WriteHeader(http.StatusNoContent)
}

// handleDisconnectAgent handles POST /api/agents/disconnect: clears the
// session reference and broadcasts the agent offline.
func (h *Hub) handleDisconnectAgent(w http.ResponseWriter, r *http.Request) {
	var req AgentNameRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	// Capture the session before it is cleared so its alive mark can
	// be dropped too.
	agent, err := h.store.GetAgentByName(r.Context(), req.Name)
	if errors.Is(err, store.ErrNotFound) {
		h.sendJSONError(w, http.StatusNotFound, "agent not registered")
		return
	}
	if err != nil {
		h.logger.Error("failed to load agent", "agent", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if err := h.store.ClearAgentSession(r.Context(), req.Name); err != nil {
		h.logger.Error("failed to disconnect agent", "agent", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if agent.HasSession() {
		h.markSession(agent.Kind, agent.SessionID, false)
	}

	h.logger.Info("agent disconnected", "agent", req.Name)
	h.broadcaster.Publish(AgentStatusEvent(req.Name, store.AgentStatusOffline))
	w.WriteHeader(http.StatusNoContent)
}

// markSession records an alive or dead mark for providers whose
// liveness is local bookkeeping. Clients without owned marks (opencode
// is probed, the system agent has no client) are left alone.
func (h *Hub) markSession(kind, sessionID string, alive bool) {
	client, ok := h.clients.For(kind)
	if !ok || sessionID == "" {
		return
	}
	marker, ok := client.(provider.SessionMarker)
	if !ok {
		return
	}
	if alive {
		marker.MarkAlive(sessionID)
	} else {
		marker.MarkDead(sessionID)
	}
}

// handleHeartbeat handles POST /api/agents/heartbeat: bumps last_seen.
func (h *Hub) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req AgentNameRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}

	err := h.store.TouchAgent(r.Context(), req.Name)
	if errors.Is(err, store.ErrNotFound) {
		h.sendJSONError(w, http.StatusNotFound, "agent not registered")
		return
	}
	if err != nil {
		h.logger.Error("failed to record heartbeat", "agent", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleListAgents handles GET /api/agents: the roster with ghost
// status from the cache (never a live provider probe).
func (h *Hub) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.store.ListAgents(r.Context())
	if err != nil {
		h.logger.Error("failed to list agents", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		response = append(response, h.agentResponse(a))
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *Hub) agentResponse(a *store.Agent) AgentResponse {
	resp := AgentResponse{
		ID:        a.ID,
		Name:      a.Name,
		Kind:      a.Kind,
		Status:    a.Status,
		IsGhost:   h.ghosts.Ghost(a.Name),
		Project:   a.Project,
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
	if a.LastSeen != nil {
		resp.LastSeen = a.LastSeen.Format(time.RFC3339)
	}
	return resp
}

// handleListChannels handles GET /api/channels.
func (h *Hub) handleListChannels(w http.ResponseWriter, r *http.Request) {
	channels, err := h.store.ListChannels(r.Context())
	if err != nil {
		h.logger.Error("failed to list channels", "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]ChannelResponse, 0, len(channels))
	for _, ch := range channels {
		response = append(response, channelResponse(ch))
	}
	h.writeJSON(w, http.StatusOK, response)
}

// handleCreateChannel handles POST /api/channels.
func (h *Hub) handleCreateChannel(w http.ResponseWriter, r *http.Request) {
	var req CreateChannelRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	req.Name = strings.ToLower(strings.TrimSpace(req.Name))
	if req.Name == "" {
		h.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	if strings.HasPrefix(req.Name, "dm-") {
		h.sendJSONError(w, http.StatusBadRequest, "dm- prefix is reserved, use POST /api/dm")
		return
	}

	ch := &store.Channel{
		ID:   uuid.New().String(),
		Name: req.Name,
		Kind: store.ChannelKindChannel,
	}
	err := h.store.CreateChannel(r.Context(), ch)
	if errors.Is(err, store.ErrDuplicate) {
		existing, getErr := h.store.GetChannelByName(r.Context(), req.Name)
		if getErr != nil {
			h.logger.Error("failed to load existing channel", "channel", req.Name, "error", getErr)
			h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, channelResponse(existing))
		return
	}
	if err != nil {
		h.logger.Error("failed to create channel", "channel", req.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("channel created", "channel", req.Name)
	h.writeJSON(w, http.StatusCreated, channelResponse(ch))
}

// handleEnsureDM handles POST /api/dm: creates (or returns) the
// canonical DM channel between two participants.
func (h *Hub) handleEnsureDM(w http.ResponseWriter, r *http.Request) {
	var req DMRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	a := strings.ToLower(strings.TrimSpace(req.A))
	b := strings.ToLower(strings.TrimSpace(req.B))
	if a == "" || b == "" {
		h.sendJSONError(w, http.StatusBadRequest, "a and b are required")
		return
	}
	if a == b {
		h.sendJSONError(w, http.StatusBadRequest, "cannot open a dm with yourself")
		return
	}

	name := invoke.DMChannelName(a, b)
	ch := &store.Channel{
		ID:   uuid.New().String(),
		Name: name,
		Kind: store.ChannelKindDM,
	}
	err := h.store.CreateChannel(r.Context(), ch)
	if errors.Is(err, store.ErrDuplicate) {
		existing, getErr := h.store.GetChannelByName(r.Context(), name)
		if getErr != nil {
			h.logger.Error("failed to load existing dm", "channel", name, "error", getErr)
			h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		h.writeJSON(w, http.StatusOK, channelResponse(existing))
		return
	}
	if err != nil {
		h.logger.Error("failed to create dm", "channel", name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.logger.Info("dm created", "channel", name)
	h.writeJSON(w, http.StatusCreated, channelResponse(ch))
}

// handlePostMessage handles POST /api/messages. Order matters: dedupe,
// persist, broadcast, then fire invocations. The response never waits
// on agent work.
func (h *Hub) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeJSON(r.Body, &req); err != nil {
		h.sendJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.ChannelID == "" || req.Sender == "" {
		h.sendJSONError(w, http.StatusBadRequest, "channel_id and sender are required")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		h.sendJSONError(w, http.StatusBadRequest, "content is required")
		return
	}

	channel, err := h.store.GetChannel(r.Context(), req.ChannelID)
	if errors.Is(err, store.ErrNotFound) {
		h.sendJSONError(w, http.StatusNotFound, "channel not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load channel", "channel_id", req.ChannelID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if req.ClientMsgID != "" && h.seen.Seen(req.ClientMsgID) {
		h.logger.Debug("duplicate message ignored", "client_msg_id", req.ClientMsgID)
		h.writeJSON(w, http.StatusOK, PostMessageResponse{Duplicate: true})
		return
	}

	msg := &store.Message{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		Sender:    req.Sender,
		Content:   req.Content,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.SaveMessage(r.Context(), msg); err != nil {
		// The id was marked seen before the save; release it so a
		// retry is not swallowed as a duplicate of a lost message.
		if req.ClientMsgID != "" {
			h.seen.Forget(req.ClientMsgID)
		}
		h.logger.Error("failed to save message", "channel", channel.Name, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	h.broadcaster.Publish(NewMessageEvent(msg))
	h.orchestrator.InvokeForMessage(msg, channel)

	h.writeJSON(w, http.StatusCreated, PostMessageResponse{Message: messageJSON(msg)})
}

// handleChannelMessages handles GET /api/channels/{id}/messages.
// Returns history in chronological order, optionally limited by ?limit=N.
func (h *Hub) handleChannelMessages(w http.ResponseWriter, r *http.Request) {
	channelID := r.PathValue("id")

	// Parse optional limit parameter (default 50, max 1000)
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			h.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
		if limit > 1000 {
			limit = 1000
		}
	}

	if _, err := h.store.GetChannel(r.Context(), channelID); errors.Is(err, store.ErrNotFound) {
		h.sendJSONError(w, http.StatusNotFound, "channel not found")
		return
	} else if err != nil {
		h.logger.Error("failed to load channel", "channel_id", channelID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	messages, err := h.store.ListMessages(r.Context(), channelID, limit)
	if err != nil {
		h.logger.Error("failed to list messages", "channel_id", channelID, "error", err)
		h.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := ChannelMessagesResponse{
		ChannelID: channelID,
		Messages:  make([]MessageJSON, len(messages)),
	}
	for i, msg := range messages {
		response.Messages[i] = messageJSON(msg)
	}
	h.writeJSON(w, http.StatusOK, response)
}

// handleHealth handles GET /health.
func (h *Hub) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady handles GET /health/ready: ready once the store answers.
func (h *Hub) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := h.store.ListChannels(r.Context()); err != nil {
		h.sendJSONError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func channelResponse(ch *store.Channel) ChannelResponse {
	return ChannelResponse{
		ID:        ch.ID,
		Name:      ch.Name,
		Kind:      ch.Kind,
		CreatedAt: ch.CreatedAt.Format(time.RFC3339),
	}
}

func validAgentKind(kind string) bool {
	switch kind {
	case store.AgentKindOpenCode, store.AgentKindClaude, store.AgentKindCodex, store.AgentKindSystem:
		return true
	}
	return false
}

// decodeJSON decodes a JSON request body, normalizing decode failures
// into a client-presentable error.
func decodeJSON(r io.Reader, v any) error {
	if err := json.NewDecoder(r).Decode(v); err != nil {
		return errors.New("invalid JSON body")
	}
	return nil
}

// writeJSON writes a JSON response with the given status.
func (h *Hub) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (h *Hub) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
