// ABOUTME: Shared SSE /event stream for an OpenCode server instance
// ABOUTME: Fans events out to per-session subscribers via a correlation predicate

package provider

import (
	"bufio"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// sseEvent is a decoded event from the OpenCode /event stream. The
// session id appears at different nesting depths depending on the
// event type, so all known locations are captured.
type sseEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionID"`
	Properties struct {
		SessionID string `json:"sessionID"`
		Info      struct {
			ID string `json:"id"`
		} `json:"info"`
		Part struct {
			SessionID string `json:"sessionID"`
			Type      string `json:"type"`
			Text      string `json:"text"`
		} `json:"part"`
		Message struct {
			SessionID string `json:"sessionID"`
		} `json:"message"`
	} `json:"properties"`
}

// sessionID returns the event's session correlation id, checking every
// known nesting shape. Empty when the event carries none.
func (e *sseEvent) sessionID() string {
	switch {
	case e.SessionID != "":
		return e.SessionID
	case e.Properties.SessionID != "":
		return e.Properties.SessionID
	case e.Properties.Part.SessionID != "":
		return e.Properties.Part.SessionID
	case e.Properties.Message.SessionID != "":
		return e.Properties.Message.SessionID
	case e.Properties.Info.ID != "":
		return e.Properties.Info.ID
	}
	return ""
}

// partText returns the cumulative text snapshot for part-update events.
func (e *sseEvent) partText() (string, bool) {
	if e.Type == "message.part.updated" && e.Properties.Part.Type == "text" {
		return e.Properties.Part.Text, true
	}
	return "", false
}

// subscriberBufferSize is the channel buffer for each stream subscriber.
const subscriberBufferSize = 64

type sseSubscriber struct {
	sessionID string
	ch        chan sseEvent
}

// eventStream holds one long-lived SSE connection to an OpenCode
// server's /event endpoint and fans correlated events out to
// per-session subscribers.
type eventStream struct {
	logger *slog.Logger
	resp   *http.Response

	mu     sync.Mutex
	subs   map[string]*sseSubscriber // subID -> subscriber
	closed bool
}

// newEventStream connects to {serverURL}/event and starts the read loop.
func newEventStream(serverURL string, logger *slog.Logger) (*eventStream, error) {
	url := strings.TrimSuffix(serverURL, "/") + "/event"

	// Deliberately no timeout: the stream lives until closed.
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}

	s := &eventStream{
		logger: logger.With("server", serverURL),
		resp:   resp,
		subs:   make(map[string]*sseSubscriber),
	}
	go s.readLoop()
	return s, nil
}

// readLoop scans SSE data lines and dispatches decoded events.
func (s *eventStream) readLoop() {
	defer s.close()

	scanner := bufio.NewScanner(s.resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			continue
		}

		var ev sseEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		s.dispatch(ev)
	}

	if err := scanner.Err(); err != nil {
		s.logger.Debug("event stream ended", "error", err)
	}
}

// dispatch delivers an event to subscribers whose session it matches.
// Non-blocking: slow subscribers drop events.
func (s *eventStream) dispatch(ev sseEvent) {
	sid := ev.sessionID()
	if sid == "" {
		return
	}

	s.mu.Lock()
	targets := make([]chan sseEvent, 0, 1)
	for _, sub := range s.subs {
		if sub.sessionID == sid {
			targets = append(targets, sub.ch)
		}
	}
	s.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- ev:
		default:
			s.logger.Debug("dropped event for slow subscriber", "session_id", sid)
		}
	}
}

// subscribe registers interest in events for one session.
func (s *eventStream) subscribe(sessionID string) (<-chan sseEvent, string) {
	subID := uuid.New().String()
	ch := make(chan sseEvent, subscriberBufferSize)

	s.mu.Lock()
	s.subs[subID] = &sseSubscriber{sessionID: sessionID, ch: ch}
	s.mu.Unlock()

	return ch, subID
}

// unsubscribe removes a subscription and closes its channel.
func (s *eventStream) unsubscribe(subID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subID]
	if !ok {
		return
	}
	delete(s.subs, subID)
	close(sub.ch)
}

// dead reports whether the stream has shut down.
func (s *eventStream) dead() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// close shuts the connection and all subscriber channels. Idempotent.
func (s *eventStream) close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true

	_ = s.resp.Body.Close()
	for subID, sub := range s.subs {
		close(sub.ch)
		delete(s.subs, subID)
	}
}
