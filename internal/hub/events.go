// ABOUTME: Wire-level event shapes broadcast to connected UIs
// ABOUTME: Factory constructors for new_message, agent_typing, agent_stream, agent_status

package hub

import (
	"time"

	"github.com/yashkhare0/talkto/internal/store"
)

// Event types pushed over the WebSocket stream.
const (
	EventNewMessage  = "new_message"
	EventAgentTyping = "agent_typing"
	EventAgentStream = "agent_stream"
	EventAgentStatus = "agent_status"
)

// Event is a single broadcast event. Data is one of the payload
// structs below, selected by Type.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// MessageJSON is the wire shape for a persisted message.
type MessageJSON struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// NewMessagePayload is the data for a new_message event.
type NewMessagePayload struct {
	Message MessageJSON `json:"message"`
}

// AgentTypingPayload is the data for an agent_typing event. Error is
// set only on the stop event of a failed invocation.
type AgentTypingPayload struct {
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	IsTyping  bool   `json:"is_typing"`
	Error     string `json:"error,omitempty"`
}

// AgentStreamPayload is the data for an agent_stream event: one true
// delta of in-progress agent output.
type AgentStreamPayload struct {
	AgentName string `json:"agent_name"`
	ChannelID string `json:"channel_id"`
	Text      string `json:"text"`
}

// AgentStatusPayload is the data for an agent_status event.
type AgentStatusPayload struct {
	AgentName string `json:"agent_name"`
	Status    string `json:"status"`
}

func messageJSON(msg *store.Message) MessageJSON {
	return MessageJSON{
		ID:        msg.ID,
		ChannelID: msg.ChannelID,
		Sender:    msg.Sender,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Format(time.RFC3339),
	}
}

// NewMessageEvent wraps a persisted message for broadcast.
func NewMessageEvent(msg *store.Message) *Event {
	return &Event{
		Type: EventNewMessage,
		Data: NewMessagePayload{Message: messageJSON(msg)},
	}
}

// AgentTypingEvent signals that an agent started or stopped composing.
func AgentTypingEvent(agentName, channelID string, isTyping bool, errMsg string) *Event {
	return &Event{
		Type: EventAgentTyping,
		Data: AgentTypingPayload{
			AgentName: agentName,
			ChannelID: channelID,
			IsTyping:  isTyping,
			Error:     errMsg,
		},
	}
}

// AgentStreamEvent carries one delta of streaming agent output.
func AgentStreamEvent(agentName, channelID, text string) *Event {
	return &Event{
		Type: EventAgentStream,
		Data: AgentStreamPayload{
			AgentName: agentName,
			ChannelID: channelID,
			Text:      text,
		},
	}
}

// AgentStatusEvent signals an agent going online or offline.
func AgentStatusEvent(agentName, status string) *Event {
	return &Event{
		Type: EventAgentStatus,
		Data: AgentStatusPayload{
			AgentName: agentName,
			Status:    status,
		},
	}
}
