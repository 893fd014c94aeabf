// ABOUTME: Shared test fakes for the invoke package
// ABOUTME: Provides a scriptable provider client and a recording notifier

package invoke

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

// fakeClient is a scriptable provider.Client.
type fakeClient struct {
	mu         sync.Mutex
	alive      bool
	busy       bool
	result     *provider.Result
	err        error
	panics        bool
	signalsTyping bool          // when set, fires OnTypingStart like a real provider
	blockUntil    chan struct{} // when non-nil, PromptWithEvents blocks until closed
	deltas        []string      // deltas to emit before returning

	aliveCalls int
	prompts    []string
}

func (f *fakeClient) IsAlive(_ context.Context, _ provider.Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliveCalls++
	return f.alive
}

func (f *fakeClient) IsBusy(_ context.Context, _ provider.Ref) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.busy
}

func (f *fakeClient) Prompt(ctx context.Context, ref provider.Ref, prompt string) (*provider.Result, error) {
	return f.PromptWithEvents(ctx, ref, prompt, provider.StreamCallbacks{})
}

func (f *fakeClient) PromptWithEvents(ctx context.Context, _ provider.Ref, prompt string, cb provider.StreamCallbacks) (*provider.Result, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, prompt)
	block := f.blockUntil
	deltas := f.deltas
	panics := f.panics
	signalsTyping := f.signalsTyping
	result, err := f.result, f.err
	f.mu.Unlock()

	if panics {
		panic("fake client exploded")
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if signalsTyping && cb.OnTypingStart != nil {
		cb.OnTypingStart()
	}

	for _, d := range deltas {
		if cb.OnTextDelta != nil {
			cb.OnTextDelta(d)
		}
	}
	return result, err
}

func (f *fakeClient) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeClient) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type typingEvent struct {
	agent     string
	channelID string
	isTyping  bool
	errMsg    string
}

type deltaEvent struct {
	agent     string
	channelID string
	text      string
}

// fakeNotifier records notifications and exposes channels for
// select-with-timeout assertions.
type fakeNotifier struct {
	mu      sync.Mutex
	typings []typingEvent
	deltas  []deltaEvent

	msgCh    chan *store.Message
	typingCh chan typingEvent
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		msgCh:    make(chan *store.Message, 64),
		typingCh: make(chan typingEvent, 64),
	}
}

func (n *fakeNotifier) NewMessage(msg *store.Message) {
	n.msgCh <- msg
}

func (n *fakeNotifier) Typing(agent, channelID string, isTyping bool, errMsg string) {
	ev := typingEvent{agent: agent, channelID: channelID, isTyping: isTyping, errMsg: errMsg}
	n.mu.Lock()
	n.typings = append(n.typings, ev)
	n.mu.Unlock()
	n.typingCh <- ev
}

func (n *fakeNotifier) StreamDelta(agent, channelID, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.deltas = append(n.deltas, deltaEvent{agent: agent, channelID: channelID, text: text})
}

func (n *fakeNotifier) typingFor(agent string) []typingEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []typingEvent
	for _, ev := range n.typings {
		if ev.agent == agent {
			out = append(out, ev)
		}
	}
	return out
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedAgent(t *testing.T, s store.Store, name, kind, sessionID string) {
	t.Helper()
	require.NoError(t, s.CreateAgent(t.Context(), &store.Agent{
		ID:   uuid.New().String(),
		Name: name,
		Kind: kind,
	}))
	if sessionID != "" {
		require.NoError(t, s.UpdateAgentSession(t.Context(), name, sessionID, "http://localhost:4096", "talkto"))
	}
}

func seedChannel(t *testing.T, s store.Store, name, kind string) *store.Channel {
	t.Helper()
	ch := &store.Channel{ID: uuid.New().String(), Name: name, Kind: kind}
	require.NoError(t, s.CreateChannel(t.Context(), ch))
	return ch
}

func postMessage(t *testing.T, s store.Store, ch *store.Channel, sender, content string) *store.Message {
	t.Helper()
	msg := &store.Message{
		ID:        uuid.New().String(),
		ChannelID: ch.ID,
		Sender:    sender,
		Content:   content,
	}
	require.NoError(t, s.SaveMessage(t.Context(), msg))
	return msg
}
