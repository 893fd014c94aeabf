// ABOUTME: Tests for the invocation orchestrator
// ABOUTME: Covers DM/mention targeting, fan-out, typing lifecycle, and failure paths

package invoke

import (
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

func newOrchestrator(t *testing.T, s store.Store, clients provider.Set, notifier Notifier) *Orchestrator {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	resolver := NewResolver(s, clients, logger)
	o := NewOrchestrator(Config{
		Store:         s,
		Resolver:      resolver,
		Tracker:       provider.NewTracker(),
		Notifier:      notifier,
		Logger:        logger,
		PromptTimeout: 5 * time.Second,
		ContextWindow: 5,
	})
	t.Cleanup(func() { o.Drain(2 * time.Second) })
	return o
}

func waitMessage(t *testing.T, n *fakeNotifier) *store.Message {
	t.Helper()
	select {
	case msg := <-n.msgCh:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for agent reply")
		return nil
	}
}

func waitTyping(t *testing.T, n *fakeNotifier) typingEvent {
	t.Helper()
	select {
	case ev := <-n.typingCh:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for typing event")
		return typingEvent{}
	}
}

func TestOrchestrator_DMInvokesCounterpartWithRawContent(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "how is the refactor going?")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "nearly done"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)

	reply := waitMessage(t, notifier)
	assert.Equal(t, "crabby", reply.Sender)
	assert.Equal(t, "nearly done", reply.Content)
	assert.Equal(t, ch.ID, reply.ChannelID)

	// DM prompts pass the content through untouched
	assert.Equal(t, 1, client.promptCount())
	assert.Equal(t, "how is the refactor going?", client.lastPrompt())

	// The reply is persisted, not just broadcast
	saved, err := s.RecentMessages(t.Context(), ch.ID, 1)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "nearly done", saved[0].Content)
}

func TestOrchestrator_MentionFanOut(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	seedAgent(t, s, "scholar", store.AgentKindOpenCode, "ses_2")
	ch := seedChannel(t, s, "general", store.ChannelKindChannel)
	postMessage(t, s, ch, "alice", "morning all")
	msg := postMessage(t, s, ch, "alice", "@crabby @scholar status?")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "on it"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)

	first := waitMessage(t, notifier)
	second := waitMessage(t, notifier)
	senders := []string{first.Sender, second.Sender}
	assert.ElementsMatch(t, []string{"crabby", "scholar"}, senders)

	// Both targets get the same context-block prompt, built before
	// either invocation ran
	require.Equal(t, 2, client.promptCount())
	client.mu.Lock()
	first1, second1 := client.prompts[0], client.prompts[1]
	client.mu.Unlock()
	assert.Equal(t, first1, second1, "fan-out targets must see identical context")

	prompt := client.lastPrompt()
	assert.Contains(t, prompt, "[TalkTo] You were mentioned by alice in #general.")
	assert.Contains(t, prompt, "alice: morning all\n")
	assert.True(t, strings.HasSuffix(prompt, "alice: @crabby @scholar status?\n"),
		"triggering message must come last: %q", prompt)
}

// A sibling that replies instantly must not leak its reply into the
// context window of a slower sibling invoked by the same message.
func TestOrchestrator_SlowSiblingSeesContextFromTriggerTime(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "fast", store.AgentKindOpenCode, "ses_1")
	seedAgent(t, s, "slow", store.AgentKindCodex, "ses_2")
	ch := seedChannel(t, s, "general", store.ChannelKindChannel)
	msg := postMessage(t, s, ch, "alice", "@fast @slow report in")

	release := make(chan struct{})
	fast := &fakeClient{alive: true, result: &provider.Result{Text: "on it"}}
	slow := &fakeClient{alive: true, blockUntil: release, result: &provider.Result{Text: "late"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{
		provider.KindOpenCode: fast,
		provider.KindCodex:    slow,
	}, notifier)

	o.InvokeForMessage(msg, ch)

	// The fast sibling's reply is persisted before the slow one runs
	reply := waitMessage(t, notifier)
	require.Equal(t, "fast", reply.Sender)

	close(release)
	o.Drain(2 * time.Second)

	prompt := slow.lastPrompt()
	assert.NotContains(t, prompt, "fast: on it")
	assert.True(t, strings.HasSuffix(prompt, "alice: @fast @slow report in\n"),
		"slow sibling's context must end at the trigger: %q", prompt)
}

// Mentions fan out inside DM channels too: the counterpart gets the
// raw content and each extra mention gets the context-block prompt.
func TestOrchestrator_DMMentionFanOut(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	seedAgent(t, s, "scholar", store.AgentKindCodex, "ses_2")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "@scholar please join us")

	crabby := &fakeClient{alive: true, result: &provider.Result{Text: "sure"}}
	scholar := &fakeClient{alive: true, result: &provider.Result{Text: "joining"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{
		provider.KindOpenCode: crabby,
		provider.KindCodex:    scholar,
	}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	require.Equal(t, 1, crabby.promptCount())
	assert.Equal(t, "@scholar please join us", crabby.lastPrompt())

	require.Equal(t, 1, scholar.promptCount())
	assert.Contains(t, scholar.lastPrompt(), "You were mentioned by alice")
}

// Mentioning the DM counterpart must not invoke it twice.
func TestOrchestrator_DMCounterpartMentionNotDoubled(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "@crabby are you there?")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "here"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	assert.Equal(t, 1, client.promptCount())
}

func TestOrchestrator_SenderNeverInvoked(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "general", store.ChannelKindChannel)
	msg := postMessage(t, s, ch, "crabby", "note to self: @crabby check the logs")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "ok"}}
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, newFakeNotifier())

	o.InvokeForMessage(msg, ch)
	o.Drain(time.Second)

	assert.Zero(t, client.promptCount(), "self-mention must not invoke the sender")
}

func TestOrchestrator_UnknownMentionReportsUnreachable(t *testing.T) {
	s := newStore(t)
	ch := seedChannel(t, s, "general", store.ChannelKindChannel)
	msg := postMessage(t, s, ch, "alice", "@nobody are you there?")

	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(time.Second)

	// The UI still learns the invocation was attempted and failed
	events := notifier.typingFor("nobody")
	require.Len(t, events, 2)
	assert.True(t, events[0].isTyping)
	assert.False(t, events[1].isTyping)
	assert.Equal(t, "nobody is not reachable", events[1].errMsg)
}

func TestOrchestrator_SlowTargetDoesNotBlockOthers(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "slow", store.AgentKindOpenCode, "ses_1")
	seedAgent(t, s, "fast", store.AgentKindCodex, "ses_2")
	ch := seedChannel(t, s, "general", store.ChannelKindChannel)
	msg := postMessage(t, s, ch, "alice", "@slow @fast go")

	release := make(chan struct{})
	slow := &fakeClient{alive: true, blockUntil: release, result: &provider.Result{Text: "finally"}}
	fast := &fakeClient{alive: true, result: &provider.Result{Text: "done"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{
		provider.KindOpenCode: slow,
		provider.KindCodex:    fast,
	}, notifier)

	o.InvokeForMessage(msg, ch)

	// The fast agent's reply lands while the slow one is still blocked
	reply := waitMessage(t, notifier)
	assert.Equal(t, "fast", reply.Sender)

	close(release)
	reply = waitMessage(t, notifier)
	assert.Equal(t, "slow", reply.Sender)
}

func TestOrchestrator_BusyAgentStillInvoked(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "one more thing")

	client := &fakeClient{alive: true, busy: true, result: &provider.Result{Text: "juggling"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)

	reply := waitMessage(t, notifier)
	assert.Equal(t, "juggling", reply.Content)
}

func TestOrchestrator_TypingLifecycle(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "pong"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	events := notifier.typingFor("crabby")
	require.Len(t, events, 2, "typing start and exactly one stop")
	assert.True(t, events[0].isTyping)
	assert.False(t, events[1].isTyping)
	assert.Empty(t, events[1].errMsg)
	assert.Equal(t, ch.ID, events[0].channelID)
}

func TestOrchestrator_ErrorStopsTypingWithMessage(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: true, err: errors.New("session exploded")}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	events := notifier.typingFor("crabby")
	require.Len(t, events, 2)
	assert.False(t, events[1].isTyping)
	assert.Equal(t, "session exploded", events[1].errMsg)

	select {
	case <-notifier.msgCh:
		t.Fatal("failed invocation must not post a reply")
	default:
	}
}

func TestOrchestrator_EmptyResultReportsNoResponse(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: true, result: &provider.Result{Text: "   "}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	events := notifier.typingFor("crabby")
	require.Len(t, events, 2)
	assert.Equal(t, "crabby did not respond", events[1].errMsg)
}

func TestOrchestrator_PanicStopsTypingOnce(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: true, panics: true}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	events := notifier.typingFor("crabby")
	require.Len(t, events, 2, "typing stop fires during unwind, exactly once")
	assert.False(t, events[1].isTyping)
}

func TestOrchestrator_StreamDeltasRelayed(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "say hello")

	client := &fakeClient{
		alive:  true,
		deltas: []string{"H", "e", "llo"},
		result: &provider.Result{Text: "Hello"},
	}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	require.Len(t, notifier.deltas, 3)
	assert.Equal(t, "H", notifier.deltas[0].text)
	assert.Equal(t, "e", notifier.deltas[1].text)
	assert.Equal(t, "llo", notifier.deltas[2].text)
	assert.Equal(t, ch.ID, notifier.deltas[0].channelID)
}

// A DM to an agent whose session is dead still produces a visible
// typing start/stop pair so the failure is not silent.
func TestOrchestrator_DeadSessionTargetReportsUnreachable(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_dead")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: false}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	assert.Zero(t, client.promptCount())

	events := notifier.typingFor("crabby")
	require.Len(t, events, 2)
	assert.True(t, events[0].isTyping)
	assert.False(t, events[1].isTyping)
	assert.Equal(t, "crabby is not reachable", events[1].errMsg)

	// The stale reference was cleared along the way
	agent, err := s.GetAgentByName(t.Context(), "crabby")
	require.NoError(t, err)
	assert.False(t, agent.HasSession())
}

// Providers that announce their own process start cause a second
// typing start; the single stop still closes the pair.
func TestOrchestrator_ProviderTypingSignalReEmitted(t *testing.T) {
	s := newStore(t)
	seedAgent(t, s, "crabby", store.AgentKindOpenCode, "ses_1")
	ch := seedChannel(t, s, "dm-alice-crabby", store.ChannelKindDM)
	msg := postMessage(t, s, ch, "alice", "ping")

	client := &fakeClient{alive: true, signalsTyping: true, result: &provider.Result{Text: "pong"}}
	notifier := newFakeNotifier()
	o := newOrchestrator(t, s, provider.Set{provider.KindOpenCode: client}, notifier)

	o.InvokeForMessage(msg, ch)
	o.Drain(2 * time.Second)

	events := notifier.typingFor("crabby")
	require.Len(t, events, 3)
	assert.True(t, events[0].isTyping)
	assert.True(t, events[1].isTyping, "provider start signal re-emits typing")
	assert.False(t, events[2].isTyping)
	assert.Empty(t, events[2].errMsg)
}
