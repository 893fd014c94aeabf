// ABOUTME: Invocation orchestrator deciding which agents a message invokes
// ABOUTME: Fire-and-forget tracked goroutines with typing/stream/new-message notifications

package invoke

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/yashkhare0/talkto/internal/provider"
	"github.com/yashkhare0/talkto/internal/store"
)

// Notifier receives invocation progress events for broadcast to UIs.
type Notifier interface {
	NewMessage(msg *store.Message)
	Typing(agentName, channelID string, isTyping bool, errMsg string)
	StreamDelta(agentName, channelID, text string)
}

// Config carries the orchestrator's collaborators and tuning.
type Config struct {
	Store         store.Store
	Resolver      *Resolver
	Tracker       *provider.Tracker
	Notifier      Notifier
	Logger        *slog.Logger
	PromptTimeout time.Duration
	ContextWindow int
}

// Orchestrator decides which agents a posted message should invoke and
// drives each invocation in a tracked background goroutine. Callers
// never block on agent work.
type Orchestrator struct {
	store         store.Store
	resolver      *Resolver
	tracker       *provider.Tracker
	notifier      Notifier
	logger        *slog.Logger
	promptTimeout time.Duration
	contextWindow int

	wg sync.WaitGroup
}

// NewOrchestrator creates an orchestrator from the given config.
func NewOrchestrator(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         cfg.Store,
		resolver:      cfg.Resolver,
		tracker:       cfg.Tracker,
		notifier:      cfg.Notifier,
		logger:        logger.With("component", "orchestrator"),
		promptTimeout: cfg.PromptTimeout,
		contextWindow: cfg.ContextWindow,
	}
}

// InvokeForMessage inspects a freshly posted message and spawns one
// background invocation per target agent. Returns immediately.
//
// Targeting rules:
//   - DM channel: the other party, with the message content untouched.
//   - Every distinct @mentioned agent not already targeted, with a
//     context-block prompt. Mentions fan out in DMs too.
//   - The sender is never a target, even when self-mentioned.
//
// The context block is built once, before any invocation starts, so
// every mention target sees the same conversation window regardless of
// how fast its siblings reply.
func (o *Orchestrator) InvokeForMessage(msg *store.Message, channel *store.Channel) {
	sender := strings.ToLower(msg.Sender)
	targeted := map[string]bool{sender: true}

	if channel.Kind == store.ChannelKindDM {
		if counterpart, ok := dmCounterpart(channel.Name, sender); ok {
			targeted[counterpart] = true
			o.spawn(counterpart, func() {
				o.invokeAgent(counterpart, msg.Content, channel)
			})
		} else {
			o.logger.Debug("dm channel has no counterpart for sender",
				"channel", channel.Name, "sender", msg.Sender)
		}
	}

	var mentioned []string
	for _, name := range Mentions(msg.Content) {
		if targeted[name] {
			continue
		}
		targeted[name] = true
		mentioned = append(mentioned, name)
	}
	if len(mentioned) == 0 {
		return
	}

	prompt, err := o.mentionPrompt(msg, channel)
	if err != nil {
		o.logger.Warn("building mention prompt failed",
			"channel", channel.Name, "error", err)
		for _, name := range mentioned {
			o.notifier.Typing(name, channel.ID, true, "")
			o.notifier.Typing(name, channel.ID, false, "could not load channel context")
		}
		return
	}

	for _, name := range mentioned {
		o.spawn(name, func() {
			o.invokeAgent(name, prompt, channel)
		})
	}
}

// mentionPrompt builds the shared context-block prompt for mention
// targets: the most recent messages in chronological order, ending
// with the triggering message.
func (o *Orchestrator) mentionPrompt(trigger *store.Message, channel *store.Channel) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recent, err := o.store.RecentMessages(ctx, channel.ID, o.contextWindow)
	if err != nil {
		return "", err
	}
	return buildMentionPrompt(trigger.Sender, channel.Name, reverseMessages(recent)), nil
}

// dmCounterpart extracts the other participant from a dm-<a>-<b>
// channel name. The sender must be one of the two parties.
func dmCounterpart(channelName, sender string) (string, bool) {
	rest, ok := strings.CutPrefix(channelName, "dm-")
	if !ok {
		return "", false
	}

	// Participant names may themselves contain hyphens, so try every
	// split point and keep the one where the sender matches a side.
	for i := 1; i < len(rest); i++ {
		if rest[i] != '-' {
			continue
		}
		a, b := rest[:i], rest[i+1:]
		switch sender {
		case a:
			return b, true
		case b:
			return a, true
		}
	}
	return "", false
}

// spawn runs fn in a tracked goroutine. Panics are logged, never
// propagated; a crashing invocation must not take the hub down.
func (o *Orchestrator) spawn(agent string, fn func()) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				o.logger.Error("invocation panicked", "agent", agent, "panic", r)
			}
		}()
		fn()
	}()
}

// Drain waits up to d for in-flight invocations to finish.
func (o *Orchestrator) Drain(d time.Duration) {
	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(d):
		o.logger.Warn("shutdown with invocations still in flight")
	}
}

// invokeAgent runs one complete invocation: announce typing, resolve,
// prompt, relay deltas, post the reply. Typing stop is emitted exactly
// once on every exit path, including panics; an unresolvable target
// stops typing with an explanatory error rather than vanishing.
func (o *Orchestrator) invokeAgent(name, prompt string, channel *store.Channel) {
	ctx, cancel := context.WithTimeout(context.Background(), o.promptTimeout)
	defer cancel()

	// Providers re-signal typing from their own goroutines, so both
	// emitters share one guard: no start after the stop has fired.
	var typingMu sync.Mutex
	stopped := false
	startTyping := func() {
		typingMu.Lock()
		defer typingMu.Unlock()
		if !stopped {
			o.notifier.Typing(name, channel.ID, true, "")
		}
	}
	stopTyping := func(errMsg string) {
		typingMu.Lock()
		defer typingMu.Unlock()
		if !stopped {
			stopped = true
			o.notifier.Typing(name, channel.ID, false, errMsg)
		}
	}

	startTyping()
	defer stopTyping("")

	target, err := o.resolver.Resolve(ctx, name)
	if err != nil {
		o.logger.Warn("resolve failed", "agent", name, "error", err)
		stopTyping(name + " is not reachable")
		return
	}
	if target == nil {
		o.logger.Debug("target did not resolve", "agent", name, "channel", channel.Name)
		stopTyping(name + " is not reachable")
		return
	}

	if o.tracker.Busy(name) || target.Client.IsBusy(ctx, target.Ref) {
		o.logger.Warn("agent busy, invoking anyway", "agent", name, "channel", channel.Name)
	}

	o.tracker.MarkBusy(name)
	defer o.tracker.ClearBusy(name)

	o.logger.Info("invoking agent",
		"agent", name,
		"kind", target.Agent.Kind,
		"channel", channel.Name,
		"session_id", target.Ref.SessionID,
	)

	result, err := target.Client.PromptWithEvents(ctx, target.Ref, prompt, provider.StreamCallbacks{
		OnTypingStart: startTyping,
		OnTextDelta: func(text string) {
			o.notifier.StreamDelta(name, channel.ID, text)
		},
	})
	if err != nil {
		o.logger.Warn("invocation failed", "agent", name, "error", err)
		stopTyping(err.Error())
		return
	}

	if result == nil || strings.TrimSpace(result.Text) == "" {
		o.logger.Warn("agent returned no text", "agent", name)
		stopTyping(name + " did not respond")
		return
	}

	reply := &store.Message{
		ID:        uuid.New().String(),
		ChannelID: channel.ID,
		Sender:    name,
		Content:   result.Text,
		CreatedAt: time.Now().UTC(),
	}

	// Fresh context: the invocation context may be near its deadline.
	saveCtx, saveCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer saveCancel()
	if err := o.store.SaveMessage(saveCtx, reply); err != nil {
		o.logger.Error("saving agent reply failed", "agent", name, "error", err)
		stopTyping("failed to save reply")
		return
	}

	o.notifier.NewMessage(reply)
	stopTyping("")

	o.logger.Info("invocation complete",
		"agent", name,
		"channel", channel.Name,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"cost", result.Cost,
	)
}
