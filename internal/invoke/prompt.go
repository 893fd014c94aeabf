// ABOUTME: Prompt construction and message targeting rules
// ABOUTME: DM prompts are raw content; mention prompts carry a recent-context block

package invoke

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yashkhare0/talkto/internal/store"
)

// mentionRe matches @name tokens. Names are letters, digits,
// underscores, and interior hyphens.
var mentionRe = regexp.MustCompile(`@([A-Za-z0-9_][A-Za-z0-9_-]*)`)

// Mentions returns the distinct names mentioned in content, in order
// of first appearance. Matching is case-insensitive; the returned
// names are lowercased.
func Mentions(content string) []string {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	if len(matches) == 0 {
		return nil
	}

	seen := make(map[string]bool, len(matches))
	var names []string
	for _, m := range matches {
		name := strings.ToLower(m[1])
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// DMChannelName returns the canonical channel name for a DM between
// two participants. The pair is sorted so both sides derive the same
// name.
func DMChannelName(a, b string) string {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a > b {
		a, b = b, a
	}
	return "dm-" + a + "-" + b
}

// buildMentionPrompt formats the invocation prompt for a mentioned
// agent: a header naming the sender and channel, then the recent
// conversation in chronological order with the triggering message
// last.
func buildMentionPrompt(sender, channelName string, recent []*store.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[TalkTo] You were mentioned by %s in #%s.\n\n", sender, channelName)
	b.WriteString("Recent conversation:\n")
	for _, m := range recent {
		fmt.Fprintf(&b, "%s: %s\n", m.Sender, m.Content)
	}
	return b.String()
}

// reverseMessages flips a newest-first slice into chronological order.
func reverseMessages(msgs []*store.Message) []*store.Message {
	out := make([]*store.Message, len(msgs))
	for i, m := range msgs {
		out[len(msgs)-1-i] = m
	}
	return out
}
