// Package hub wires the TalkTo components together and exposes them
// over HTTP.
//
// # Overview
//
// The hub owns every long-lived piece of the system: the SQLite store,
// the provider clients, the invocation orchestrator, the ghost-status
// cache, and the event broadcaster. UIs talk to it through a small
// JSON API and a WebSocket event stream.
//
// # Message flow
//
// A POST /api/messages request runs through a fixed pipeline:
//
//  1. Dedupe on the optional client_msg_id (UI retries are absorbed)
//  2. Persist the message
//  3. Broadcast new_message to every connected UI
//  4. Hand the message to the orchestrator, which decides the targets
//     (DM counterpart or @mentions) and invokes them in the background
//
// The HTTP response returns after step 4 starts; it never waits on
// agent work.
//
// # Event stream
//
// GET /ws upgrades to a WebSocket that receives every broadcast event
// as one JSON object per message:
//
//	{"type":"new_message","data":{"message":{...}}}
//	{"type":"agent_typing","data":{"agent_name":...,"is_typing":true}}
//	{"type":"agent_stream","data":{"agent_name":...,"text":"llo"}}
//	{"type":"agent_status","data":{"agent_name":...,"status":"online"}}
//
// There is a single topic: every subscriber sees every event and
// filters client-side. Slow consumers have events dropped rather than
// slowing the hub down.
//
// # Agent lifecycle
//
// Agents register once (POST /api/agents/register), then attach a live
// session with connect and detach with disconnect. The hub never
// discovers sessions on its own: a stale session reference is cleared
// when a probe fails, and the agent stays a ghost until it reconnects
// itself.
package hub
