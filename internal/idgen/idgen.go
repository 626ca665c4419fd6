// Package idgen generates short, prefixed, human-scannable identifiers
// for sessions, episodes, checkpoints, threads, and tool calls.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// Prefix tags the entity type an ID was generated for.
type Prefix string

const (
	PrefixSession   Prefix = "sess_"
	PrefixEpisode   Prefix = "ep_"
	PrefixCheckpoint Prefix = "cp_"
	PrefixThread    Prefix = "thread_"
	PrefixToolCall  Prefix = "tc_"
)

// shortLen is the number of hex characters taken from a UUIDv4's string
// form for most prefixes. Tool-call ids use longLen instead.
const (
	shortLen = 8
	longLen  = 12
)

// New generates an ID with the given prefix. Tool-call ids get a longer
// hex suffix than other entities; everything else uses shortLen.
func New(prefix Prefix) string {
	n := shortLen
	if prefix == PrefixToolCall {
		n = longLen
	}
	return string(prefix) + hexPrefix(n)
}

// hexPrefix returns the first n hex characters of a fresh UUIDv4's
// string form, with hyphens stripped so the result is contiguous hex.
func hexPrefix(n int) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	if n > len(raw) {
		n = len(raw)
	}
	return raw[:n]
}

// Session generates a new session id (sess_xxxxxxxx).
func Session() string { return New(PrefixSession) }

// Episode generates a new episode id (ep_xxxxxxxx).
func Episode() string { return New(PrefixEpisode) }

// Checkpoint generates a new checkpoint id (cp_xxxxxxxx).
func Checkpoint() string { return New(PrefixCheckpoint) }

// Thread generates a new thread id (thread_xxxxxxxx).
func Thread() string { return New(PrefixThread) }

// ToolCall generates a new tool-call id (tc_xxxxxxxxxxxx).
func ToolCall() string { return New(PrefixToolCall) }
