package session

import (
	"fmt"
	"sort"
	"strings"
)

// ProfileSnapshot is a value copy of the user's profile facts, captured once
// per session open. Mutating the source map after the snapshot is taken has
// no effect on an open session.
type ProfileSnapshot map[string]string

// SnapshotProfile copies the given profile facts into an immutable snapshot.
func SnapshotProfile(facts map[string]string) ProfileSnapshot {
	snap := make(ProfileSnapshot, len(facts))
	for k, v := range facts {
		snap[k] = v
	}
	return snap
}

// BuildInstruction composes the persona system instruction for one session
// open from a profile snapshot and the current application context. Facts are
// rendered in sorted key order so the instruction is deterministic.
func BuildInstruction(persona string, profile ProfileSnapshot, appContext string) string {
	var b strings.Builder

	if persona = strings.TrimSpace(persona); persona != "" {
		b.WriteString(persona)
	} else {
		b.WriteString(DefaultPersona)
	}

	if len(profile) > 0 {
		b.WriteString("\n\nWhat you remember about this user:\n")
		keys := make([]string, 0, len(profile))
		for k := range profile {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if v := strings.TrimSpace(profile[k]); v != "" {
				fmt.Fprintf(&b, "- %s: %s\n", k, v)
			}
		}
	}

	if appContext = strings.TrimSpace(appContext); appContext != "" {
		b.WriteString("\nCurrent context: ")
		b.WriteString(appContext)
	}

	return b.String()
}

// DefaultPersona is the assistant persona used when the host supplies none.
const DefaultPersona = "You are Rose, a warm, attentive voice assistant. " +
	"Keep replies short and conversational; you are speaking out loud. " +
	"Use what you remember about the user naturally, without reciting it."
