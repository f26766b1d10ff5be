package retry

import "strings"

// Diagnosis pairs an error category with a concrete operator remediation, so
// failures surfaced on the tracker or dashboard are actionable without
// internal log access.
type Diagnosis struct {
	Category    string
	Remediation string
}

// containsAny returns a matcher that reports true when the lowercased error
// text contains any of the given substrings.
func containsAny(subs ...string) func(string) bool {
	return func(s string) bool {
		for _, sub := range subs {
			if strings.Contains(s, sub) {
				return true
			}
		}
		return false
	}
}

// taxonomy maps error text to a diagnosis. First match wins; order matters
// (more specific entries first).
var taxonomy = []struct {
	match func(string) bool
	d     Diagnosis
}{
	{
		match: containsAny("rate limit", "too many requests", "throttl", "429"),
		d: Diagnosis{
			Category:    "rate-limited",
			Remediation: "Back off and let the scheduled retry run; raise the notify interval if this recurs.",
		},
	},
	{
		match: containsAny("unauthorized", "bad credentials", "401", "403", "permission denied"),
		d: Diagnosis{
			Category:    "auth",
			Remediation: "Check GITHUB_TOKEN is set, unexpired, and has repo scope.",
		},
	},
	{
		match: containsAny("not found", "404", "no such label"),
		d: Diagnosis{
			Category:    "missing-resource",
			Remediation: "Verify the repo slug, issue number, and label names in .lh/config.yaml.",
		},
	},
	{
		match: containsAny("timeout", "deadline exceeded", "connection refused", "connection reset", "temporarily unavailable", "no such host"),
		d: Diagnosis{
			Category:    "network",
			Remediation: "Transient connectivity failure; the coordinator retries on the next tick.",
		},
	},
	{
		match: containsAny("non-fast-forward", "rejected", "fetch first"),
		d: Diagnosis{
			Category:    "push-conflict",
			Remediation: "Remote branch moved; fetch and rebase the working tree, history is append-only.",
		},
	},
	{
		match: containsAny("malformed", "unmarshal", "parse", "invalid character"),
		d: Diagnosis{
			Category:    "state-corruption",
			Remediation: "Inspect the named document under .lh/; the corrupt record was skipped, not repaired.",
		},
	},
}

// Diagnose classifies err for operator-facing reporting. Unmatched errors get
// the generic category so every failure still carries a next step.
func Diagnose(err error) Diagnosis {
	if err == nil {
		return Diagnosis{}
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range taxonomy {
		if entry.match(msg) {
			return entry.d
		}
	}
	return Diagnosis{
		Category:    "unclassified",
		Remediation: "Read the session log under .lh/logs/ for the full error context.",
	}
}
