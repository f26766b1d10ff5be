package commits

import (
	"fmt"
	"regexp"
	"strings"
)

// Markers identifying announcement comments. Rehydration only parses bodies
// carrying one of these, so ordinary discussion comments are never scanned.
const (
	PushMarker    = "**Commits Pushed**"
	SummaryMarker = "**Session Complete**"
)

// commitLinkRe matches one announcement line: a short SHA in backticks linked
// to the full-SHA commit URL. The full SHA in the link is the ground truth.
var commitLinkRe = regexp.MustCompile("\\[`([0-9a-f]{7,12})`\\]\\(https://github\\.com/[^/\\s]+/[^/\\s)]+/commit/([0-9a-f]{40})\\)")

// FormatAnnouncement builds the comment body announcing a batch of SHAs.
// Final summaries use the SummaryMarker so a resumed session can tell a
// completed predecessor from an interrupted one.
func FormatAnnouncement(repo string, shas []string, final bool) string {
	var b strings.Builder
	if final {
		b.WriteString(SummaryMarker)
	} else {
		b.WriteString(PushMarker)
	}
	b.WriteString("\n\n")
	for _, sha := range shas {
		fmt.Fprintf(&b, "- [`%s`](https://github.com/%s/commit/%s)\n", ShortSHA(sha), repo, sha)
	}
	return b.String()
}

// ShortSHA returns the 7-char abbreviated form.
func ShortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

// ExtractSHAs returns the full SHAs linked in one announcement comment body,
// or nil if the body is not an announcement. Lines that fail to parse are
// simply not matched; they never abort extraction.
func ExtractSHAs(body string) []string {
	if !strings.Contains(body, PushMarker) && !strings.Contains(body, SummaryMarker) {
		return nil
	}
	var shas []string
	for _, m := range commitLinkRe.FindAllStringSubmatch(body, -1) {
		shas = append(shas, m[2])
	}
	return shas
}
