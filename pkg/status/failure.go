package status

import (
	"fmt"
	"strings"

	"github.com/3leaps/batchlens/pkg/record"
)

// MaxReasonRunes bounds the length of a failure reason.
const MaxReasonRunes = 180

// FailureReason explains the most recent concluded, unsuccessful attempt.
//
// The candidate with the latest ReceivedAt wins; ties (including missing
// timestamps) go to the higher attempt ID. The reason is the first line of
// the attempt's stderr, or a synthesized exit/outcome string when stderr is
// blank. ok is false when no attempt failed.
func FailureReason(attempts []record.Attempt) (reason string, ok bool) {
	var latest *record.Attempt
	for i := range attempts {
		a := &attempts[i]
		if a.ServerState != record.ServerStateOver || a.Outcome == record.OutcomeSuccess {
			continue
		}
		if latest == nil || newer(a, latest) {
			latest = a
		}
	}
	if latest == nil {
		return "", false
	}

	if line := firstLine(latest.Stderr, MaxReasonRunes); line != "" {
		return line, true
	}
	return fmt.Sprintf("exit_status=%d outcome=%d", latest.ExitStatus, int(latest.Outcome)), true
}

func newer(a, b *record.Attempt) bool {
	if a.ReceivedAt != b.ReceivedAt {
		return a.ReceivedAt > b.ReceivedAt
	}
	return a.ID > b.ID
}

func firstLine(s string, limit int) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSpace(s)

	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit]) + "…"
	}
	return s
}
