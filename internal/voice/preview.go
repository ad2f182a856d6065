package voice

import "strings"

// mergePreview reconciles a new preview transcription next against the
// previously accumulated preview text stable. It never regresses a
// previously stable prefix, never hands back less than stable, and
// terminates deterministically on repeated input (spec §9 Open Questions).
//
// The heuristic: find the longest run of trailing tokens of stable that is
// also a prefix of next's tokens, and splice the remainder of next onto
// stable at that point. If no overlap is found, next is treated as a
// continuation and appended with a single separating space.
func mergePreview(stable, next string) string {
	next = strings.TrimSpace(next)
	if next == "" {
		return stable
	}
	stable = strings.TrimSpace(stable)
	if stable == "" {
		return next
	}

	stableTokens := strings.Fields(stable)
	nextTokens := strings.Fields(next)

	if containsSubsequence(stableTokens, nextTokens) {
		// next carries no information stable doesn't already have.
		return stable
	}

	overlap := longestSuffixPrefixOverlap(stableTokens, nextTokens)
	if overlap == 0 {
		return stable + " " + next
	}

	merged := append(append([]string{}, stableTokens...), nextTokens[overlap:]...)
	return strings.Join(merged, " ")
}

// containsSubsequence reports whether sub appears as a contiguous run of
// tokens somewhere within a.
func containsSubsequence(a, sub []string) bool {
	if len(sub) == 0 || len(sub) > len(a) {
		return len(sub) == 0
	}
	for start := 0; start+len(sub) <= len(a); start++ {
		if tokensEqual(a[start:start+len(sub)], sub) {
			return true
		}
	}
	return false
}

// longestSuffixPrefixOverlap returns the length of the longest run of
// tokens that is simultaneously a suffix of a and a prefix of b.
func longestSuffixPrefixOverlap(a, b []string) int {
	max := len(a)
	if len(b) < max {
		max = len(b)
	}
	for n := max; n > 0; n-- {
		if tokensEqual(a[len(a)-n:], b[:n]) {
			return n
		}
	}
	return 0
}

func tokensEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
