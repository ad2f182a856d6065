package permission

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
)

// maxPurposeLength bounds the total length of a generated purpose string so
// prompts stay readable and never leak large payloads.
const maxPurposeLength = 160

// maxArgSummaryValueLength truncates any single argument value shown in the
// purpose string.
const maxArgSummaryValueLength = 24

// redactedKeySubstrings names argument keys whose values are never shown,
// even truncated (spec §9: "never include raw free-text arguments, paths,
// or URLs beyond host and short path").
var redactedKeySubstrings = []string{
	"password", "secret", "token", "key", "auth", "credential", "ssn", "ein",
}

// BuildPurpose builds the user-visible purpose string shown in a permission
// prompt from a tool name and its raw JSON arguments. The argument summary
// is truncated and filtered by key name; URLs are reduced to host plus a
// short path, and filesystem paths are reduced to their base name.
func BuildPurpose(tool, argsJSON string) string {
	summary := summarizeArgs(argsJSON)
	purpose := tool
	if summary != "" {
		purpose = fmt.Sprintf("%s (%s)", tool, summary)
	}
	if len(purpose) > maxPurposeLength {
		purpose = purpose[:maxPurposeLength-1] + "…"
	}
	return purpose
}

func summarizeArgs(argsJSON string) string {
	if strings.TrimSpace(argsJSON) == "" {
		return ""
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(argsJSON), &raw); err != nil {
		return ""
	}

	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		if isRedactedKey(k) {
			continue
		}
		val := redactValue(k, raw[k])
		if val == "" {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%s", k, val))
	}
	return strings.Join(parts, ", ")
}

func isRedactedKey(key string) bool {
	lower := strings.ToLower(key)
	for _, substr := range redactedKeySubstrings {
		if strings.Contains(lower, substr) {
			return true
		}
	}
	return false
}

// redactValue renders a single scalar leaf for display, reducing URLs to
// host+short-path and filesystem paths to their base name, and truncating
// everything else.
func redactValue(key string, v any) string {
	switch val := v.(type) {
	case string:
		return redactString(val)
	case bool:
		if val {
			return "true"
		}
		return "false"
	case float64:
		return truncate(fmt.Sprintf("%g", val), maxArgSummaryValueLength)
	default:
		// Objects, arrays, and null carry no safe scalar summary.
		return ""
	}
}

func redactString(s string) string {
	if u, err := url.Parse(s); err == nil && u.Scheme != "" && u.Host != "" {
		short := u.Path
		if len(short) > 16 {
			short = short[:16] + "…"
		}
		return truncate(u.Host+short, maxArgSummaryValueLength)
	}
	if idx := strings.LastIndexAny(s, "/\\"); idx >= 0 && idx < len(s)-1 {
		return truncate("…/"+s[idx+1:], maxArgSummaryValueLength)
	}
	return truncate(s, maxArgSummaryValueLength)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
