// Package envblock builds the process environment a backend module is
// launched with (spec.md §6): an ambient-variable whitelist, a set of
// fixed additions, and the OGON_* variables describing the session the
// module serves.
package envblock

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ogon-project/ogon-sessiond/internal/config"
)

// defaultPath is used when PATH does not survive the whitelist filter and
// is not supplied by Environment.Add.
const defaultPath = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"

// SessionInfo carries the per-session values injected as OGON_* variables.
type SessionInfo struct {
	SessionID  uint32
	User       string
	Domain     string
	ClientHost string
	Width      uint32
	Height     uint32
	ColorDepth uint32
}

// Build constructs a "KEY=VALUE" environment slice suitable for
// exec.Cmd.Env: ambient entries pass through only if their name is listed
// in policy.Filter, policy.Add is then overlaid, OGON_* session variables
// are always set, and PATH falls back to defaultPath if still unset.
func Build(ambient []string, policy config.EnvironmentConfig, info SessionInfo) []string {
	out := filterAmbient(ambient, policy.Filter)

	for k, v := range policy.Add {
		out[k] = v
	}

	out["OGON_SESSION_ID"] = fmt.Sprintf("%d", info.SessionID)
	out["OGON_USER"] = info.User
	out["OGON_DOMAIN"] = info.Domain
	out["OGON_CLIENT_HOST"] = info.ClientHost
	out["OGON_SCREEN_WIDTH"] = fmt.Sprintf("%d", info.Width)
	out["OGON_SCREEN_HEIGHT"] = fmt.Sprintf("%d", info.Height)
	out["OGON_COLOR_DEPTH"] = fmt.Sprintf("%d", info.ColorDepth)

	if _, ok := out["PATH"]; !ok {
		out["PATH"] = defaultPath
	}

	return toSortedSlice(out)
}

// filterAmbient keeps only the ambient "KEY=VALUE" pairs whose key
// appears in allow.
func filterAmbient(ambient []string, allow []string) map[string]string {
	allowed := make(map[string]struct{}, len(allow))
	for _, name := range allow {
		allowed[name] = struct{}{}
	}

	out := make(map[string]string, len(allowed))
	for _, kv := range ambient {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if _, ok := allowed[k]; ok {
			out[k] = v
		}
	}
	return out
}

// toSortedSlice flattens m into "KEY=VALUE" entries, sorted by key for
// deterministic output (easier to diff in logs and tests).
func toSortedSlice(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+m[k])
	}
	return out
}
