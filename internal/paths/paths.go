// Package paths resolves the daemon's on-disk identity: where its socket
// and PID file live, and what name a newly-created session gets when the
// client doesn't ask for one by name.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// product names the fixed prefix used in the default socket directory.
const product = "termix"

// SocketDirEnv is the environment variable that, when set, overrides the
// directory containing the daemon's socket (and PID file).
const SocketDirEnv = "TERMIX_TMPDIR"

// SocketPath resolves the Unix-domain socket path: SocketDirEnv/default if
// the override is set, otherwise /tmp/termix-<uid>/default.
func SocketPath() string {
	if dir := os.Getenv(SocketDirEnv); dir != "" {
		return filepath.Join(dir, "default")
	}
	return filepath.Join(fmt.Sprintf("/tmp/%s-%d", product, os.Getuid()), "default")
}

// PIDFilePath is the socket path with a ".pid" suffix.
func PIDFilePath(socketPath string) string {
	return socketPath + ".pid"
}

// DefaultSessionName picks "main" only when no session exists at all,
// otherwise the smallest "session-<n>" (n >= 1) not already present in
// inUse — even if "main" itself happens to be free.
func DefaultSessionName(inUse map[string]struct{}) string {
	if len(inUse) == 0 {
		return "main"
	}
	for n := 1; ; n++ {
		candidate := "session-" + strconv.Itoa(n)
		if _, taken := inUse[candidate]; !taken {
			return candidate
		}
	}
}
