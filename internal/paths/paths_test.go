package paths

import (
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSocketPathHonorsEnvOverride(t *testing.T) {
	t.Setenv(SocketDirEnv, "/tmp/custom-termix-dir")
	assert.Equal(t, "/tmp/custom-termix-dir/default", SocketPath())
}

func TestSocketPathDefaultsToUIDScopedTmp(t *testing.T) {
	t.Setenv(SocketDirEnv, "")
	want := fmt.Sprintf("/tmp/termix-%d/default", os.Getuid())
	assert.Equal(t, want, SocketPath())
}

func TestPIDFilePathAppendsSuffix(t *testing.T) {
	assert.Equal(t, "/tmp/foo/default.pid", PIDFilePath("/tmp/foo/default"))
}

func TestDefaultSessionNamePrefersMain(t *testing.T) {
	assert.Equal(t, "main", DefaultSessionName(map[string]struct{}{}))
}

func TestDefaultSessionNameFallsBackToLowestUnusedSessionN(t *testing.T) {
	inUse := map[string]struct{}{
		"main":      {},
		"session-1": {},
		"session-3": {},
	}
	assert.Equal(t, "session-2", DefaultSessionName(inUse))
}

func TestDefaultSessionNameDoesNotReuseMainOnceAnySessionExists(t *testing.T) {
	inUse := map[string]struct{}{"work": {}}
	assert.Equal(t, "session-1", DefaultSessionName(inUse))
}
