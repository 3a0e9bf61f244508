package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/iksnae/medichat/testutil"
)

const fixtureSession = "fixture-session"

// resetFlags restores flag variables, which persist between Execute calls
func resetFlags() {
	verbose = false
	configPath = ""
	apiBase = ""
	dataDir = ""
	chatNoStream = false
	chatShowLast = 10
	historyOffline = false
	historyLimit = 0
	sessionReset = false
	format = "jsonl"
	outputDir = "./exports"
	exportOffline = false
	configInit = false
	configForce = false

	for _, c := range append(rootCmd.Commands(), rootCmd) {
		for _, name := range []string{"help", "version"} {
			if f := c.Flags().Lookup(name); f != nil {
				_ = f.Value.Set("false")
				f.Changed = false
			}
		}
	}
}

// testEnv isolates a test from the user's environment and returns a data
// directory plus a fake backend
func testEnv(t *testing.T) (string, *testutil.FakeBackend) {
	t.Helper()
	for _, key := range []string{"MEDICHAT_API_BASE", "MEDICHAT_STORE", "MEDICHAT_REDIS_URL", "MEDICHAT_DATA_DIR", "MEDICHAT_STREAM"} {
		t.Setenv(key, "")
	}
	return testutil.CreateTempDir(t), testutil.NewFakeBackend(t)
}

// seedSession stores the fixture session id in dir's state database
func seedSession(t *testing.T, dir string) string {
	t.Helper()
	testutil.CreateSQLiteFixture(t, filepath.Join(dir, "state.db"))
	return fixtureSession
}

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	return runCommandWithInput(t, "", args...)
}

func runCommandWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)

	var stdout, stderr bytes.Buffer
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetIn(strings.NewReader(input))

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}
