package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vnykmshr/capflow/internal/sim"
	"github.com/vnykmshr/capflow/internal/testutil"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := execute(t, "version")
	testutil.AssertNoError(t, err)
	testutil.AssertEqual(t, out, "capflow "+Version+"\n")
}

func TestConfigCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "capflow.yaml")
	testutil.AssertNoError(t, os.WriteFile(path, []byte("queue:\n  batch_size: 7\n"), 0o600))
	t.Setenv("CAPFLOW_PRODUCER_ON_FULL", "drop")

	out, err := execute(t, "config", "--config", path)
	testutil.AssertNoError(t, err)

	for _, want := range []string{"batch_size: 7", "on_full: drop"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestConfigCommandInvalid(t *testing.T) {
	t.Setenv("CAPFLOW_LOGGING_LEVEL", "loud")

	_, err := execute(t, "config")
	testutil.AssertError(t, err)
	if !strings.Contains(err.Error(), "logging.level") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "--json",
		"--log-level", "error",
		"--queue-capacity", "-1",
		"--batch-size", "10",
		"--capacity", "100",
		"--interval", "20ms",
		"--producers", "2",
		"--groups", "2",
		"--group-size", "10",
	)
	testutil.AssertNoError(t, err)

	var report sim.Report
	testutil.AssertNoError(t, json.Unmarshal([]byte(out), &report))
	testutil.AssertEqual(t, report.Generated, int64(40))
	testutil.AssertEqual(t, report.Written, int64(40))
}
