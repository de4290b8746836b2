package main

import (
	"bytes"
	"io"
	"os"
	"strings"
	"testing"
)

// captureStdout redirects os.Stdout for the duration of fn and returns
// everything written to it.
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	orig := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = orig }()

	fn()

	w.Close()
	var buf bytes.Buffer
	io.Copy(&buf, r)
	return buf.String()
}

func TestRunCLIUnknownSubcommandReturnsFalse(t *testing.T) {
	if RunCLI([]string{"bogus"}) {
		t.Fatal("RunCLI should return false for an unrecognized subcommand")
	}
}

func TestRunCLINoArgsReturnsFalse(t *testing.T) {
	if RunCLI(nil) {
		t.Fatal("RunCLI should return false with no arguments")
	}
}

func TestRunCLIVersionPrintsVersion(t *testing.T) {
	out := captureStdout(t, func() {
		if !RunCLI([]string{"version"}) {
			t.Fatal("RunCLI(version) should return true")
		}
	})
	if !strings.Contains(out, Version) {
		t.Errorf("output %q does not contain version %q", out, Version)
	}
}

func TestRunCLITestSourceReportsBadAddress(t *testing.T) {
	out := captureStdout(t, func() {
		if !RunCLI([]string{"testsource", "--mixer-addr", "not-an-address"}) {
			t.Fatal("RunCLI(testsource) should return true even on a resolve error")
		}
	})
	if !strings.Contains(out, "error resolving mixer address") {
		t.Errorf("expected a resolve error, got %q", out)
	}
}

func TestRunCLIStatusReportsConfig(t *testing.T) {
	out := captureStdout(t, func() {
		if !RunCLI([]string{"status", "--listen-port", "9191"}) {
			t.Fatal("RunCLI(status) should return true")
		}
	})
	if !strings.Contains(out, "9191") {
		t.Errorf("status output missing overridden listen port: %q", out)
	}
	if !strings.Contains(out, "(none)") {
		t.Errorf("status output should report unset domain server address as (none): %q", out)
	}
}
