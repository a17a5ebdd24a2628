package main

import (
	"io"
	"os"
	"strings"
	"testing"
)

// captureExit overrides the package-level osExit variable so that calls to
// osExit inside fn are intercepted. It returns the exit code and a boolean
// indicating whether osExit was actually called.
func captureExit(fn func()) (code int, exited bool) {
	old := osExit
	defer func() { osExit = old }()

	osExit = func(c int) {
		panic(exitSentinel(c))
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				if s, ok := r.(exitSentinel); ok {
					code = int(s)
					exited = true
				} else {
					panic(r)
				}
			}
		}()
		fn()
	}()
	return code, exited
}

func captureStderr(t *testing.T, fn func()) string {
	t.Helper()
	old := os.Stderr
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stderr = w

	fn()

	w.Close()
	os.Stderr = old
	data, _ := io.ReadAll(r)
	return string(data)
}

func TestRunRunRejectsInvalidRole(t *testing.T) {
	code, exited := captureExit(func() {
		runRun([]string{"--config", "/tmp/nonexistent-netmapper-test/pinger.yaml", "--role", "bogus"})
	})
	if !exited || code != 1 {
		t.Errorf("expected exit(1) for an invalid role, got exited=%v code=%d", exited, code)
	}
}

func TestRunRunRejectsMissingConfig(t *testing.T) {
	code, exited := captureExit(func() {
		runRun([]string{"--config", "/tmp/nonexistent-netmapper-test/pinger.yaml", "--role", "master"})
	})
	if !exited || code != 1 {
		t.Errorf("expected exit(1) for a missing config file, got exited=%v code=%d", exited, code)
	}
}

func TestRunConfigUnknownSubcommand(t *testing.T) {
	code, exited := captureExit(func() {
		captureStderr(t, func() {
			runConfig([]string{"bogus"})
		})
	})
	if !exited || code != 1 {
		t.Errorf("expected exit(1) for an unknown config subcommand, got exited=%v code=%d", exited, code)
	}
}

func TestMainPrintsUsageWithNoArgs(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"netmapper-pinger"}

	code, exited := captureExit(func() {
		main()
	})
	if !exited || code != 1 {
		t.Errorf("expected exit(1) with no arguments, got exited=%v code=%d", exited, code)
	}
}

func TestMainPrintsVersion(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"netmapper-pinger", "version"}

	_, exited := captureExit(func() {
		main()
	})
	if exited {
		t.Error("version command should not call osExit")
	}
}

func TestMainUnknownCommand(t *testing.T) {
	oldArgs := os.Args
	defer func() { os.Args = oldArgs }()
	os.Args = []string{"netmapper-pinger", "bogus"}

	code, exited := captureExit(func() {
		captureStderr(t, func() {
			main()
		})
	})
	if !exited || code != 1 {
		t.Errorf("expected exit(1) for an unknown command, got exited=%v code=%d", exited, code)
	}
}

func TestPrintUsageMentionsCommands(t *testing.T) {
	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w
	printUsage()
	w.Close()
	os.Stdout = old
	data, _ := io.ReadAll(r)
	out := string(data)
	for _, want := range []string{"run --config", "config validate", "config show", "config rollback"} {
		if !strings.Contains(out, want) {
			t.Errorf("usage output should mention %q, got:\n%s", want, out)
		}
	}
}
