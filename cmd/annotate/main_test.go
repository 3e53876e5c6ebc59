package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const annotated = "# Notes\n\nFirst line.\n\n<!--- http://marklogic.com/annotations\n\n" +
	`[{"id":"a1","user":"ann","comment":"title","range":{"start":{"line":1,"column":2},"end":{"line":1,"column":7}},"timestamp":"2024-03-09T14:05:07.123Z"},` +
	`{"id":"b2","user":"bob","comment":"first","range":{"start":{"line":3,"column":0},"end":{"line":3,"column":5}},"timestamp":"2024-03-09T14:06:00.000Z"}]` +
	"\n\n--->"

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notes.md")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func runCLI(args ...string) (int, string, string) {
	var stdout, stderr bytes.Buffer
	code := run(args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestVersionAndUsage(t *testing.T) {
	if code, out, _ := runCLI("-version"); code != 0 || strings.TrimSpace(out) != version {
		t.Fatalf("unexpected version output code=%d out=%q", code, out)
	}
	if code, _, errOut := runCLI(); code != 2 || !strings.Contains(errOut, "usage: annotate") {
		t.Fatalf("expected usage, got code=%d stderr=%q", code, errOut)
	}
	if code, _, errOut := runCLI("explode"); code != 2 || !strings.Contains(errOut, `unknown command "explode"`) {
		t.Fatalf("expected unknown command, got code=%d stderr=%q", code, errOut)
	}
}

func TestList(t *testing.T) {
	path := writeFile(t, annotated)

	code, out, errOut := runCLI("list", path)
	if code != 0 {
		t.Fatalf("list failed: %s", errOut)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "1:2-1:7") || !strings.Contains(lines[1], "bob") {
		t.Fatalf("unexpected list output %q", out)
	}

	code, out, errOut = runCLI("list", "-user", "ann", "-where", "mine", path)
	if code != 0 {
		t.Fatalf("list -where failed: %s", errOut)
	}
	if !strings.Contains(out, "a1") || strings.Contains(out, "b2") {
		t.Fatalf("unexpected filtered output %q", out)
	}

	code, out, errOut = runCLI("list", "-engine", "cel", "-json", "-where", `user == "bob"`, path)
	if code != 0 {
		t.Fatalf("list -engine cel failed: %s", errOut)
	}
	if !strings.Contains(out, `"id": "b2"`) || strings.Contains(out, `"id": "a1"`) {
		t.Fatalf("unexpected json output %q", out)
	}

	if code, _, _ := runCLI("list", "-engine", "lua", "-where", "mine", path); code != 2 {
		t.Fatalf("expected usage error for unknown engine, got %d", code)
	}
	if code, _, _ := runCLI("list"); code != 2 {
		t.Fatalf("expected usage error without FILE, got %d", code)
	}
}

func TestStripAndCheck(t *testing.T) {
	path := writeFile(t, annotated)

	code, out, _ := runCLI("strip", path)
	if code != 0 || out != "# Notes\n\nFirst line." {
		t.Fatalf("unexpected strip output code=%d out=%q", code, out)
	}

	code, out, _ = runCLI("check", path)
	if code != 0 || !strings.Contains(out, "2 annotations") {
		t.Fatalf("unexpected check output code=%d out=%q", code, out)
	}

	broken := writeFile(t, "# Notes\n\n<!--- http://marklogic.com/annotations\n\n{not json}\n\n--->")
	code, _, errOut := runCLI("check", broken)
	if code != 1 || !strings.Contains(errOut, "malformed annotation block") {
		t.Fatalf("expected malformed block failure, got code=%d stderr=%q", code, errOut)
	}
}
