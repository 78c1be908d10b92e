package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lanl/sicm-go/profile"
)

func TestProfileDumpPrintsSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.out")

	run := profile.NewRun(nil)
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := profile.WriteProfile(f, run); err != nil {
		t.Fatalf("write: %v", err)
	}
	f.Close()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"profile", "dump", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), run.ID) {
		t.Fatalf("expected output to contain run id %q, got %q", run.ID, out.String())
	}
}

func TestGuidanceValidateReportsAssignments(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guidance.txt")
	contents := "===== GUIDANCE\n1 0\n2 1\n===== END\n"
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"guidance", "validate", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "2 site assignments") {
		t.Fatalf("expected assignment count in output, got %q", out.String())
	}
}

func TestGuidanceValidateRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.txt")
	if err := os.WriteFile(path, []byte("===== GUIDANCE\nnotanumber\n===== END\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cmd := newRootCmd()
	cmd.SetArgs([]string{"guidance", "validate", path})
	if err := cmd.Execute(); err == nil {
		t.Fatalf("expected error for malformed guidance file")
	}
}
