package envforge_test

import (
	"os"
	"path/filepath"
	"testing"

	envforge "github.com/open-dataflow/envforge"
)

func TestWorkspace_WriteAndReadFile(t *testing.T) {
	ws := envforge.NewFSWorkspace(t.TempDir())

	rel, err := ws.WriteFile("provision/base-image.json", []byte(`{"ref":"pytorch/pytorch:1.1.0"}`))
	if err != nil {
		t.Fatalf("write file: %v", err)
	}
	if rel != "provision/base-image.json" {
		t.Fatalf("unexpected relative path %q", rel)
	}

	data, err := ws.ReadFile(rel)
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	if string(data) != `{"ref":"pytorch/pytorch:1.1.0"}` {
		t.Fatalf("unexpected file contents %q", data)
	}
}

func TestWorkspace_WriteExecutableSetsMode(t *testing.T) {
	ws := envforge.NewFSWorkspace(t.TempDir())

	rel, err := ws.WriteExecutable("provision/entrypoint.sh", []byte("#!/bin/sh\nexec bash\n"))
	if err != nil {
		t.Fatalf("write executable: %v", err)
	}
	info, err := os.Stat(filepath.Join(ws.Root(), filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("stat executable: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("expected mode 0755, got %v", info.Mode().Perm())
	}
}

func TestWorkspace_ReadFileRejectsEscape(t *testing.T) {
	ws := envforge.NewFSWorkspace(t.TempDir())
	if _, err := ws.ReadFile("../outside.txt"); err == nil {
		t.Fatal("expected traversal rejection")
	}
	if _, err := ws.ReadFile("/etc/passwd"); err == nil {
		t.Fatal("expected absolute path rejection")
	}
}

func TestWorkspace_ListFilesSkipsGitDirs(t *testing.T) {
	root := t.TempDir()
	ws := envforge.NewFSWorkspace(root)
	if _, err := ws.WriteFile("toolchain/requirements.txt", []byte("numpy\n")); err != nil {
		t.Fatalf("write fixture file: %v", err)
	}
	gitDir := filepath.Join(root, "toolchain", ".git")
	if err := os.MkdirAll(gitDir, 0o750); err != nil {
		t.Fatalf("mkdir .git: %v", err)
	}
	if err := os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref: refs/heads/dev\n"), 0o600); err != nil {
		t.Fatalf("write .git file: %v", err)
	}

	files, err := ws.ListFiles()
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 || files[0] != "toolchain/requirements.txt" {
		t.Fatalf("expected only the tracked fixture file, got %v", files)
	}
}

func TestWorkspace_ListFilesMissingRoot(t *testing.T) {
	ws := envforge.NewFSWorkspace(filepath.Join(t.TempDir(), "never-created"))
	files, err := ws.ListFiles()
	if err != nil {
		t.Fatalf("list files on missing root: %v", err)
	}
	if len(files) != 0 {
		t.Fatalf("expected empty listing, got %v", files)
	}
}
