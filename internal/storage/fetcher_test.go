package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

func TestFetcher_Fetch(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	srcDir := t.TempDir()

	var objects []string
	for i := 0; i < 10; i++ {
		p := fmt.Sprintf("experience/tpch/part-%02d.jsonl.sz", i)
		src := writeFile(t, srcDir, fmt.Sprintf("src-%d", i), fmt.Sprintf("part %d", i))
		if err := storage.Upload(ctx, src, p); err != nil {
			t.Fatalf("Upload failed: %v", err)
		}
		objects = append(objects, p)
	}

	dir := t.TempDir()
	result := NewFetcher(storage, 3).Fetch(ctx, dir, objects)
	if err := result.Err(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.LocalPaths) != len(objects) {
		t.Fatalf("expected %d files, got %d", len(objects), len(result.LocalPaths))
	}
	data, err := os.ReadFile(result.LocalPaths[objects[7]])
	if err != nil {
		t.Fatalf("failed to read fetched file: %v", err)
	}
	if string(data) != "part 7" {
		t.Errorf("content mismatch: got %q", data)
	}
}

func TestFetcher_Errors(t *testing.T) {
	storage, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create local storage: %v", err)
	}
	ctx := context.Background()
	src := writeFile(t, t.TempDir(), "src", "x")
	if err := storage.Upload(ctx, src, "a/manifest.json"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if err := storage.Upload(ctx, src, "b/manifest.json"); err != nil {
		t.Fatalf("Upload failed: %v", err)
	}

	result := NewFetcher(storage, 0).Fetch(ctx, t.TempDir(), []string{"a/manifest.json", "b/manifest.json", "missing"})
	if len(result.LocalPaths) != 1 {
		t.Errorf("expected 1 fetched file, got %v", result.LocalPaths)
	}
	if len(result.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", result.Errors)
	}
	if !errors.Is(result.Errors["missing"], storeerrors.ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", result.Errors["missing"])
	}
	if result.Err() == nil {
		t.Error("expected aggregated error")
	}
}
