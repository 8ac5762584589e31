package backup

import (
	"context"
	"path/filepath"
	"testing"
)

func TestEstimateSizeSkipsExcludedVolumes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "app_data", "_data", "a.bin"), 100)
	writeFile(t, filepath.Join(root, "app_data", "_data", "nested", "b.bin"), 50)
	writeFile(t, filepath.Join(root, "app_logs", "_data", "c.log"), 1000)
	writeFile(t, filepath.Join(root, "metadata.db"), 7)
	writeFile(t, filepath.Join(root, "backingFsBlockDev"), 4096)

	size, err := EstimateSize(context.Background(), root, []string{"app_logs"})
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if size != 157 {
		t.Fatalf("expected 157 bytes, got %d", size)
	}

	all, err := EstimateSize(context.Background(), root, nil)
	if err != nil {
		t.Fatalf("estimate failed: %v", err)
	}
	if all != 1157 {
		t.Fatalf("expected 1157 bytes, got %d", all)
	}
}

func TestEstimateSizeEmptyRoot(t *testing.T) {
	size, err := EstimateSize(context.Background(), t.TempDir(), nil)
	if err != nil || size != 0 {
		t.Fatalf("expected 0, nil, got %d, %v", size, err)
	}
}

func TestEstimateSizeMissingRoot(t *testing.T) {
	_, err := EstimateSize(context.Background(), filepath.Join(t.TempDir(), "missing"), nil)
	if !IsKind(err, KindIO) {
		t.Fatalf("expected IOError, got %v", err)
	}
}

func TestEstimateSizeCancelled(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "v", "f"), 10)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := EstimateSize(ctx, root, nil); !IsKind(err, KindIO) {
		t.Fatalf("expected IOError on a cancelled context, got %v", err)
	}
}
