package backup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// EstimateFunc computes the bytes a run will transfer.
type EstimateFunc func(ctx context.Context, volumeRoot string, excluded []string) (uint64, error)

// EstimateSize sums the sizes of regular files under every immediate child of
// volumeRoot, skipping children named in excluded or PolicyExclusions. Each
// child is walked on its own goroutine.
func EstimateSize(ctx context.Context, volumeRoot string, excluded []string) (uint64, error) {
	entries, err := os.ReadDir(volumeRoot)
	if err != nil {
		return 0, wrapError(KindIO, "", err, "failed to read volume directory %s", volumeRoot)
	}

	skip := make(map[string]struct{}, len(excluded)+len(PolicyExclusions))
	for _, name := range excluded {
		skip[name] = struct{}{}
	}
	for _, name := range PolicyExclusions {
		skip[name] = struct{}{}
	}

	var total atomic.Uint64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())

	for _, entry := range entries {
		if _, ok := skip[entry.Name()]; ok {
			continue
		}
		child := filepath.Join(volumeRoot, entry.Name())
		g.Go(func() error {
			size, err := treeSize(gctx, child)
			if err != nil {
				return err
			}
			total.Add(size)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	return total.Load(), nil
}

func treeSize(ctx context.Context, root string) (uint64, error) {
	var size uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return wrapError(KindIO, "", err, "failed to read %s", path)
		}
		if err := ctx.Err(); err != nil {
			return wrapError(KindIO, "", err, "size estimation cancelled")
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return wrapError(KindIO, "", err, "failed to stat %s", path)
		}
		size += uint64(info.Size())
		return nil
	})
	return size, err
}
