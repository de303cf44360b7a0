package storage

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Fetcher downloads several objects in parallel into one directory.
type Fetcher struct {
	storage     ObjectStorage
	concurrency int64
}

// FetchResult maps object paths to downloaded files or to download errors.
type FetchResult struct {
	LocalPaths map[string]string
	Errors     map[string]error
}

// Err returns one of the download errors, if any.
func (r *FetchResult) Err() error {
	for objectPath, err := range r.Errors {
		return fmt.Errorf("failed to fetch %s: %w", objectPath, err)
	}
	return nil
}

// NewFetcher creates a fetcher limited to concurrency parallel downloads.
func NewFetcher(storage ObjectStorage, concurrency int) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Fetcher{storage: storage, concurrency: int64(concurrency)}
}

// Fetch downloads every object to dir/<base name>. Base names must be
// distinct; later duplicates are reported as errors.
func (f *Fetcher) Fetch(ctx context.Context, dir string, objectPaths []string) *FetchResult {
	result := &FetchResult{
		LocalPaths: make(map[string]string),
		Errors:     make(map[string]error),
	}

	sem := semaphore.NewWeighted(f.concurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	targets := make(map[string]string)

	for _, objectPath := range objectPaths {
		local := filepath.Join(dir, path.Base(objectPath))
		if other, ok := targets[local]; ok {
			result.Errors[objectPath] = fmt.Errorf("local name collides with %s", other)
			continue
		}
		targets[local] = objectPath

		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Errors[objectPath] = err
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(objectPath, local string) {
			defer wg.Done()
			defer sem.Release(1)

			err := f.storage.Download(ctx, objectPath, local)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Errors[objectPath] = err
				return
			}
			result.LocalPaths[objectPath] = local
		}(objectPath, local)
	}

	wg.Wait()
	return result
}
