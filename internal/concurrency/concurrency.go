package concurrency

import (
	"context"
	"sync"
)

// All runs the given functions concurrently and waits for every one of them
// to finish. It returns one of the non-nil errors if any occurred. The
// functions must be independent of each other; used for fanning out the
// read-only collaborator lookups feeding an evaluation.
func All(ctx context.Context, fns ...func(context.Context) error) error {
	if len(fns) == 0 {
		return nil
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(fns))

	for _, fn := range fns {
		wg.Add(1)
		go func(f func(context.Context) error) {
			defer wg.Done()
			if err := f(ctx); err != nil {
				errCh <- err
			}
		}(fn)
	}

	wg.Wait()
	close(errCh)

	return <-errCh
}
