package pipeline

import (
	"context"
	"sync"
)

type scopeResult[T any] struct {
	scopeID string
	value   T
	err     error
}

// fanOut runs fn for every scope on at most workers goroutines. The first error
// cancels the remaining scopes; results of scopes that finished are still
// returned alongside it.
func fanOut[T any](ctx context.Context, workers int, scopes []string, fn func(ctx context.Context, scopeID string) (T, error)) (map[string]T, error) {
	results := make(map[string]T, len(scopes))
	if len(scopes) == 0 {
		return results, nil
	}

	if workers <= 0 {
		workers = 1
	}
	if workers > len(scopes) {
		workers = len(scopes)
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	scopeChan := make(chan string, workers)
	resultChan := make(chan scopeResult[T], len(scopes))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for scopeID := range scopeChan {
				if workerCtx.Err() != nil {
					continue
				}
				value, err := fn(workerCtx, scopeID)
				resultChan <- scopeResult[T]{scopeID: scopeID, value: value, err: err}
			}
		}()
	}

	go func() {
		defer close(scopeChan)
		for _, scopeID := range scopes {
			select {
			case <-workerCtx.Done():
				return
			case scopeChan <- scopeID:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultChan)
	}()

	var firstErr error
	for res := range resultChan {
		if res.err != nil {
			if firstErr == nil {
				firstErr = res.err
				cancel()
			}
			continue
		}
		results[res.scopeID] = res.value
	}

	if firstErr == nil && ctx.Err() != nil {
		firstErr = ctx.Err()
	}
	return results, firstErr
}
