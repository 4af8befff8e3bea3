package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dukex/marketflow/pkg/metrics"
	"github.com/dukex/marketflow/pkg/models"
)

type sendFunc func(ctx context.Context, customerID string) (bool, error)

type sender struct {
	concurrency int
	timeout     time.Duration
}

// each calls send once per target, with at most concurrency calls in flight.
// A target counts as a success only when send returns true and no error.
func (s *sender) each(ctx context.Context, actionType models.ActionType, targets []string, send sendFunc, onFailure func(customerID string, err error)) Result {
	var (
		mu     sync.Mutex
		result Result
		wg     sync.WaitGroup
	)

	slots := make(chan struct{}, s.concurrency)

	for _, customerID := range targets {
		slots <- struct{}{}

		wg.Add(1)

		go func() {
			defer wg.Done()
			defer func() { <-slots }()

			ok, err := s.sendOne(ctx, customerID, send)

			mu.Lock()
			defer mu.Unlock()

			if ok {
				result.Success++
				metrics.DispatchTargetsTotal.WithLabelValues(string(actionType), "success").Inc()

				return
			}

			result.Failure++
			metrics.DispatchTargetsTotal.WithLabelValues(string(actionType), "failure").Inc()
			onFailure(customerID, err)
		}()
	}

	wg.Wait()

	return result
}

func (s *sender) sendOne(ctx context.Context, customerID string, send sendFunc) (ok bool, err error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = panicError{value: r}
		}
	}()

	ok, err = send(ctx, customerID)

	return ok && err == nil, err
}

type panicError struct {
	value any
}

func (p panicError) Error() string {
	return fmt.Sprintf("transport panicked: %v", p.value)
}
