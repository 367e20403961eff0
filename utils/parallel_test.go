package utils

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.viam.com/test"
)

func TestBands(t *testing.T) {
	original := ParallelFactor
	defer func() { ParallelFactor = original }()

	ParallelFactor = 4
	test.That(t, Bands(0), test.ShouldBeNil)
	test.That(t, Bands(2), test.ShouldResemble, [][2]int{{0, 1}, {1, 2}})
	test.That(t, Bands(10), test.ShouldResemble, [][2]int{{0, 2}, {2, 4}, {4, 6}, {6, 10}})

	ParallelFactor = 1
	test.That(t, Bands(7), test.ShouldResemble, [][2]int{{0, 7}})
}

func TestGroupWorkParallel(t *testing.T) {
	const rows = 97
	seen := make([]int, rows)
	var mu sync.Mutex
	err := GroupWorkParallel(context.Background(), rows, func(ctx context.Context, band, from, to int) error {
		mu.Lock()
		defer mu.Unlock()
		for row := from; row < to; row++ {
			seen[row]++
		}
		return nil
	})
	test.That(t, err, test.ShouldBeNil)
	for _, count := range seen {
		test.That(t, count, test.ShouldEqual, 1)
	}

	errBad := errors.New("bad band")
	err = GroupWorkParallel(context.Background(), rows, func(ctx context.Context, band, from, to int) error {
		if band == 0 {
			return errBad
		}
		return nil
	})
	test.That(t, err, test.ShouldBeError, errBad)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = GroupWorkParallel(ctx, rows, func(ctx context.Context, band, from, to int) error {
		return nil
	})
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestStoppableWorkers(t *testing.T) {
	var mu sync.Mutex
	stopped := 0
	workers := NewStoppableWorkers(func(ctx context.Context) {
		<-ctx.Done()
		mu.Lock()
		stopped++
		mu.Unlock()
	})
	workers.AddWorkers(func(ctx context.Context) {
		<-ctx.Done()
		mu.Lock()
		stopped++
		mu.Unlock()
	})
	workers.Stop()
	test.That(t, stopped, test.ShouldEqual, 2)
	test.That(t, workers.Context().Err(), test.ShouldNotBeNil)

	// Adding after stop does nothing.
	workers.AddWorkers(func(ctx context.Context) { t.Fail() })
	workers.Stop()

	finished := 0
	draining := NewStoppableWorkersWithContext(context.Background(), func(ctx context.Context) {
		finished++
	})
	draining.Wait()
	test.That(t, finished, test.ShouldEqual, 1)
	test.That(t, draining.Context().Err(), test.ShouldBeNil)
	draining.Stop()
}
