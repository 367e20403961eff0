// Package utils contains small concurrency and filesystem helpers shared by the engine packages.
package utils

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the max level of parallelization. This might be useful
// to set in tests where too much parallelism actually slows tests down in
// aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
	quarterProcs := float64(ParallelFactor) * .25
	if quarterProcs > 8 {
		ParallelFactor = int(quarterProcs)
	}
}

// BandWorkFunc processes rows [from, to) as band number `band`.
type BandWorkFunc func(ctx context.Context, band, from, to int) error

// Bands splits totalSize rows into at most ParallelFactor contiguous bands. The last band takes
// the remainder. Empty bands are never returned.
func Bands(totalSize int) [][2]int {
	if totalSize <= 0 {
		return nil
	}
	numBands := ParallelFactor
	if numBands > totalSize {
		numBands = totalSize
	}
	bandSize := totalSize / numBands
	bands := make([][2]int, 0, numBands)
	for band := 0; band < numBands; band++ {
		from := band * bandSize
		to := from + bandSize
		if band == numBands-1 {
			to = totalSize
		}
		bands = append(bands, [2]int{from, to})
	}
	return bands
}

// GroupWorkParallel runs work over every band returned by Bands concurrently and waits for all of
// them. The first error cancels the context handed to the remaining bands and is returned.
func GroupWorkParallel(ctx context.Context, totalSize int, work BandWorkFunc) error {
	group, groupCtx := errgroup.WithContext(ctx)
	for band, span := range Bands(totalSize) {
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return work(groupCtx, band, span[0], span[1])
		})
	}
	return group.Wait()
}
