package pointcloud

import (
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"go.viam.com/test"
)

func makeBatch(start, n int) []Point {
	batch := make([]Point, 0, n)
	for i := start; i < start+n; i++ {
		batch = append(batch, NewPoint(float64(i), float64(-i), 1, uint8(i), 0, 0, ConfidenceHigh))
	}
	return batch
}

func TestNewAccumulator(t *testing.T) {
	_, err := NewAccumulator(0)
	test.That(t, err, test.ShouldNotBeNil)

	acc, err := NewAccumulator(10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, acc.Capacity(), test.ShouldEqual, 10)
	test.That(t, acc.Len(), test.ShouldEqual, 0)
	test.That(t, acc.Snapshot().Len(), test.ShouldEqual, 0)
}

func TestAppendThenSnapshot(t *testing.T) {
	acc, err := NewAccumulator(100)
	test.That(t, err, test.ShouldBeNil)

	batch := makeBatch(0, 40)
	test.That(t, acc.Append(batch[:25]), test.ShouldEqual, 0)
	test.That(t, acc.Append(batch[25:]), test.ShouldEqual, 0)

	snap := acc.Snapshot()
	test.That(t, snap.Len(), test.ShouldEqual, 40)
	test.That(t, snap.Points(), test.ShouldResemble, batch)

	// A snapshot is a copy and does not see later appends.
	acc.Append(makeBatch(100, 5))
	test.That(t, snap.Len(), test.ShouldEqual, 40)
	test.That(t, acc.Len(), test.ShouldEqual, 45)
	test.That(t, acc.Snapshot().Version(), test.ShouldBeGreaterThan, snap.Version())
}

func TestEvictOldest(t *testing.T) {
	acc, err := NewAccumulator(500)
	test.That(t, err, test.ShouldBeNil)

	first := makeBatch(0, 400)
	second := makeBatch(1000, 400)
	test.That(t, acc.Append(first), test.ShouldEqual, 0)
	test.That(t, acc.Append(second), test.ShouldEqual, 300)
	test.That(t, acc.Len(), test.ShouldEqual, 500)

	// The last 100 of the first batch followed by all of the second.
	expected := append(append([]Point{}, first[300:]...), second...)
	test.That(t, acc.Snapshot().Points(), test.ShouldResemble, expected)

	stats := acc.Stats()
	test.That(t, stats.Count, test.ShouldEqual, 500)
	test.That(t, stats.Appended, test.ShouldEqual, uint64(800))
	test.That(t, stats.Evicted, test.ShouldEqual, uint64(300))

	// Wrap around again with a batch that straddles the end of the ring.
	third := makeBatch(5000, 250)
	test.That(t, acc.Append(third), test.ShouldEqual, 250)
	expected = append(append([]Point{}, second[150:]...), third...)
	test.That(t, acc.Snapshot().Points(), test.ShouldResemble, expected)
}

func TestBatchLargerThanCapacity(t *testing.T) {
	acc, err := NewAccumulator(10)
	test.That(t, err, test.ShouldBeNil)
	acc.Append(makeBatch(0, 3))

	big := makeBatch(100, 25)
	test.That(t, acc.Append(big), test.ShouldEqual, 18)
	test.That(t, acc.Snapshot().Points(), test.ShouldResemble, big[15:])
}

func TestClear(t *testing.T) {
	acc, err := NewAccumulator(50)
	test.That(t, err, test.ShouldBeNil)
	acc.Append(makeBatch(0, 80))
	acc.Clear()
	test.That(t, acc.Len(), test.ShouldEqual, 0)
	test.That(t, acc.Snapshot().Len(), test.ShouldEqual, 0)

	// Appends after a clear start a fresh ring.
	batch := makeBatch(0, 30)
	acc.Append(batch)
	test.That(t, acc.Snapshot().Points(), test.ShouldResemble, batch)
}

func TestAppendUnlessCleared(t *testing.T) {
	acc, err := NewAccumulator(50)
	test.That(t, err, test.ShouldBeNil)
	clears := acc.Stats().Clears

	evicted, ok := acc.AppendUnlessCleared(clears, makeBatch(0, 10))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, evicted, test.ShouldEqual, 0)
	test.That(t, acc.Len(), test.ShouldEqual, 10)

	// A batch computed before a clear is discarded.
	acc.Clear()
	_, ok = acc.AppendUnlessCleared(clears, makeBatch(10, 10))
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, acc.Len(), test.ShouldEqual, 0)

	stats := acc.Stats()
	test.That(t, stats.Clears, test.ShouldEqual, clears+1)
	_, ok = acc.AppendUnlessCleared(stats.Clears, makeBatch(20, 10))
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, acc.Snapshot().Points(), test.ShouldResemble, makeBatch(20, 10))
}

func TestClearAfterConcurrentAppends(t *testing.T) {
	acc, err := NewAccumulator(1000)
	test.That(t, err, test.ShouldBeNil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			acc.Append(makeBatch(i*100, 100))
		}(i)
	}
	wg.Wait()
	acc.Clear()
	test.That(t, acc.Snapshot().Len(), test.ShouldEqual, 0)
}

func TestConcurrentAppendNeverExceedsCapacity(t *testing.T) {
	const capacity = 1000
	acc, err := NewAccumulator(capacity)
	test.That(t, err, test.ShouldBeNil)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			acc.Read(func(view *Snapshot) {
				if view.Len() > capacity {
					t.Errorf("view holds %d points", view.Len())
				}
			})
			if n := acc.Snapshot().Len(); n > capacity {
				t.Errorf("snapshot holds %d points", n)
			}
		}
	}()

	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				acc.Append(makeBatch(i*1000+j*37, 37))
			}
		}(i)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	stats := acc.Stats()
	test.That(t, stats.Count, test.ShouldEqual, capacity)
	test.That(t, stats.Appended, test.ShouldEqual, uint64(32*10*37))
	test.That(t, stats.Evicted, test.ShouldEqual, uint64(32*10*37-capacity))
}

func TestReadView(t *testing.T) {
	acc, err := NewAccumulator(4)
	test.That(t, err, test.ShouldBeNil)
	batch := makeBatch(0, 6)
	acc.Append(batch)

	var seen []Point
	acc.Read(func(view *Snapshot) {
		test.That(t, view.Len(), test.ShouldEqual, 4)
		test.That(t, view.At(0), test.ShouldResemble, batch[2])
		test.That(t, view.At(3), test.ShouldResemble, batch[5])
		view.Iterate(func(i int, p Point) bool {
			seen = append(seen, p)
			return i < 2
		})
	})
	test.That(t, seen, test.ShouldResemble, batch[2:5])
}

func TestSnapshotMetaData(t *testing.T) {
	snap := NewSnapshot([]Point{
		NewPoint(-1, 2, 3, 0, 0, 0, ConfidenceLow),
		NewPoint(4, -5, 6, 0, 0, 0, ConfidenceHigh),
		NewPoint(0, 0, -7, 0, 0, 0, ConfidenceHigh),
	})
	meta := snap.MetaData()
	test.That(t, meta.Count, test.ShouldEqual, 3)
	test.That(t, meta.MinX, test.ShouldEqual, -1.)
	test.That(t, meta.MaxY, test.ShouldEqual, 2.)
	test.That(t, meta.MinZ, test.ShouldEqual, -7.)
	test.That(t, meta.PerConfidence, test.ShouldResemble, [3]int{1, 0, 2})
}

func TestConcurrentAppendsWithinCapacity(t *testing.T) {
	acc, err := NewAccumulator(1000)
	test.That(t, err, test.ShouldBeNil)

	var (
		wg   sync.WaitGroup
		want []Point
	)
	for i := 0; i < 8; i++ {
		batch := makeBatch(i*100, 50)
		want = append(want, batch...)
		wg.Add(1)
		go func() {
			defer wg.Done()
			acc.Append(batch)
		}()
	}
	wg.Wait()

	byX := cmpopts.SortSlices(func(a, b Point) bool { return a.Position.X < b.Position.X })
	test.That(t, cmp.Diff(want, acc.Snapshot().Points(), byX), test.ShouldBeEmpty)
}
