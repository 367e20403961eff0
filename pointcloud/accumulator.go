package pointcloud

import (
	"sync"

	"github.com/pkg/errors"
)

// Accumulator is a bounded ring of points. When an append would exceed capacity the oldest points
// are evicted, so the accumulator always holds the newest min(total appended, capacity) points in
// insertion order. All methods are safe for concurrent use; appends, clears and snapshots are
// serialized against each other.
type Accumulator struct {
	mu sync.RWMutex
	// buf grows up to capacity and is then reused as a ring starting at head.
	buf      []Point
	head     int
	capacity int

	version  uint64
	clears   uint64
	appended uint64
	evicted  uint64
}

// AccumulatorStats is a point-in-time summary of an Accumulator.
type AccumulatorStats struct {
	Count    int
	Capacity int
	// Version changes on every append or clear.
	Version uint64
	// Clears counts calls to Clear.
	Clears   uint64
	Appended uint64
	Evicted  uint64
}

// NewAccumulator returns an empty accumulator holding at most capacity points.
func NewAccumulator(capacity int) (*Accumulator, error) {
	if capacity <= 0 {
		return nil, errors.Errorf("accumulator capacity must be positive, got %d", capacity)
	}
	return &Accumulator{capacity: capacity}, nil
}

// Capacity returns the maximum number of points held.
func (acc *Accumulator) Capacity() int {
	return acc.capacity
}

// Len returns the current number of points.
func (acc *Accumulator) Len() int {
	acc.mu.RLock()
	defer acc.mu.RUnlock()
	return len(acc.buf)
}

// Append adds a batch of points and returns how many older points were evicted to make room. A
// batch larger than the capacity keeps only its last Capacity() points.
func (acc *Accumulator) Append(points []Point) int {
	if len(points) == 0 {
		return 0
	}

	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.append(points)
}

// AppendUnlessCleared is like Append but adds nothing, and returns false, if Clear was called
// since Stats reported clears. Points computed before a clear then never show up after it.
func (acc *Accumulator) AppendUnlessCleared(clears uint64, points []Point) (int, bool) {
	acc.mu.Lock()
	defer acc.mu.Unlock()

	if acc.clears != clears {
		return 0, false
	}
	if len(points) == 0 {
		return 0, true
	}
	return acc.append(points), true
}

func (acc *Accumulator) append(points []Point) int {
	acc.version++
	acc.appended += uint64(len(points))

	evicted := 0
	if len(points) > acc.capacity {
		evicted += len(points) - acc.capacity
		points = points[len(points)-acc.capacity:]
	}

	if room := acc.capacity - len(acc.buf); room > 0 {
		n := min(room, len(points))
		acc.buf = append(acc.buf, points[:n]...)
		points = points[n:]
	}

	// Full: overwrite the oldest slots in place.
	for len(points) > 0 {
		n := copy(acc.buf[acc.head:], points)
		points = points[n:]
		evicted += n
		acc.head = (acc.head + n) % acc.capacity
	}

	acc.evicted += uint64(evicted)
	return evicted
}

// Clear empties the accumulator. The backing storage is kept for reuse.
func (acc *Accumulator) Clear() {
	acc.mu.Lock()
	defer acc.mu.Unlock()

	acc.version++
	acc.clears++
	acc.buf = acc.buf[:0]
	acc.head = 0
}

// Snapshot returns a copy of the current points, oldest first. It never observes a partially
// applied append.
func (acc *Accumulator) Snapshot() *Snapshot {
	acc.mu.RLock()
	defer acc.mu.RUnlock()

	points := make([]Point, 0, len(acc.buf))
	points = append(points, acc.buf[acc.head:]...)
	points = append(points, acc.buf[:acc.head]...)
	return &Snapshot{first: points, version: acc.version}
}

// Read calls fn with a read-only view of the current points. The view aliases the accumulator's
// storage and must not be retained after fn returns. Appends and clears wait for fn.
func (acc *Accumulator) Read(fn func(view *Snapshot)) {
	acc.mu.RLock()
	defer acc.mu.RUnlock()

	fn(&Snapshot{first: acc.buf[acc.head:], second: acc.buf[:acc.head], version: acc.version})
}

// Stats returns counters describing the accumulator.
func (acc *Accumulator) Stats() AccumulatorStats {
	acc.mu.RLock()
	defer acc.mu.RUnlock()

	return AccumulatorStats{
		Count:    len(acc.buf),
		Capacity: acc.capacity,
		Version:  acc.version,
		Clears:   acc.clears,
		Appended: acc.appended,
		Evicted:  acc.evicted,
	}
}

// Snapshot is an ordered, read-only sequence of points, oldest first.
type Snapshot struct {
	first, second []Point
	version       uint64
}

// NewSnapshot wraps points. The slice is not copied.
func NewSnapshot(points []Point) *Snapshot {
	return &Snapshot{first: points}
}

// Len returns the number of points.
func (s *Snapshot) Len() int {
	return len(s.first) + len(s.second)
}

// At returns the i'th oldest point.
func (s *Snapshot) At(i int) Point {
	if i < len(s.first) {
		return s.first[i]
	}
	return s.second[i-len(s.first)]
}

// Version is the accumulator version the snapshot was taken at.
func (s *Snapshot) Version() uint64 {
	return s.version
}

// Iterate calls fn for every point, oldest first, until fn returns false.
func (s *Snapshot) Iterate(fn func(i int, p Point) bool) {
	for i := range s.first {
		if !fn(i, s.first[i]) {
			return
		}
	}
	offset := len(s.first)
	for i := range s.second {
		if !fn(offset+i, s.second[i]) {
			return
		}
	}
}

// Points returns a fresh slice of the points, oldest first.
func (s *Snapshot) Points() []Point {
	out := make([]Point, 0, s.Len())
	out = append(out, s.first...)
	return append(out, s.second...)
}

// MetaData computes bounds and per-confidence counts.
func (s *Snapshot) MetaData() MetaData {
	meta := NewMetaData()
	s.Iterate(func(_ int, p Point) bool {
		meta.Merge(p)
		return true
	})
	return meta
}
