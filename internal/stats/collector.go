package stats

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

const ringSize = 60

// Collector tracks mirror run statistics using lock-free atomic counters.
type Collector struct {
	startTime        time.Time
	filesListed      atomic.Int64
	filesTransferred atomic.Int64
	filesSkipped     atomic.Int64
	filesRejected    atomic.Int64
	filesFailed      atomic.Int64
	purged           atomic.Int64
	bytesTransferred atomic.Int64
	dirsCreated      atomic.Int64
	walkFailures     atomic.Int64
	bytesTotal       atomic.Int64

	// Ring buffer, written only by Tick.
	mu         sync.Mutex
	throughput [ringSize]int64 // bytes delta per second
	ringIdx    int
	ringCount  int // samples written, capped at ringSize
	lastBytes  int64
}

// NewCollector creates a Collector with startTime set to now.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

// SetTotals records walk totals.
func (c *Collector) SetTotals(files, bytes int64) {
	c.filesListed.Store(files)
	c.bytesTotal.Store(bytes)
}

func (c *Collector) AddFilesTransferred(n int64) { c.filesTransferred.Add(n) }
func (c *Collector) AddFilesSkipped(n int64)     { c.filesSkipped.Add(n) }
func (c *Collector) AddFilesRejected(n int64)    { c.filesRejected.Add(n) }
func (c *Collector) AddFilesFailed(n int64)      { c.filesFailed.Add(n) }
func (c *Collector) AddPurged(n int64)           { c.purged.Add(n) }
func (c *Collector) AddBytesTransferred(n int64) { c.bytesTransferred.Add(n) }
func (c *Collector) AddDirsCreated(n int64)      { c.dirsCreated.Add(n) }
func (c *Collector) AddWalkFailures(n int64)     { c.walkFailures.Add(n) }

// Snapshot is a point-in-time read of all counters.
type Snapshot struct {
	FilesListed      int64
	FilesTransferred int64
	FilesSkipped     int64
	FilesRejected    int64
	FilesFailed      int64
	Purged           int64
	BytesTransferred int64
	BytesTotal       int64
	DirsCreated      int64
	WalkFailures     int64
	Elapsed          time.Duration
}

// Snapshot returns a point-in-time read of all counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		FilesListed:      c.filesListed.Load(),
		FilesTransferred: c.filesTransferred.Load(),
		FilesSkipped:     c.filesSkipped.Load(),
		FilesRejected:    c.filesRejected.Load(),
		FilesFailed:      c.filesFailed.Load(),
		Purged:           c.purged.Load(),
		BytesTransferred: c.bytesTransferred.Load(),
		BytesTotal:       c.bytesTotal.Load(),
		DirsCreated:      c.dirsCreated.Load(),
		WalkFailures:     c.walkFailures.Load(),
		Elapsed:          c.Elapsed(),
	}
}

// Failures is the number of files or subtrees that could not be processed.
func (s Snapshot) Failures() int64 {
	return s.FilesFailed + s.WalkFailures
}

// Tick records the byte delta since the previous call into the ring
// buffer. Called once per second by the presenter.
func (c *Collector) Tick() {
	current := c.bytesTransferred.Load()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.throughput[c.ringIdx] = current - c.lastBytes
	c.lastBytes = current
	c.ringIdx = (c.ringIdx + 1) % ringSize
	if c.ringCount < ringSize {
		c.ringCount++
	}
}

// RollingSpeed returns average bytes/sec over the last n seconds of samples.
func (c *Collector) RollingSpeed(seconds int) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	count := min(seconds, c.ringCount)
	if count <= 0 {
		return 0
	}
	var sum int64
	for i := range count {
		idx := (c.ringIdx - 1 - i + ringSize) % ringSize
		sum += c.throughput[idx]
	}
	return float64(sum) / float64(count)
}

// Elapsed returns time since collector creation.
func (c *Collector) Elapsed() time.Duration {
	return time.Since(c.startTime)
}

func (s Snapshot) String() string {
	return fmt.Sprintf(
		"listed=%d transferred=%d skipped=%d rejected=%d failed=%d purged=%d bytes=%d dirs=%d walk_failures=%d",
		s.FilesListed, s.FilesTransferred, s.FilesSkipped, s.FilesRejected, s.FilesFailed,
		s.Purged, s.BytesTransferred, s.DirsCreated, s.WalkFailures,
	)
}
