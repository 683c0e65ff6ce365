package upload

import (
	"sync"
)

// Progress is the aggregate byte progress of one file.
type Progress struct {
	Loaded     int64
	Total      int64
	Percentage int
}

// ProgressFunc receives progress updates. Calls are serialised and Loaded never decreases
// within one UploadFile or Resume call.
type ProgressFunc func(Progress)

// progressTracker sums live per-part byte counters on every tick. base is the size of the
// parts confirmed before the current attempt started.
type progressTracker struct {
	mu         sync.Mutex
	total      int64
	base       int64
	parts      map[int]int64
	last       int64
	onProgress ProgressFunc
}

func newProgressTracker(total, base int64, onProgress ProgressFunc) *progressTracker {
	return &progressTracker{
		total:      total,
		base:       base,
		parts:      map[int]int64{},
		last:       base,
		onProgress: onProgress,
	}
}

func (t *progressTracker) update(partNumber int, loaded int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if loaded > t.parts[partNumber] {
		t.parts[partNumber] = loaded
	}

	sum := t.base
	for _, n := range t.parts {
		sum += n
	}
	if sum < t.last {
		sum = t.last
	}
	if sum > t.total {
		sum = t.total
	}
	t.last = sum

	if t.onProgress != nil {
		t.onProgress(newProgress(sum, t.total))
	}
}

// report emits the current progress without a part update.
func (t *progressTracker) report() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.onProgress != nil {
		t.onProgress(newProgress(t.last, t.total))
	}
}

func (t *progressTracker) loaded() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}

func newProgress(loaded, total int64) Progress {
	p := Progress{Loaded: loaded, Total: total}
	if total > 0 {
		p.Percentage = int(loaded * 100 / total)
	}
	return p
}
