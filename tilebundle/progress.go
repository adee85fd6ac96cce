package tilebundle

import (
	"math"
	"time"
)

// Progress is a snapshot of a bundle run, taken after every fetch attempt.
// Percent tracks downloaded tiles only, so a run with failures finishes below
// 100. Remaining is an estimate extrapolated from the average time per
// downloaded tile and is meaningless until the first success, which
// RemainingKnown signals.
type Progress struct {
	Downloaded     int64
	Failed         int64
	Attempted      int64
	Total          int64
	Percent        int
	Elapsed        time.Duration
	Remaining      time.Duration
	RemainingKnown bool
}

// ProgressFunc receives a snapshot after every fetch attempt.
type ProgressFunc func(Progress)

type progressTracker struct {
	total      int64
	downloaded int64
	failed     int64
	start      time.Time
}

func newProgressTracker(total int64) *progressTracker {
	return &progressTracker{
		total: total,
		start: time.Now(),
	}
}

func (p *progressTracker) success() {
	p.downloaded++
}

func (p *progressTracker) fail() {
	p.failed++
}

func (p *progressTracker) snapshot() Progress {
	elapsed := time.Since(p.start)

	s := Progress{
		Downloaded: p.downloaded,
		Failed:     p.failed,
		Attempted:  p.downloaded + p.failed,
		Total:      p.total,
		Elapsed:    elapsed,
	}

	if p.total > 0 {
		s.Percent = int(math.Round(float64(p.downloaded) / float64(p.total) * 100))
	}

	// The estimate divides by the download count, so it only exists once
	// something has been downloaded.
	if p.downloaded > 0 {
		perTile := elapsed / time.Duration(p.downloaded)
		s.Remaining = (perTile * time.Duration(p.total-p.downloaded)).Round(time.Second)
		s.RemainingKnown = true
	}

	return s
}
