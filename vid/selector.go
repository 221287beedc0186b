package vid

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
)

const (
	DefaultPicks      = 8
	DefaultCandidates = 16

	ThumbSize   = 64
	OutputWidth = 512
	JPEGQuality = 72
)

var ErrNoDuration = errors.New("video has no usable duration")

// FrameSource seeks into a decoded video. Sample returns a ThumbSize x
// ThumbSize 3-channel thumbnail and the JPEG bytes of the output frame.
type FrameSource interface {
	Duration() float64
	Sample(t float64) (thumb []byte, jpeg []byte, err error)
}

type Frame struct {
	Time  float64
	Score float64
	JPEG  []byte
}

func (f Frame) DataURL() string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(f.JPEG)
}

// CandidateTimes spreads n timestamps over [2%, 98%] of the duration.
func CandidateTimes(duration float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	denom := float64(max(1, n-1))
	times := make([]float64, n)
	for i := range times {
		times[i] = duration * (0.02 + 0.96*float64(i)/denom)
	}
	return times
}

// DiversityScore is the sum of absolute byte differences over the shorter of
// the two thumbnails.
func DiversityScore(a, b []byte) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		d := int(a[i]) - int(b[i])
		if d < 0 {
			d = -d
		}
		sum += float64(d)
	}
	return sum
}

// SelectFrames samples candidates across the video, ranks them by how much
// each differs from the candidate before it, and keeps up to picks frames
// that are not bunched together. The result is ordered by time.
func SelectFrames(src FrameSource, picks, candidates int) ([]Frame, error) {
	if picks <= 0 {
		picks = DefaultPicks
	}
	if candidates <= 0 {
		candidates = DefaultCandidates
	}
	d := src.Duration()
	if math.IsNaN(d) || math.IsInf(d, 0) || d <= 0 {
		return nil, ErrNoDuration
	}

	cands := make([]Frame, 0, candidates)
	var prev []byte
	for _, t := range CandidateTimes(d, candidates) {
		thumb, jpg, err := src.Sample(t)
		if err != nil {
			return nil, fmt.Errorf("sample at %.3fs: %w", t, err)
		}
		score := math.Inf(1)
		if prev != nil {
			score = DiversityScore(thumb, prev)
		}
		prev = thumb
		cands = append(cands, Frame{Time: t, Score: score, JPEG: jpg})
	}

	ranked := make([]Frame, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })

	minGap := d / float64(picks+1) * 0.5
	chosen := make([]bool, len(ranked))
	picked := make([]Frame, 0, picks)
	for i, c := range ranked {
		if len(picked) >= picks {
			break
		}
		if tooClose(picked, c.Time, minGap) {
			continue
		}
		picked = append(picked, c)
		chosen[i] = true
	}
	// not enough spread-out frames, fill with the best remaining ones
	for i, c := range ranked {
		if len(picked) >= picks {
			break
		}
		if !chosen[i] {
			picked = append(picked, c)
			chosen[i] = true
		}
	}

	sort.SliceStable(picked, func(i, j int) bool { return picked[i].Time < picked[j].Time })
	slog.Debug("SelectFrames: done", "duration", d, "candidates", len(cands), "picked", len(picked), "min_gap", minGap)
	return picked, nil
}

func tooClose(picked []Frame, t, gap float64) bool {
	for _, p := range picked {
		if math.Abs(p.Time-t) < gap {
			return true
		}
	}
	return false
}
