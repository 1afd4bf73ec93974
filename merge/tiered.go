package merge

import "fmt"

// Size bucket bounds of Tiered: [0-10MB), [10-100MB), [100MB-1GB), [1GB+).
var tierBounds = []int64{10 * mb, 100 * mb, 1024 * mb}

// Tiered groups segments into size buckets and merges a bucket once it holds
// SegmentsPerTier segments.
//   - Buckets are checked from smallest to largest; only the first full
//     bucket is merged.
//   - A merge never spans buckets.
//   - The oldest segments of the bucket are taken until MaxMergeMB is reached.
type Tiered struct {
	SegmentsPerTier int
	MaxMergeMB      float64
}

// NewTiered returns a Tiered with default settings.
func NewTiered() *Tiered {
	return &Tiered{
		SegmentsPerTier: 10,
		MaxMergeMB:      2048,
	}
}

func (p *Tiered) FindMerges(segments []SegmentInfo) *Specification {
	buckets := make([][]SegmentInfo, len(tierBounds)+1)
	for _, s := range segments {
		b := tierOf(s.SizeBytes)
		buckets[b] = append(buckets[b], s)
	}

	maxBytes := int64(mbToBytes(p.MaxMergeMB))
	for tier, bucket := range buckets {
		if len(bucket) < p.SegmentsPerTier {
			continue
		}
		var (
			picked []SegmentInfo
			total  int64
		)
		for _, s := range bucket {
			if total+s.SizeBytes > maxBytes {
				break
			}
			picked = append(picked, s)
			total += s.SizeBytes
		}
		if len(picked) >= 2 {
			return &Specification{Merges: []OneMerge{{Segments: picked, TargetLevel: tier + 1}}}
		}
	}
	return nil
}

func tierOf(size int64) int {
	for i, bound := range tierBounds {
		if size < bound {
			return i
		}
	}
	return len(tierBounds)
}

func (p *Tiered) validate() error {
	if p.SegmentsPerTier < 2 {
		return fmt.Errorf("segmentsPerTier must be at least 2, got %d", p.SegmentsPerTier)
	}
	if p.MaxMergeMB <= 0 {
		return fmt.Errorf("maxMergeMB must be positive, got %g", p.MaxMergeMB)
	}
	return nil
}

func (p *Tiered) String() string {
	return fmt.Sprintf("%s(perTier=%d, max=%gMB)", NameTiered, p.SegmentsPerTier, p.MaxMergeMB)
}

// Leveled keeps newly flushed segments in level 0 and sized levels above it.
//   - Level 0 holding L0Threshold segments merges entirely into level 1.
//   - Level i (i >= 1) larger than BaseMB * LevelRatio^(i-1) promotes its
//     oldest segment to level i+1.
//
// Segments carry no key ranges, so promotion cannot pick overlapping
// segments of the next level and moves the oldest one instead.
type Leveled struct {
	L0Threshold int
	LevelRatio  int
	BaseMB      float64
	MaxLevels   int
}

// NewLeveled returns a Leveled with default settings.
func NewLeveled() *Leveled {
	return &Leveled{
		L0Threshold: 4,
		LevelRatio:  10,
		BaseMB:      100,
		MaxLevels:   7,
	}
}

func (p *Leveled) FindMerges(segments []SegmentInfo) *Specification {
	levels := make([][]SegmentInfo, p.MaxLevels)
	for _, s := range segments {
		lvl := min(max(s.Level, 0), p.MaxLevels-1)
		levels[lvl] = append(levels[lvl], s)
	}

	if len(levels[0]) >= p.L0Threshold {
		return &Specification{Merges: []OneMerge{{Segments: levels[0], TargetLevel: 1}}}
	}

	target := int64(mbToBytes(p.BaseMB))
	for lvl := 1; lvl < p.MaxLevels-1; lvl++ {
		var size int64
		for _, s := range levels[lvl] {
			size += s.SizeBytes
		}
		if size > target {
			// Segments keep index order within a level, so the first is the oldest.
			return &Specification{Merges: []OneMerge{{Segments: levels[lvl][:1:1], TargetLevel: lvl + 1}}}
		}
		target *= int64(p.LevelRatio)
	}
	return nil
}

func (p *Leveled) validate() error {
	switch {
	case p.L0Threshold < 1:
		return fmt.Errorf("l0Threshold must be at least 1, got %d", p.L0Threshold)
	case p.LevelRatio < 2:
		return fmt.Errorf("levelRatio must be at least 2, got %d", p.LevelRatio)
	case p.BaseMB <= 0:
		return fmt.Errorf("baseMB must be positive, got %g", p.BaseMB)
	case p.MaxLevels < 2:
		return fmt.Errorf("maxLevels must be at least 2, got %d", p.MaxLevels)
	}
	return nil
}

func (p *Leveled) String() string {
	return fmt.Sprintf("%s(l0=%d, ratio=%d, base=%gMB, levels=%d)", NameLeveled, p.L0Threshold, p.LevelRatio, p.BaseMB, p.MaxLevels)
}
