package merge

import (
	"fmt"
	"math"
)

// levelLogSpan is how far below the largest level a segment may be and
// still merge with it.
const levelLogSpan = 0.75

// LogByteSize assigns each segment the level log(size)/log(MergeFactor) and
// merges MergeFactor adjacent segments of similar level.
type LogByteSize struct {
	// MergeFactor is the number of segments merged at once.
	MergeFactor int
	// MinMergeMB rounds smaller segments up to one level.
	MinMergeMB float64
	// MaxMergeMB excludes larger segments from merging.
	MaxMergeMB float64
	// MaxMergeDocs excludes segments with more documents from merging.
	MaxMergeDocs int64
}

// NewLogByteSize returns a LogByteSize with default settings.
func NewLogByteSize() *LogByteSize {
	return &LogByteSize{
		MergeFactor:  10,
		MinMergeMB:   1.6,
		MaxMergeMB:   2048,
		MaxMergeDocs: math.MaxInt64,
	}
}

func (p *LogByteSize) FindMerges(segments []SegmentInfo) *Specification {
	return findLogMerges(segments, p.MergeFactor,
		mbToBytes(p.MinMergeMB), mbToBytes(p.MaxMergeMB), p.MaxMergeDocs,
		func(s SegmentInfo) float64 { return float64(s.SizeBytes) })
}

func (p *LogByteSize) validate() error {
	switch {
	case p.MergeFactor < 2:
		return fmt.Errorf("mergeFactor must be at least 2, got %d", p.MergeFactor)
	case p.MinMergeMB < 0 || p.MaxMergeMB <= 0:
		return fmt.Errorf("merge sizes must be positive, got min %g max %g", p.MinMergeMB, p.MaxMergeMB)
	case p.MaxMergeDocs <= 0:
		return fmt.Errorf("maxMergeDocs must be positive, got %d", p.MaxMergeDocs)
	}
	return nil
}

func (p *LogByteSize) String() string {
	return fmt.Sprintf("%s(factor=%d, min=%gMB, max=%gMB)", NameLogByteSize, p.MergeFactor, p.MinMergeMB, p.MaxMergeMB)
}

// LogDoc is LogByteSize measured in documents instead of bytes.
type LogDoc struct {
	MergeFactor  int
	MinMergeDocs int64
	MaxMergeDocs int64
}

// NewLogDoc returns a LogDoc with default settings.
func NewLogDoc() *LogDoc {
	return &LogDoc{
		MergeFactor:  10,
		MinMergeDocs: 1000,
		MaxMergeDocs: math.MaxInt64,
	}
}

func (p *LogDoc) FindMerges(segments []SegmentInfo) *Specification {
	return findLogMerges(segments, p.MergeFactor,
		float64(p.MinMergeDocs), float64(p.MaxMergeDocs), p.MaxMergeDocs,
		func(s SegmentInfo) float64 { return float64(s.DocCount) })
}

func (p *LogDoc) validate() error {
	switch {
	case p.MergeFactor < 2:
		return fmt.Errorf("mergeFactor must be at least 2, got %d", p.MergeFactor)
	case p.MinMergeDocs < 0 || p.MaxMergeDocs <= 0:
		return fmt.Errorf("merge doc counts must be positive, got min %d max %d", p.MinMergeDocs, p.MaxMergeDocs)
	}
	return nil
}

func (p *LogDoc) String() string {
	return fmt.Sprintf("%s(factor=%d, min=%d, max=%d)", NameLogDoc, p.MergeFactor, p.MinMergeDocs, p.MaxMergeDocs)
}

// findLogMerges walks the segments from oldest to newest. Each pass takes
// the largest remaining level, finds the last segment within levelLogSpan of
// it and merges full windows of mergeFactor segments up to that point.
// Windows holding a segment at or above maxSize or maxDocs are skipped.
func findLogMerges(segments []SegmentInfo, mergeFactor int, minSize, maxSize float64, maxDocs int64, size func(SegmentInfo) float64) *Specification {
	n := len(segments)
	if n == 0 || mergeFactor < 2 {
		return nil
	}

	norm := math.Log(float64(mergeFactor))
	levels := make([]float64, n)
	for i, s := range segments {
		levels[i] = math.Log(math.Max(size(s), 1)) / norm
	}
	levelFloor := 0.0
	if minSize > 1 {
		levelFloor = math.Log(minSize) / norm
	}

	var spec Specification
	start := 0
	for start < n {
		maxLevel := levels[start]
		for _, l := range levels[start+1:] {
			maxLevel = math.Max(maxLevel, l)
		}

		levelBottom := -1.0
		if maxLevel > levelFloor {
			levelBottom = math.Max(maxLevel-levelLogSpan, levelFloor)
		}

		upto := n - 1
		for upto >= start && levels[upto] < levelBottom {
			upto--
		}

		for end := start + mergeFactor; end <= upto+1; end += mergeFactor {
			window := segments[end-mergeFactor : end]
			tooLarge := false
			for _, s := range window {
				if size(s) >= maxSize || s.DocCount >= maxDocs {
					tooLarge = true
					break
				}
			}
			if !tooLarge {
				spec.Merges = append(spec.Merges, OneMerge{Segments: append([]SegmentInfo(nil), window...)})
			}
		}
		start = upto + 1
	}

	if len(spec.Merges) == 0 {
		return nil
	}
	return &spec
}
