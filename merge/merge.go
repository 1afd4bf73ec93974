package merge

// SegmentInfo describes one segment.
type SegmentInfo struct {
	Name      string
	SizeBytes int64
	DocCount  int64
	// Level is the level assigned by a previous leveled merge; 0 for newly
	// flushed segments.
	Level int
}

// OneMerge is one unit of work: the listed segments become one segment.
type OneMerge struct {
	Segments    []SegmentInfo
	TargetLevel int
}

// Names returns the names of the merged segments.
func (m OneMerge) Names() []string {
	names := make([]string, len(m.Segments))
	for i, s := range m.Segments {
		names[i] = s.Name
	}
	return names
}

// Specification lists the merges a policy selected.
type Specification struct {
	Merges []OneMerge
}

// Policy decides which segments should be merged.
type Policy interface {
	// FindMerges returns the merges to run or nil if none are needed.
	// segments are in index order, oldest first.
	FindMerges(segments []SegmentInfo) *Specification
}

const mb = 1024 * 1024

func mbToBytes(v float64) float64 { return v * mb }
