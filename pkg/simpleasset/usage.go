package simpleasset

import "fmt"

// Classification splits assets by whether anything references them.
type Classification struct {
	Used     []*Asset `json:"used"`
	Orphaned []*Asset `json:"orphaned"`
}

// Stats is a fold over a set of assets.
type Stats struct {
	TotalCount     int   `json:"total_count"`
	ImageCount     int   `json:"image_count"`
	VideoCount     int   `json:"video_count"`
	TotalSizeBytes int64 `json:"total_size_bytes"`
	UnusedCount    int   `json:"unused_count"`
}

// Classify partitions assets into used and orphaned, keeping input order.
// An asset with no usage tags is orphaned.
func Classify(assets []*Asset) Classification {
	c := Classification{
		Used:     make([]*Asset, 0, len(assets)),
		Orphaned: make([]*Asset, 0),
	}
	for _, a := range assets {
		if a == nil {
			continue
		}
		if a.IsOrphaned() {
			c.Orphaned = append(c.Orphaned, a)
		} else {
			c.Used = append(c.Used, a)
		}
	}
	return c
}

// ComputeStats folds assets into counts and total size.
// It is recomputed on every call; nothing is cached.
func ComputeStats(assets []*Asset) Stats {
	var s Stats
	for _, a := range assets {
		if a == nil {
			continue
		}
		s.TotalCount++
		s.TotalSizeBytes += a.SizeBytes
		switch a.Kind {
		case AssetKindImage:
			s.ImageCount++
		case AssetKindVideo:
			s.VideoCount++
		}
		if a.IsOrphaned() {
			s.UnusedCount++
		}
	}
	return s
}

// HumanSize formats a byte count with one decimal, e.g. "1.5 MB".
func HumanSize(bytes int64) string {
	size := float64(bytes)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if size < 1024 {
			return fmt.Sprintf("%.1f %s", size, unit)
		}
		size /= 1024
	}
	return fmt.Sprintf("%.1f TB", size)
}
