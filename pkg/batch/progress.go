package batch

import "math"

// Progress is a point-in-time count of documents by status. The per-status
// counts always sum to Total.
type Progress struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`

	// Percentage is round((completed+failed)/total*100).
	Percentage int `json:"percentage"`
}

// SnapshotProgress derives a progress snapshot from the current document
// statuses. It is a pure function; callers are responsible for holding the
// batch lock when the slice is shared.
func SnapshotProgress(docs []*Document) Progress {
	p := Progress{Total: len(docs)}
	for _, d := range docs {
		switch d.Status {
		case DocProcessing:
			p.Processing++
		case DocCompleted:
			p.Completed++
		case DocFailed:
			p.Failed++
		default:
			p.Pending++
		}
	}
	if p.Total > 0 {
		p.Percentage = int(math.Round(float64(p.Completed+p.Failed) / float64(p.Total) * 100))
	}
	return p
}
