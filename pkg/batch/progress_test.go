package batch

import "testing"

func TestSnapshotProgress(t *testing.T) {
	tests := []struct {
		name     string
		statuses []DocumentStatus
		want     Progress
	}{
		{
			name:     "all pending",
			statuses: []DocumentStatus{DocPending, DocPending},
			want:     Progress{Total: 2, Pending: 2},
		},
		{
			name:     "mixed",
			statuses: []DocumentStatus{DocPending, DocProcessing, DocCompleted, DocFailed},
			want:     Progress{Total: 4, Pending: 1, Processing: 1, Completed: 1, Failed: 1, Percentage: 50},
		},
		{
			name:     "all settled",
			statuses: []DocumentStatus{DocCompleted, DocFailed, DocCompleted},
			want:     Progress{Total: 3, Completed: 2, Failed: 1, Percentage: 100},
		},
		{
			name:     "rounding",
			statuses: []DocumentStatus{DocCompleted, DocPending, DocPending},
			want:     Progress{Total: 3, Pending: 2, Completed: 1, Percentage: 33},
		},
		{
			name:     "empty",
			statuses: nil,
			want:     Progress{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			docs := make([]*Document, len(tt.statuses))
			for i, s := range tt.statuses {
				docs[i] = &Document{Status: s}
			}

			got := SnapshotProgress(docs)
			if got != tt.want {
				t.Errorf("SnapshotProgress() = %+v, want %+v", got, tt.want)
			}

			// Count conservation: per-status counts sum to total.
			if sum := got.Pending + got.Processing + got.Completed + got.Failed; sum != got.Total {
				t.Errorf("status counts sum to %d, total is %d", sum, got.Total)
			}
		})
	}
}
