package syncer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mcoot/sideline/internal/model"
)

func TestLastWriterWins(t *testing.T) {
	base := time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC)
	entry := &model.PendingWrite{EnqueuedAt: base}

	tests := []struct {
		name   string
		remote *model.Record
		want   Resolution
	}{
		{"remote gone", nil, KeepLocal},
		{"entry newer", &model.Record{UpdatedAt: base.Add(-time.Minute)}, KeepLocal},
		{"entry older", &model.Record{UpdatedAt: base.Add(time.Minute)}, KeepRemote},
		{"tie", &model.Record{UpdatedAt: base}, KeepRemote},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, LastWriterWins{}.Resolve(entry, tt.remote))
		})
	}
}
