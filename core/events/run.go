package events

import (
	"time"

	"github.com/kilianp07/bikeflow/core/model"
)

// RunEvent is published after every inference run. OD holds the full
// aggregated table and Flows its bucket-level rows; Err is set when the run
// failed.
type RunEvent struct {
	RunID   string
	Matcher string
	From    time.Time
	To      time.Time
	OD      []model.ODRow
	Flows   []model.Flow
	Moved   int
	Err     error
	Time    time.Time
}
