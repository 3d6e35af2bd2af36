package dto

import (
	"encoding/json"
	"time"
)

// SnapshotInfo describes one archived frame in the snapshot list.
type SnapshotInfo struct {
	Name      string    `json:"name"`
	Date      time.Time `json:"date"`
	TimeOfDay time.Time `json:"timeOfDay"`
	Provider  string    `json:"provider"`
	Labels    []string  `json:"labels"`
	Size      int64     `json:"size"`
}

// MarshalJSON formats the date and time of day the way the gallery shows them.
func (s SnapshotInfo) MarshalJSON() ([]byte, error) {
	type Alias SnapshotInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      s.Date.Format("02-01-2006"),
		TimeOfDay: s.TimeOfDay.Format("15:04:05"),
		Alias:     (Alias)(s),
	})
}

// SnapshotsData is a paginated snapshot list.
type SnapshotsData struct {
	Snapshots   []SnapshotInfo `json:"snapshots"`
	Directory   string         `json:"directory"`
	Providers   []string       `json:"providers"`
	Labels      []string       `json:"labels"`
	Length      int            `json:"length"`
	TotalPages  int            `json:"totalPages"`
	CurrentPage int            `json:"currentPage"`
	Limit       int            `json:"pageSize"`
}
