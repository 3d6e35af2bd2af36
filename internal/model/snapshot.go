package model

import "time"

// Snapshot represents an archived annotated frame.
type Snapshot struct {
	ID        int64     `json:"id"`
	Filename  string    `json:"filename"`
	Provider  string    `json:"provider"`
	Timestamp time.Time `json:"timestamp"`
	FilePath  string    `json:"filepath"`
	FileSize  int64     `json:"filesize"`
}

// Detection is a stored detection belonging to a snapshot.
type Detection struct {
	ID         int64   `json:"id"`
	SnapshotID int64   `json:"snapshot_id"`
	ClassIndex int     `json:"class_index"`
	Label      string  `json:"label"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	Score      float64 `json:"score"`
}

// SnapshotFilter contains filtering options for querying snapshots.
type SnapshotFilter struct {
	Provider  string
	Label     string
	StartDate time.Time
	EndDate   time.Time
	Limit     int
	Offset    int
}
