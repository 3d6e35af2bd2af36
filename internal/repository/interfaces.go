package repository

import (
	"yolooverlay/internal/model"
)

// SnapshotRepository defines the catalogue operations for archived frames.
type SnapshotRepository interface {
	// Create operations
	Insert(s *model.Snapshot) (int64, error)

	// Read operations
	GetByID(id int64) (*model.Snapshot, error)
	GetByFilename(filename string) (*model.Snapshot, error)
	GetAll(filter *model.SnapshotFilter) ([]model.Snapshot, error)
	GetTotalCount(filter *model.SnapshotFilter) (int, error)
	GetProviders() ([]string, error)

	// Delete operations
	Delete(id int64) error
	DeleteByFilename(filename string) error
	DeleteAll() error
}

// DetectionRepository defines the operations on stored detections.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.Detection) error

	// Read operations
	GetBySnapshotID(snapshotID int64) ([]model.Detection, error)
	GetLabelsBySnapshotID(snapshotID int64) ([]string, error)
	GetAllLabels() ([]string, error)
}
