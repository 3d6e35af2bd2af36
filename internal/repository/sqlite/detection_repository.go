package sqlite

import (
	"github.com/pkg/errors"

	"yolooverlay/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (snapshot_id, class_index, label, x, y, width, height, score)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return errors.Wrap(err, "failed to prepare statement")
	}
	defer stmt.Close()

	for _, d := range detections {
		if _, err := stmt.Exec(d.SnapshotID, d.ClassIndex, d.Label, d.X, d.Y, d.Width, d.Height, d.Score); err != nil {
			return errors.Wrap(err, "failed to insert detection")
		}
	}
	return tx.Commit()
}

// GetBySnapshotID returns the detections stored for a snapshot, best first.
func (r *DetectionRepository) GetBySnapshotID(snapshotID int64) ([]model.Detection, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, snapshot_id, class_index, label, x, y, width, height, score
		FROM detections WHERE snapshot_id = ? ORDER BY score DESC, id
	`, snapshotID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query detections")
	}
	defer rows.Close()

	var detections []model.Detection
	for rows.Next() {
		var d model.Detection
		if err := rows.Scan(&d.ID, &d.SnapshotID, &d.ClassIndex, &d.Label, &d.X, &d.Y, &d.Width, &d.Height, &d.Score); err != nil {
			return nil, errors.Wrap(err, "failed to scan detection")
		}
		detections = append(detections, d)
	}
	return detections, rows.Err()
}

// GetLabelsBySnapshotID returns the distinct labels seen in a snapshot.
func (r *DetectionRepository) GetLabelsBySnapshotID(snapshotID int64) ([]string, error) {
	return r.labels(`SELECT DISTINCT label FROM detections WHERE snapshot_id = ? ORDER BY label`, snapshotID)
}

// GetAllLabels returns every label ever stored.
func (r *DetectionRepository) GetAllLabels() ([]string, error) {
	return r.labels(`SELECT DISTINCT label FROM detections ORDER BY label`)
}

func (r *DetectionRepository) labels(query string, args ...interface{}) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query labels")
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var label string
		if err := rows.Scan(&label); err != nil {
			return nil, errors.Wrap(err, "failed to scan label")
		}
		labels = append(labels, label)
	}
	return labels, rows.Err()
}
