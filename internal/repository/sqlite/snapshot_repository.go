package sqlite

import (
	"database/sql"

	"github.com/pkg/errors"

	"yolooverlay/internal/model"
)

// SnapshotRepository implements repository.SnapshotRepository for SQLite.
type SnapshotRepository struct {
	db *DB
}

// NewSnapshotRepository creates a new SQLite snapshot repository.
func NewSnapshotRepository(db *DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

// Insert adds a snapshot record and returns its id.
func (r *SnapshotRepository) Insert(s *model.Snapshot) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO snapshots (filename, provider, timestamp, filepath, filesize)
		VALUES (?, ?, ?, ?, ?)
	`, s.Filename, s.Provider, s.Timestamp, s.FilePath, s.FileSize)
	if err != nil {
		return 0, errors.Wrap(err, "failed to insert snapshot")
	}
	return result.LastInsertId()
}

const snapshotColumns = `s.id, s.filename, s.provider, s.timestamp, s.filepath, s.filesize`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*model.Snapshot, error) {
	var s model.Snapshot
	if err := row.Scan(&s.ID, &s.Filename, &s.Provider, &s.Timestamp, &s.FilePath, &s.FileSize); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetByID returns the snapshot with id, or nil when there is none.
func (r *SnapshotRepository) GetByID(id int64) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, errors.Wrap(err, "failed to get snapshot")
}

// GetByFilename returns the snapshot stored under filename, or nil.
func (r *SnapshotRepository) GetByFilename(filename string) (*model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	s, err := scanSnapshot(r.db.Conn().QueryRow(`SELECT `+snapshotColumns+` FROM snapshots s WHERE s.filename = ?`, filename))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return s, errors.Wrap(err, "failed to get snapshot")
}

// where appends the filter conditions shared by GetAll and GetTotalCount.
func where(query string, filter *model.SnapshotFilter) (string, []interface{}) {
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Provider != "" {
		query += " AND s.provider = ?"
		args = append(args, filter.Provider)
	}
	if filter.Label != "" {
		query += " AND d.label = ?"
		args = append(args, filter.Label)
	}
	if !filter.StartDate.IsZero() {
		query += " AND s.timestamp >= ?"
		args = append(args, filter.StartDate)
	}
	if !filter.EndDate.IsZero() {
		query += " AND s.timestamp <= ?"
		args = append(args, filter.EndDate)
	}
	return query, args
}

// GetAll returns snapshots matching filter, newest first.
func (r *SnapshotRepository) GetAll(filter *model.SnapshotFilter) ([]model.Snapshot, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query, args := where(`
		SELECT DISTINCT `+snapshotColumns+`
		FROM snapshots s
		LEFT JOIN detections d ON s.id = d.snapshot_id
		WHERE 1=1
	`, filter)

	query += " ORDER BY s.timestamp DESC, s.id DESC"
	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query snapshots")
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		s, err := scanSnapshot(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan snapshot")
		}
		snapshots = append(snapshots, *s)
	}
	return snapshots, rows.Err()
}

// GetTotalCount counts snapshots matching filter, ignoring paging.
func (r *SnapshotRepository) GetTotalCount(filter *model.SnapshotFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	query, args := where(`
		SELECT COUNT(DISTINCT s.id)
		FROM snapshots s
		LEFT JOIN detections d ON s.id = d.snapshot_id
		WHERE 1=1
	`, filter)

	var count int
	if err := r.db.Conn().QueryRow(query, args...).Scan(&count); err != nil {
		return 0, errors.Wrap(err, "failed to count snapshots")
	}
	return count, nil
}

// GetProviders returns the provider kinds that produced snapshots.
func (r *SnapshotRepository) GetProviders() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT provider FROM snapshots ORDER BY provider`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query providers")
	}
	defer rows.Close()

	var providers []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, errors.Wrap(err, "failed to scan provider")
		}
		providers = append(providers, p)
	}
	return providers, rows.Err()
}

// Delete removes a snapshot and its detections.
func (r *SnapshotRepository) Delete(id int64) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE snapshot_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete snapshot")
	}
	return nil
}

// DeleteByFilename removes the snapshot stored under filename. Unknown names
// are not an error.
func (r *SnapshotRepository) DeleteByFilename(filename string) error {
	r.db.Lock()
	defer r.db.Unlock()

	var id int64
	err := r.db.Conn().QueryRow(`SELECT id FROM snapshots WHERE filename = ?`, filename).Scan(&id)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "failed to get snapshot id")
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE snapshot_id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete snapshot")
	}
	return nil
}

// DeleteAll empties the catalogue.
func (r *SnapshotRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return errors.Wrap(err, "failed to delete detections")
	}
	if _, err := r.db.Conn().Exec(`DELETE FROM snapshots`); err != nil {
		return errors.Wrap(err, "failed to delete snapshots")
	}
	return nil
}
