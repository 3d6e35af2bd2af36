package storage

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"yolooverlay/internal/model"
)

// ParseFilename splits a snapshot name built by the archive back into its
// timestamp, provider and labels.
func ParseFilename(name string) (time.Time, string, []string, error) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	parts := strings.Split(base, "_")
	if len(parts) < 4 {
		return time.Time{}, "", nil, errors.Errorf("unexpected snapshot name %q", name)
	}

	ts, err := time.ParseInLocation(timestampLayout, parts[0]+"_"+parts[1], time.Local)
	if err != nil {
		return time.Time{}, "", nil, errors.Wrapf(err, "bad timestamp in %q", name)
	}

	provider, err := url.PathUnescape(parts[2])
	if err != nil {
		return time.Time{}, "", nil, errors.Wrapf(err, "bad provider in %q", name)
	}

	var labels []string
	// the last part is the unique suffix
	for _, l := range parts[3 : len(parts)-1] {
		if l == "" {
			continue
		}
		label, err := url.PathUnescape(l)
		if err != nil {
			return time.Time{}, "", nil, errors.Wrapf(err, "bad label in %q", name)
		}
		labels = append(labels, label)
	}
	return ts, provider, labels, nil
}

// Reindex adds catalogue entries for snapshot files that have none, for
// example after the database was deleted. Detections recovered this way only
// carry their label.
func (s *BufferService) Reindex() (indexed, skipped int, err error) {
	if s.snapshotRepo == nil {
		return 0, 0, errors.New("no snapshot catalogue configured")
	}

	files, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to read snapshot directory")
	}

	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".jpg" {
			continue
		}

		existing, err := s.snapshotRepo.GetByFilename(file.Name())
		if err != nil {
			return indexed, skipped, err
		}
		if existing != nil {
			continue
		}

		ts, provider, labels, err := ParseFilename(file.Name())
		if err != nil {
			s.logger.Warning("Skipping %s: %v", file.Name(), err)
			skipped++
			continue
		}

		info, err := file.Info()
		if err != nil {
			s.logger.Warning("Failed to get info for %s: %v", file.Name(), err)
			skipped++
			continue
		}

		id, err := s.snapshotRepo.Insert(&model.Snapshot{
			Filename:  file.Name(),
			Provider:  provider,
			Timestamp: ts,
			FilePath:  filepath.Join(s.dir, file.Name()),
			FileSize:  info.Size(),
		})
		if err != nil {
			return indexed, skipped, err
		}

		if s.detectionRepo != nil && len(labels) > 0 {
			detections := make([]model.Detection, 0, len(labels))
			for _, l := range labels {
				detections = append(detections, model.Detection{SnapshotID: id, ClassIndex: -1, Label: l})
			}
			if err := s.detectionRepo.InsertBatch(detections); err != nil {
				return indexed, skipped, err
			}
		}
		indexed++
	}

	s.logger.Info("Reindexed %d snapshots, skipped %d", indexed, skipped)
	return indexed, skipped, nil
}
