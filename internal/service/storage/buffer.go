package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"

	"yolooverlay/internal/config"
	"yolooverlay/internal/dto"
	"yolooverlay/internal/logger"
	"yolooverlay/internal/model"
	"yolooverlay/internal/repository"
)

const timestampLayout = "2006-01-02_15-04-05.000"

// nameEscaper keeps the "_" separator and path characters out of the parts
// of a snapshot name. url.PathUnescape reverses it.
var nameEscaper = strings.NewReplacer("%", "%25", "_", "%5F", " ", "%20", "/", "%2F", "\\", "%5C")

// Labeler resolves class indices to names.
type Labeler interface {
	Name(classIndex int) string
}

type indexLabels struct{}

func (indexLabels) Name(classIndex int) string { return fmt.Sprintf("class_%d", classIndex) }

// BufferService buffers annotated frames in memory and periodically flushes
// them to the snapshot directory and the catalogue.
type BufferService struct {
	dir           string
	limit         int
	interval      time.Duration
	clock         clock.Clock
	labels        Labeler
	logger        *logger.Logger
	snapshotRepo  repository.SnapshotRepository
	detectionRepo repository.DetectionRepository

	mu          sync.Mutex
	snapshots   []dto.BufferedSnapshot
	bufferCount map[string]int
}

// NewBufferService creates a BufferService. Either repository may be nil, in
// which case only files are written.
func NewBufferService(cfg *config.Config, labels Labeler, logger *logger.Logger, clk clock.Clock,
	snapshotRepo repository.SnapshotRepository, detectionRepo repository.DetectionRepository) *BufferService {
	if clk == nil {
		clk = clock.New()
	}
	if labels == nil {
		labels = indexLabels{}
	}
	return &BufferService{
		dir:           cfg.SnapshotDirectory,
		limit:         cfg.SnapshotLimit,
		interval:      cfg.SnapshotFlushInterval,
		clock:         clk,
		labels:        labels,
		logger:        logger,
		snapshotRepo:  snapshotRepo,
		detectionRepo: detectionRepo,
		bufferCount:   make(map[string]int),
	}
}

// Dir returns the directory snapshots are written to.
func (s *BufferService) Dir() string {
	return s.dir
}

// Run flushes on every interval until ctx is cancelled, then flushes once more.
func (s *BufferService) Run(ctx context.Context) error {
	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.Flush()
			return nil
		case <-ticker.C:
			s.Flush()
		}
	}
}

// AddFrame encodes frame as JPEG and buffers it with its detections. Frames
// beyond the per-provider limit of the current flush window are dropped.
func (s *BufferService) AddFrame(frame gocv.Mat, provider string, results []model.DetectionResult) {
	if len(results) == 0 {
		return
	}

	s.mu.Lock()
	full := s.bufferCount[provider] >= s.limit
	s.mu.Unlock()
	if full {
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		s.logger.Error("Error encoding snapshot: %v", err)
		return
	}
	data := append([]byte(nil), buf.GetBytes()...)
	buf.Close()

	s.Add(dto.BufferedSnapshot{
		Timestamp: s.clock.Now(),
		Provider:  provider,
		Results:   append([]model.DetectionResult(nil), results...),
		Data:      data,
	})
}

// Add buffers an already encoded snapshot.
func (s *BufferService) Add(snapshot dto.BufferedSnapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.bufferCount[snapshot.Provider] >= s.limit {
		return
	}
	s.snapshots = append(s.snapshots, snapshot)
	s.bufferCount[snapshot.Provider]++
	s.logger.Info("Buffer size for %s: %d/%d", snapshot.Provider, s.bufferCount[snapshot.Provider], s.limit)
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshots)
}

// Flush writes buffered snapshots to disk and the catalogue, then resets the
// buffer and the per-provider counters. It returns how many were saved.
func (s *BufferService) Flush() int {
	s.mu.Lock()
	pending := s.snapshots
	s.snapshots = nil
	s.bufferCount = make(map[string]int)
	s.mu.Unlock()

	if len(pending) == 0 {
		return 0
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.logger.Error("Error creating directory: %v", err)
		return 0
	}

	saved := 0
	for _, snapshot := range pending {
		if err := s.save(snapshot); err != nil {
			s.logger.Error("%v", err)
			continue
		}
		saved++
	}

	s.logger.Info("Flushed %d snapshots to disk", saved)
	return saved
}

func (s *BufferService) save(snapshot dto.BufferedSnapshot) error {
	filename := s.filename(snapshot)
	fullpath := filepath.Join(s.dir, filename)

	if err := os.WriteFile(fullpath, snapshot.Data, 0644); err != nil {
		return errors.Wrapf(err, "error saving snapshot %s", filename)
	}

	if s.snapshotRepo == nil {
		return nil
	}

	id, err := s.snapshotRepo.Insert(&model.Snapshot{
		Filename:  filename,
		Provider:  snapshot.Provider,
		Timestamp: snapshot.Timestamp,
		FilePath:  fullpath,
		FileSize:  int64(len(snapshot.Data)),
	})
	if err != nil {
		return errors.Wrapf(err, "error saving snapshot %s to database", filename)
	}

	if s.detectionRepo == nil {
		return nil
	}

	detections := make([]model.Detection, 0, len(snapshot.Results))
	for _, r := range snapshot.Results {
		detections = append(detections, model.Detection{
			SnapshotID: id,
			ClassIndex: r.ClassIndex,
			Label:      s.labels.Name(r.ClassIndex),
			X:          r.Box.X,
			Y:          r.Box.Y,
			Width:      r.Box.Width,
			Height:     r.Box.Height,
			Score:      r.Score,
		})
	}
	return errors.Wrap(s.detectionRepo.InsertBatch(detections), "error saving detections to database")
}

// filename builds "<timestamp>_<provider>_<labels>_<id>.jpg" with every
// provider and label part escaped by nameEscaper.
func (s *BufferService) filename(snapshot dto.BufferedSnapshot) string {
	seen := make(map[string]bool)
	var labels []string
	for _, r := range snapshot.Results {
		name := nameEscaper.Replace(s.labels.Name(r.ClassIndex))
		if !seen[name] {
			seen[name] = true
			labels = append(labels, name)
		}
	}
	return fmt.Sprintf("%s_%s_%s_%s.jpg",
		snapshot.Timestamp.Format(timestampLayout),
		nameEscaper.Replace(snapshot.Provider),
		strings.Join(labels, "_"),
		uuid.NewString()[:8])
}

// Delete removes one snapshot file and its catalogue entry.
func (s *BufferService) Delete(filename string) error {
	name := filepath.Base(filename)
	if name != filename || name == "." || name == ".." {
		return errors.Errorf("invalid snapshot name %q", filename)
	}

	if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "failed to delete %s", name)
	}
	if s.snapshotRepo != nil {
		return s.snapshotRepo.DeleteByFilename(name)
	}
	return nil
}

// Clear removes every snapshot file and empties the catalogue.
func (s *BufferService) Clear() error {
	files, err := os.ReadDir(s.dir)
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "unable to read snapshot directory")
	}

	for _, file := range files {
		if file.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, file.Name())); err != nil {
			s.logger.Error("Error deleting file %s: %v", file.Name(), err)
		}
	}

	if s.snapshotRepo != nil {
		return s.snapshotRepo.DeleteAll()
	}
	return nil
}
