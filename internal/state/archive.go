package state

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Archive categories. Each maps to a subtree under <base>/archive.
const (
	CategoryCallIDs     = "call_ids"
	CategoryAudio       = "audio"
	CategoryTranscripts = "transcripts"
)

func validCategory(category string) bool {
	switch category {
	case CategoryCallIDs, CategoryAudio, CategoryTranscripts:
		return true
	}
	return false
}

// ArchiveFile moves a processed artifact into a date-stamped subdirectory
// under the archive root and records it in the ledger. The move is
// all-or-nothing: on any failure (missing source, permissions, cross-device
// rename) the ledger is left untouched and the error is returned. Callers
// treat archive failures as non-fatal to the enclosing stage.
func (s *Store) ArchiveFile(sourcePath, category, callID string) (string, error) {
	if !validCategory(category) {
		return "", eris.Errorf("state: unknown archive category %q", category)
	}

	if _, err := os.Stat(sourcePath); err != nil {
		zap.L().Warn("state: archive source missing",
			zap.String("path", sourcePath),
			zap.String("category", category),
		)
		return "", eris.Wrapf(err, "state: archive source %s", sourcePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	destDir := filepath.Join(s.archiveDir, category, now.Format("2006-01-02"))
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", eris.Wrapf(err, "state: create archive directory %s", destDir)
	}

	filename := filepath.Base(sourcePath)
	destPath := filepath.Join(destDir, filename)
	if err := os.Rename(sourcePath, destPath); err != nil {
		zap.L().Warn("state: archive move failed",
			zap.String("source", sourcePath),
			zap.String("dest", destPath),
			zap.Error(err),
		)
		return "", eris.Wrapf(err, "state: move %s to archive", filename)
	}

	s.doc.ArchivedFiles[category] = append(s.doc.ArchivedFiles[category], ArchiveRecord{
		CallID:           callID,
		OriginalFilename: filename,
		ArchivePath:      destPath,
		ArchivedAt:       now,
	})
	if err := s.save(); err != nil {
		return "", err
	}

	zap.L().Debug("state: archived file",
		zap.String("file", filename),
		zap.String("category", category),
	)
	return destPath, nil
}

// ArchivedFiles returns the archive records for a category, oldest first.
func (s *Store) ArchivedFiles(category string) []ArchiveRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.doc.ArchivedFiles[category]
	out := make([]ArchiveRecord, len(records))
	copy(out, records)
	return out
}
