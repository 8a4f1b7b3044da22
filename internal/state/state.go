// Package state implements the durable pipeline ledger: per-stage completion
// and failure tracking keyed by call id, date-range deduplication for call-log
// extraction, and the archive bookkeeping for processed artifacts. The ledger
// is a single JSON document rewritten atomically on every mutation; it is the
// sole source of truth for idempotency across restarts.
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/brokerdesk/callpipe/internal/model"
)

const (
	documentVersion = "1.0.0"
	stateFileName   = "pipeline_state.json"

	// statusCompleted is the only value that marks a call as done for a
	// stage; absence of an entry means "not yet attempted".
	statusCompleted = "completed"
)

// DateRange records one processed extraction window.
type DateRange struct {
	StartDate   string    `json:"start_date"`
	EndDate     string    `json:"end_date"`
	CallCount   int       `json:"call_count"`
	ProcessedAt time.Time `json:"processed_at"`
}

// SuccessEntry marks a call id as completed for a stage. Only the fields
// relevant to the stage are populated.
type SuccessEntry struct {
	Status         string    `json:"status"`
	BrokerID       string    `json:"broker_id,omitempty"`
	Filename       string    `json:"filename,omitempty"`
	Filepath       string    `json:"filepath,omitempty"`
	TranscriptPath string    `json:"transcript_path,omitempty"`
	URL            string    `json:"url,omitempty"`
	Category       string    `json:"category,omitempty"`
	CompletedAt    time.Time `json:"completed_at"`
}

// FailureEntry records the most recent failure for a call id at a stage.
type FailureEntry struct {
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// ArchiveRecord describes one file moved into the archive tree.
type ArchiveRecord struct {
	CallID           string    `json:"call_id,omitempty"`
	OriginalFilename string    `json:"original_filename"`
	ArchivePath      string    `json:"archive_path"`
	ArchivedAt       time.Time `json:"archived_at"`
}

type extractStage struct {
	ProcessedDateRanges []DateRange `json:"processed_date_ranges"`
	TotalCallsExtracted int         `json:"total_calls_extracted"`
	LastRun             *time.Time  `json:"last_run"`
}

type downloadStage struct {
	DownloadedFiles map[string]SuccessEntry `json:"downloaded_files"`
	FailedDownloads map[string]FailureEntry `json:"failed_downloads"`
	TotalDownloaded int                     `json:"total_downloaded"`
}

type transcribeStage struct {
	TranscribedFiles     map[string]SuccessEntry `json:"transcribed_files"`
	FailedTranscriptions map[string]FailureEntry `json:"failed_transcriptions"`
	TotalTranscribed     int                     `json:"total_transcribed"`
}

type uploadStage struct {
	UploadedFiles map[string]SuccessEntry `json:"uploaded_files"`
	FailedUploads map[string]FailureEntry `json:"failed_uploads"`
	TotalUploaded int                     `json:"total_uploaded"`
}

type analyzeStage struct {
	AnalyzedCalls  map[string]SuccessEntry `json:"analyzed_calls"`
	FailedAnalyses map[string]FailureEntry `json:"failed_analyses"`
	TotalAnalyzed  int                     `json:"total_analyzed"`
}

type stageSet struct {
	GetCallIDs    extractStage    `json:"get_call_ids"`
	DownloadAudio downloadStage   `json:"download_audio"`
	Transcribe    transcribeStage `json:"transcribe"`
	UploadAudio   uploadStage     `json:"upload_audio"`
	Analyze       analyzeStage    `json:"analyze"`
}

type document struct {
	Version       string                     `json:"version"`
	Created       time.Time                  `json:"created"`
	LastUpdated   time.Time                  `json:"last_updated"`
	Stages        stageSet                   `json:"stages"`
	ArchivedFiles map[string][]ArchiveRecord `json:"archived_files"`
}

func newDocument(now time.Time) *document {
	return &document{
		Version:     documentVersion,
		Created:     now,
		LastUpdated: now,
		Stages: stageSet{
			GetCallIDs: extractStage{
				ProcessedDateRanges: []DateRange{},
			},
			DownloadAudio: downloadStage{
				DownloadedFiles: map[string]SuccessEntry{},
				FailedDownloads: map[string]FailureEntry{},
			},
			Transcribe: transcribeStage{
				TranscribedFiles:     map[string]SuccessEntry{},
				FailedTranscriptions: map[string]FailureEntry{},
			},
			UploadAudio: uploadStage{
				UploadedFiles: map[string]SuccessEntry{},
				FailedUploads: map[string]FailureEntry{},
			},
			Analyze: analyzeStage{
				AnalyzedCalls:  map[string]SuccessEntry{},
				FailedAnalyses: map[string]FailureEntry{},
			},
		},
		ArchivedFiles: map[string][]ArchiveRecord{
			CategoryCallIDs:     {},
			CategoryAudio:       {},
			CategoryTranscripts: {},
		},
	}
}

// Store owns the ledger document and its on-disk representation. One process
// owns the state file for the duration of a run; there is no cross-process
// locking.
type Store struct {
	mu         sync.Mutex
	baseDir    string
	statePath  string
	archiveDir string
	doc        *document
	now        func() time.Time
}

// Open loads the ledger from <baseDir>/logs/pipeline_state.json, creating the
// log and archive directory trees if absent. A missing state file yields a
// fresh document. A corrupt state file is moved aside to
// pipeline_state.json.corrupt and replaced with a fresh document; this is a
// deliberate never-block-the-pipeline policy, logged as a warning.
func Open(baseDir string) (*Store, error) {
	s := &Store{
		baseDir:    baseDir,
		statePath:  filepath.Join(baseDir, "logs", stateFileName),
		archiveDir: filepath.Join(baseDir, "archive"),
		now:        time.Now,
	}

	dirs := []string{
		filepath.Join(baseDir, "logs"),
		s.archiveDir,
		filepath.Join(s.archiveDir, CategoryCallIDs),
		filepath.Join(s.archiveDir, CategoryAudio),
		filepath.Join(s.archiveDir, CategoryTranscripts),
		filepath.Join(s.archiveDir, "failed"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "state: create directory %s", dir)
		}
	}

	doc, err := s.load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

func (s *Store) load() (*document, error) {
	data, err := os.ReadFile(s.statePath)
	if os.IsNotExist(err) {
		return newDocument(s.now().UTC()), nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "state: read state file")
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		corruptPath := s.statePath + ".corrupt"
		zap.L().Warn("state: ledger unreadable, starting fresh",
			zap.String("path", s.statePath),
			zap.String("moved_to", corruptPath),
			zap.Error(err),
		)
		if renameErr := os.Rename(s.statePath, corruptPath); renameErr != nil {
			zap.L().Warn("state: could not preserve corrupt ledger", zap.Error(renameErr))
		}
		return newDocument(s.now().UTC()), nil
	}

	// Maps round-trip as nil when empty in older documents.
	fresh := newDocument(s.now().UTC())
	if doc.Stages.DownloadAudio.DownloadedFiles == nil {
		doc.Stages.DownloadAudio.DownloadedFiles = fresh.Stages.DownloadAudio.DownloadedFiles
	}
	if doc.Stages.DownloadAudio.FailedDownloads == nil {
		doc.Stages.DownloadAudio.FailedDownloads = fresh.Stages.DownloadAudio.FailedDownloads
	}
	if doc.Stages.Transcribe.TranscribedFiles == nil {
		doc.Stages.Transcribe.TranscribedFiles = fresh.Stages.Transcribe.TranscribedFiles
	}
	if doc.Stages.Transcribe.FailedTranscriptions == nil {
		doc.Stages.Transcribe.FailedTranscriptions = fresh.Stages.Transcribe.FailedTranscriptions
	}
	if doc.Stages.UploadAudio.UploadedFiles == nil {
		doc.Stages.UploadAudio.UploadedFiles = fresh.Stages.UploadAudio.UploadedFiles
	}
	if doc.Stages.UploadAudio.FailedUploads == nil {
		doc.Stages.UploadAudio.FailedUploads = fresh.Stages.UploadAudio.FailedUploads
	}
	if doc.Stages.Analyze.AnalyzedCalls == nil {
		doc.Stages.Analyze.AnalyzedCalls = fresh.Stages.Analyze.AnalyzedCalls
	}
	if doc.Stages.Analyze.FailedAnalyses == nil {
		doc.Stages.Analyze.FailedAnalyses = fresh.Stages.Analyze.FailedAnalyses
	}
	if doc.ArchivedFiles == nil {
		doc.ArchivedFiles = fresh.ArchivedFiles
	}
	return &doc, nil
}

// save persists the full document via write-temp-then-rename so a crash
// mid-write never leaves a torn ledger. Callers must hold s.mu.
func (s *Store) save() error {
	s.doc.LastUpdated = s.now().UTC()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return eris.Wrap(err, "state: marshal ledger")
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.statePath), stateFileName+".tmp-*")
	if err != nil {
		return eris.Wrap(err, "state: create temp file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return eris.Wrap(err, "state: write temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "state: close temp file")
	}
	if err := os.Rename(tmpPath, s.statePath); err != nil {
		os.Remove(tmpPath)
		return eris.Wrap(err, "state: replace state file")
	}
	return nil
}

// BaseDir returns the pipeline base directory the store was opened with.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// LastUpdated returns the timestamp of the most recent persisted mutation.
func (s *Store) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.LastUpdated
}

// === date-range deduplication ===

// IsDateRangeProcessed reports whether the exact range has been extracted
// before. Matching is exact on both bounds; overlapping ranges are not
// detected.
func (s *Store) IsDateRangeProcessed(start, end string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.doc.Stages.GetCallIDs.ProcessedDateRanges {
		if r.StartDate == start && r.EndDate == end {
			return true
		}
	}
	return false
}

// MarkDateRangeProcessed records a completed extraction window and adds its
// call count to the running total.
func (s *Store) MarkDateRangeProcessed(start, end string, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	s.doc.Stages.GetCallIDs.ProcessedDateRanges = append(
		s.doc.Stages.GetCallIDs.ProcessedDateRanges,
		DateRange{StartDate: start, EndDate: end, CallCount: count, ProcessedAt: now},
	)
	s.doc.Stages.GetCallIDs.TotalCallsExtracted += count
	s.doc.Stages.GetCallIDs.LastRun = &now
	return s.save()
}

// === idempotency predicates ===

// IsAudioDownloaded reports whether the call's recording has been downloaded.
func (s *Store) IsAudioDownloaded(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return isCompleted(s.doc.Stages.DownloadAudio.DownloadedFiles, callID)
}

// IsTranscribed reports whether the call has been transcribed.
func (s *Store) IsTranscribed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return isCompleted(s.doc.Stages.Transcribe.TranscribedFiles, callID)
}

// IsAudioUploaded reports whether the call's recording has been uploaded.
func (s *Store) IsAudioUploaded(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return isCompleted(s.doc.Stages.UploadAudio.UploadedFiles, callID)
}

// IsAnalyzed reports whether the call has been analyzed.
func (s *Store) IsAnalyzed(callID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return isCompleted(s.doc.Stages.Analyze.AnalyzedCalls, callID)
}

func isCompleted(m map[string]SuccessEntry, callID string) bool {
	e, ok := m[callID]
	return ok && e.Status == statusCompleted
}

// === stage mutators ===
//
// Each mutator updates the in-memory document and persists before returning.
// Marking a success clears any failure entry for the call id (a call is in at
// most one of the two maps), and increments the stage total only on a fresh
// completion so repeated marks cannot double count.

// MarkAudioDownloaded records a completed recording download.
func (s *Store) MarkAudioDownloaded(callID, brokerID, filename, path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.doc.Stages.DownloadAudio
	fresh := !isCompleted(st.DownloadedFiles, callID)
	st.DownloadedFiles[callID] = SuccessEntry{
		Status:      statusCompleted,
		BrokerID:    brokerID,
		Filename:    filename,
		Filepath:    path,
		CompletedAt: s.now().UTC(),
	}
	delete(st.FailedDownloads, callID)
	if fresh {
		st.TotalDownloaded++
	}
	return s.save()
}

// MarkAudioDownloadFailed records a failed recording download.
func (s *Store) MarkAudioDownloadFailed(callID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Stages.DownloadAudio.FailedDownloads[callID] = newFailure(cause, s.now())
	return s.save()
}

// MarkTranscribed records a completed transcription.
func (s *Store) MarkTranscribed(callID, filename, transcriptPath string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.doc.Stages.Transcribe
	fresh := !isCompleted(st.TranscribedFiles, callID)
	st.TranscribedFiles[callID] = SuccessEntry{
		Status:         statusCompleted,
		Filename:       filename,
		TranscriptPath: transcriptPath,
		CompletedAt:    s.now().UTC(),
	}
	delete(st.FailedTranscriptions, callID)
	if fresh {
		st.TotalTranscribed++
	}
	return s.save()
}

// MarkTranscriptionFailed records a failed transcription.
func (s *Store) MarkTranscriptionFailed(callID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Stages.Transcribe.FailedTranscriptions[callID] = newFailure(cause, s.now())
	return s.save()
}

// MarkAudioUploaded records a completed upload and the returned public URL.
func (s *Store) MarkAudioUploaded(callID, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.doc.Stages.UploadAudio
	fresh := !isCompleted(st.UploadedFiles, callID)
	st.UploadedFiles[callID] = SuccessEntry{
		Status:      statusCompleted,
		URL:         url,
		CompletedAt: s.now().UTC(),
	}
	delete(st.FailedUploads, callID)
	if fresh {
		st.TotalUploaded++
	}
	return s.save()
}

// MarkAudioUploadFailed records a failed upload.
func (s *Store) MarkAudioUploadFailed(callID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Stages.UploadAudio.FailedUploads[callID] = newFailure(cause, s.now())
	return s.save()
}

// MarkAnalyzed records a completed analysis and its category.
func (s *Store) MarkAnalyzed(callID, category string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := &s.doc.Stages.Analyze
	fresh := !isCompleted(st.AnalyzedCalls, callID)
	st.AnalyzedCalls[callID] = SuccessEntry{
		Status:      statusCompleted,
		Category:    category,
		CompletedAt: s.now().UTC(),
	}
	delete(st.FailedAnalyses, callID)
	if fresh {
		st.TotalAnalyzed++
	}
	return s.save()
}

// MarkAnalysisFailed records a failed analysis.
func (s *Store) MarkAnalysisFailed(callID string, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc.Stages.Analyze.FailedAnalyses[callID] = newFailure(cause, s.now())
	return s.save()
}

func newFailure(cause error, now time.Time) FailureEntry {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	return FailureEntry{Error: msg, FailedAt: now.UTC()}
}

// === queries ===

// Stats returns the running totals and the derived completion rate. The rate
// is analyzed/extracted as a percentage string with one decimal, "0%" when
// nothing has been extracted.
func (s *Store) Stats() model.ProcessingStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.doc.Stages
	archived := 0
	for _, records := range s.doc.ArchivedFiles {
		archived += len(records)
	}

	stats := model.ProcessingStats{
		TotalCallsExtracted: st.GetCallIDs.TotalCallsExtracted,
		AudioDownloaded:     st.DownloadAudio.TotalDownloaded,
		Transcribed:         st.Transcribe.TotalTranscribed,
		Uploaded:            st.UploadAudio.TotalUploaded,
		Analyzed:            st.Analyze.TotalAnalyzed,
		ArchivedFiles:       archived,
		CompletionRate:      "0%",
	}
	if stats.TotalCallsExtracted > 0 {
		rate := float64(stats.Analyzed) / float64(stats.TotalCallsExtracted) * 100
		stats.CompletionRate = fmt.Sprintf("%.1f%%", rate)
	}
	return stats
}

// FailedItems returns the call ids currently present in each stage's failure
// map, sorted for stable output.
func (s *Store) FailedItems() model.FailedItems {
	s.mu.Lock()
	defer s.mu.Unlock()

	return model.FailedItems{
		Downloads:      sortedKeys(s.doc.Stages.DownloadAudio.FailedDownloads),
		Transcriptions: sortedKeys(s.doc.Stages.Transcribe.FailedTranscriptions),
		Uploads:        sortedKeys(s.doc.Stages.UploadAudio.FailedUploads),
		Analyses:       sortedKeys(s.doc.Stages.Analyze.FailedAnalyses),
	}
}

func sortedKeys(m map[string]FailureEntry) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CallsForProcessing returns the call ids eligible for the given stage. The
// baseline is the set of calls with a completed download; each stage then
// filters by its readiness rule: transcribe needs no prior transcription,
// upload needs no prior upload, analyze needs transcription and upload done
// but no prior analysis. Results are sorted.
func (s *Store) CallsForProcessing(stage model.Stage) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	downloaded := make([]string, 0, len(s.doc.Stages.DownloadAudio.DownloadedFiles))
	for id, e := range s.doc.Stages.DownloadAudio.DownloadedFiles {
		if e.Status == statusCompleted {
			downloaded = append(downloaded, id)
		}
	}
	sort.Strings(downloaded)

	var out []string
	for _, id := range downloaded {
		switch stage {
		case model.StageTranscribe:
			if !isCompleted(s.doc.Stages.Transcribe.TranscribedFiles, id) {
				out = append(out, id)
			}
		case model.StageUploadAudio:
			if !isCompleted(s.doc.Stages.UploadAudio.UploadedFiles, id) {
				out = append(out, id)
			}
		case model.StageAnalyze:
			if isCompleted(s.doc.Stages.Transcribe.TranscribedFiles, id) &&
				isCompleted(s.doc.Stages.UploadAudio.UploadedFiles, id) &&
				!isCompleted(s.doc.Stages.Analyze.AnalyzedCalls, id) {
				out = append(out, id)
			}
		default:
			out = append(out, id)
		}
	}
	return out
}

// DownloadedEntry returns the download record for a call id, if completed.
func (s *Store) DownloadedEntry(callID string) (SuccessEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Stages.DownloadAudio.DownloadedFiles[callID]
	if !ok || e.Status != statusCompleted {
		return SuccessEntry{}, false
	}
	return e, true
}

// TranscribedEntry returns the transcription record for a call id, if completed.
func (s *Store) TranscribedEntry(callID string) (SuccessEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Stages.Transcribe.TranscribedFiles[callID]
	if !ok || e.Status != statusCompleted {
		return SuccessEntry{}, false
	}
	return e, true
}

// UploadedEntry returns the upload record for a call id, if completed.
func (s *Store) UploadedEntry(callID string) (SuccessEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.doc.Stages.UploadAudio.UploadedFiles[callID]
	if !ok || e.Status != statusCompleted {
		return SuccessEntry{}, false
	}
	return e, true
}

// RetryFailed clears the failure map for the named stage only, returning the
// number of entries cleared. The cleared call ids become pending again for
// that stage. get_call_ids has no failure map.
func (s *Store) RetryFailed(stage model.Stage) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int
	switch stage {
	case model.StageDownloadAudio:
		n = len(s.doc.Stages.DownloadAudio.FailedDownloads)
		s.doc.Stages.DownloadAudio.FailedDownloads = map[string]FailureEntry{}
	case model.StageTranscribe:
		n = len(s.doc.Stages.Transcribe.FailedTranscriptions)
		s.doc.Stages.Transcribe.FailedTranscriptions = map[string]FailureEntry{}
	case model.StageUploadAudio:
		n = len(s.doc.Stages.UploadAudio.FailedUploads)
		s.doc.Stages.UploadAudio.FailedUploads = map[string]FailureEntry{}
	case model.StageAnalyze:
		n = len(s.doc.Stages.Analyze.FailedAnalyses)
		s.doc.Stages.Analyze.FailedAnalyses = map[string]FailureEntry{}
	default:
		return 0, eris.Errorf("state: stage %q has no failure map", stage)
	}

	if err := s.save(); err != nil {
		return 0, err
	}
	return n, nil
}

// RetryAllFailed clears every stage's failure map, returning the total number
// of entries cleared.
func (s *Store) RetryAllFailed() (int, error) {
	total := 0
	for _, stage := range []model.Stage{
		model.StageDownloadAudio,
		model.StageTranscribe,
		model.StageUploadAudio,
		model.StageAnalyze,
	} {
		n, err := s.RetryFailed(stage)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}
