package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "tajmer/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.jobs.snapshot.json  (full job map, written on compaction)
//   - <prefix>.jobs.journal.jsonl  (append-only put/del journal)
//   - <prefix>.dedup.snapshot.json (periodic snapshot)
//   - <prefix>.dedup.journal.jsonl (append-only journal)
//
// Journals are periodically compacted into their snapshots.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	jobsSnapshotPath string
	jobsJournalFile  *os.File
	jobs             map[string]Job
	jobWrites        int

	dedupSnapshotPath string
	dedupJournalFile  *os.File
	dedup             map[string]int64 // unix milli
	dedupWrites       int
}

type jobRecord struct {
	Op  string `json:"op"` // "put" or "del"
	Job Job    `json:"job"`
}

type dedupRecord struct {
	Key   string `json:"key"`
	Until int64  `json:"until"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	jobsSnapPath := prefix + ".jobs.snapshot.json"
	jobsJournalPath := prefix + ".jobs.journal.jsonl"
	dedupSnapPath := prefix + ".dedup.snapshot.json"
	dedupJournalPath := prefix + ".dedup.journal.jsonl"

	// Load jobs from snapshot + journal.
	jobs := map[string]Job{}
	_ = loadJobsSnapshot(jobsSnapPath, jobs)
	_ = replayJobsJournal(jobsJournalPath, jobs)

	jjf, err := os.OpenFile(jobsJournalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		return nil, err
	}

	// Load dedup from snapshot + journal.
	dedup := map[string]int64{}
	_ = loadDedupSnapshot(dedupSnapPath, dedup)
	_ = replayDedupJournal(dedupJournalPath, dedup)
	pruneExpiredDedup(dedup)

	djf, err := os.OpenFile(dedupJournalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = jjf.Close()
		return nil, err
	}

	return &fileStore{
		log:               log,
		jobsSnapshotPath:  jobsSnapPath,
		jobsJournalFile:   jjf,
		jobs:              jobs,
		dedupSnapshotPath: dedupSnapPath,
		dedupJournalFile:  djf,
		dedup:             dedup,
	}, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Compact on close so restart recovery reads a fresh snapshot fast.
	if s.jobsJournalFile != nil {
		_ = s.compactJobsLocked()
	}

	var err1, err2 error
	if s.jobsJournalFile != nil {
		err1 = s.jobsJournalFile.Close()
		s.jobsJournalFile = nil
	}
	if s.dedupJournalFile != nil {
		err2 = s.dedupJournalFile.Close()
		s.dedupJournalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) PutJob(ctx context.Context, j Job) error {
	_ = ctx
	if strings.TrimSpace(j.Key) == "" {
		return errors.New("job key is empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobsJournalFile == nil {
		return errors.New("jobs journal closed")
	}
	if s.jobs == nil {
		s.jobs = map[string]Job{}
	}
	s.jobs[j.Key] = j
	return s.appendJobLocked(jobRecord{Op: "put", Job: j})
}

func (s *fileStore) DeleteJob(ctx context.Context, key string) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.jobsJournalFile == nil {
		return errors.New("jobs journal closed")
	}
	if _, ok := s.jobs[key]; !ok {
		return nil
	}
	delete(s.jobs, key)
	return s.appendJobLocked(jobRecord{Op: "del", Job: Job{Key: key}})
}

func (s *fileStore) ListJobs(ctx context.Context) ([]Job, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out, nil
}

func (s *fileStore) appendJobLocked(r jobRecord) error {
	enc := json.NewEncoder(s.jobsJournalFile)
	if err := enc.Encode(r); err != nil {
		return err
	}
	s.jobWrites++
	if s.jobWrites%200 == 0 {
		if err := s.compactJobsLocked(); err != nil {
			s.log.Debug("jobs compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactJobsLocked() error {
	if err := writeSnapshot(s.jobsSnapshotPath, s.jobs); err != nil {
		return err
	}
	return truncateJournal(s.jobsJournalFile)
}

func (s *fileStore) PutDedup(ctx context.Context, key string, until time.Time) error {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return nil
	}
	ms := until.UnixMilli()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dedupJournalFile == nil {
		return errors.New("dedup journal closed")
	}
	if s.dedup == nil {
		s.dedup = map[string]int64{}
	}
	s.dedup[key] = ms

	enc := json.NewEncoder(s.dedupJournalFile)
	if err := enc.Encode(dedupRecord{Key: key, Until: ms}); err != nil {
		return err
	}
	s.dedupWrites++
	if s.dedupWrites%1000 == 0 {
		if err := s.compactDedupLocked(); err != nil {
			s.log.Debug("dedup compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) GetDedup(ctx context.Context, key string) (time.Time, bool, error) {
	_ = ctx
	key = strings.TrimSpace(key)
	if key == "" {
		return time.Time{}, false, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.dedup[key]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) compactDedupLocked() error {
	pruneExpiredDedup(s.dedup)
	if err := writeSnapshot(s.dedupSnapshotPath, s.dedup); err != nil {
		return err
	}
	return truncateJournal(s.dedupJournalFile)
}

func writeSnapshot(path string, v any) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(v); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func truncateJournal(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	_, err := f.Seek(0, 2)
	return err
}

func loadJobsSnapshot(path string, out map[string]Job) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]Job
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJobsJournal(path string, out map[string]Job) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r jobRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		switch r.Op {
		case "put":
			if r.Job.Key != "" {
				out[r.Job.Key] = r.Job
			}
		case "del":
			delete(out, r.Job.Key)
		}
	}
	return sc.Err()
}

func loadDedupSnapshot(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]int64
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayDedupJournal(path string, out map[string]int64) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var r dedupRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			continue
		}
		if r.Key == "" {
			continue
		}
		out[r.Key] = r.Until
	}
	return sc.Err()
}

func pruneExpiredDedup(m map[string]int64) {
	now := time.Now().UnixMilli()
	for k, v := range m {
		if v < now {
			delete(m, k)
		}
	}
}
