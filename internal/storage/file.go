package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"pinga/internal/domain"
	logx "pinga/pkg/logx"
)

// fileStore persists to plain files next to cfg.Path.
//
// Files:
//   - <prefix>.deliveries.jsonl            (append-only JSON Lines)
//   - <prefix>.recipients.snapshot.json    (compacted recipient documents)
//   - <prefix>.recipients.journal.jsonl    (append-only recipient upserts)
//
// The whole log is also held in memory for listing. Pruning rewrites the log
// file; the recipient journal is folded into the snapshot every
// compactEvery writes.
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	logPath string
	logFile *os.File
	logs    []domain.DeliveryLogEntry

	snapshotPath string
	journalFile  *os.File
	recipients   map[string]json.RawMessage
	writes       int
}

const compactEvery = 200

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}

	dir := filepath.Dir(path)
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:          log,
		logPath:      prefix + ".deliveries.jsonl",
		snapshotPath: prefix + ".recipients.snapshot.json",
		recipients:   map[string]json.RawMessage{},
	}
	journalPath := prefix + ".recipients.journal.jsonl"

	logs, err := readLogFile(s.logPath)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read delivery log: %w", err)
	}
	s.logs = logs

	if err := loadSnapshot(s.snapshotPath, s.recipients); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("recipient snapshot unreadable", logx.String("path", s.snapshotPath), logx.Any("err", err))
	}
	if err := replayJournal(journalPath, s.recipients); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("recipient journal unreadable", logx.String("path", journalPath), logx.Any("err", err))
	}

	s.logFile, err = os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.journalFile, err = os.OpenFile(journalPath, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o600)
	if err != nil {
		_ = s.logFile.Close()
		return nil, err
	}

	log.Info("file storage opened",
		logx.String("path", prefix),
		logx.Int("delivery_logs", len(s.logs)),
		logx.Int("recipients", len(s.recipients)),
	)
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var err1, err2 error
	if s.logFile != nil {
		err1 = s.logFile.Close()
		s.logFile = nil
	}
	if s.journalFile != nil {
		err2 = s.journalFile.Close()
		s.journalFile = nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

func (s *fileStore) AppendDeliveryLog(_ context.Context, e domain.DeliveryLogEntry) error {
	e = prepareEntry(e)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.logFile).Encode(e); err != nil {
		return err
	}
	s.logs = append(s.logs, e)
	return nil
}

func (s *fileStore) ListDeliveryLogs(_ context.Context, userID string, limit int) ([]domain.DeliveryLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return nil, ErrDisabled
	}
	return newestFirst(s.logs, userID, normalizeLimit(limit)), nil
}

func (s *fileStore) PruneDeliveryLogs(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.logFile == nil {
		return 0, ErrDisabled
	}
	kept, removed := pruneBefore(s.logs, before)
	s.logs = kept
	if removed == 0 {
		return 0, nil
	}
	if err := s.rewriteLogLocked(); err != nil {
		return removed, fmt.Errorf("rewrite delivery log: %w", err)
	}
	return removed, nil
}

// rewriteLogLocked replaces the log file with the in-memory entries.
func (s *fileStore) rewriteLogLocked() error {
	tmp := s.logPath + ".tmp"
	if err := writeJSONLines(tmp, s.logs); err != nil {
		return err
	}
	if err := s.logFile.Close(); err != nil {
		s.log.Debug("close delivery log", logx.Any("err", err))
	}
	if err := os.Rename(tmp, s.logPath); err != nil {
		return err
	}
	f, err := os.OpenFile(s.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		s.logFile = nil
		return err
	}
	s.logFile = f
	return nil
}

func (s *fileStore) GetRecipient(_ context.Context, id string) (domain.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return domain.Recipient{}, ErrDisabled
	}
	raw, ok := s.recipients[id]
	if !ok {
		return domain.Recipient{}, ErrNotFound
	}
	return decodeRecipient(raw)
}

type recipientRecord struct {
	ID  string          `json:"id"`
	Doc json.RawMessage `json:"doc"`
}

func (s *fileStore) PutRecipient(_ context.Context, r domain.Recipient) error {
	if err := validRecipientID(r.ID); err != nil {
		return err
	}
	doc, err := encodeRecipient(r)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journalFile == nil {
		return ErrDisabled
	}
	if err := json.NewEncoder(s.journalFile).Encode(recipientRecord{ID: r.ID, Doc: doc}); err != nil {
		return err
	}
	s.recipients[r.ID] = doc
	s.writes++
	if s.writes%compactEvery == 0 {
		if err := s.compactLocked(); err != nil {
			s.log.Debug("recipient compact failed", logx.Any("err", err))
		}
	}
	return nil
}

func (s *fileStore) compactLocked() error {
	tmp := s.snapshotPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.recipients); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		return err
	}
	if err := s.journalFile.Truncate(0); err != nil {
		return err
	}
	_, err = s.journalFile.Seek(0, io.SeekEnd)
	return err
}

func readLogFile(path string) ([]domain.DeliveryLogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []domain.DeliveryLogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		var e domain.DeliveryLogEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil || e.ID == "" {
			continue
		}
		out = append(out, e)
	}
	return out, sc.Err()
}

func writeJSONLines(path string, logs []domain.DeliveryLogEntry) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, e := range logs {
		if err := enc.Encode(e); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func loadSnapshot(path string, out map[string]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	var m map[string]json.RawMessage
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return err
	}
	for k, v := range m {
		out[k] = v
	}
	return nil
}

func replayJournal(path string, out map[string]json.RawMessage) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64<<10), 4<<20)
	for sc.Scan() {
		var r recipientRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil || r.ID == "" {
			continue
		}
		out[r.ID] = r.Doc
	}
	return sc.Err()
}
