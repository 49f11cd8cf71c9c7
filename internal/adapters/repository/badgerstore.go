package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/okian/proctor/internal/domain/model"
	"github.com/okian/proctor/pkg/logger"
	"github.com/okian/proctor/pkg/metrics"
)

// Key prefixes. Entries are keyed by exam so per-exam reads are prefix scans.
const (
	logPrefix        = "log/"
	logIDPrefix      = "logid/"
	resultPrefix     = "result/"
	resultExamPrefix = "result_exam/"
	resultCandPrefix = "result_cand/"
	submissionPrefix = "submission/"
	questionPrefix   = "question/"

	defaultConflictRetries = 3
)

// BadgerStore implements Store on BadgerDB.
type BadgerStore struct {
	db       *badger.DB
	dir      string
	inMemory bool
	retries  int
	log      logger.Logger
	now      func() time.Time
	closed   atomic.Bool
}

// NewBadgerStore opens the store.
func NewBadgerStore(opts ...Option) (*BadgerStore, error) {
	s := &BadgerStore{
		dir:     "data",
		retries: defaultConflictRetries,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	bopts := badger.DefaultOptions(s.dir)
	if s.inMemory {
		bopts = badger.DefaultOptions("").WithInMemory(true)
	}
	if s.log != nil {
		bopts = bopts.WithLogger(badgerLogger{l: s.log}).WithLoggingLevel(badger.WARNING)
	} else {
		bopts = bopts.WithLogger(nil)
	}

	db, err := badger.Open(bopts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	s.db = db
	return s, nil
}

// Close releases the database.
func (s *BadgerStore) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.db.Close()
}

// update runs fn in a read-write transaction, retrying on conflicts.
func (s *BadgerStore) update(fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (s *BadgerStore) view(fn func(txn *badger.Txn) error) error {
	if s.closed.Load() {
		return ErrClosed
	}
	return s.db.View(fn)
}

func setJSON(txn *badger.Txn, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := txn.Set([]byte(key), data); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func getJSON(txn *badger.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		return json.Unmarshal(val, v)
	})
}

// scan decodes every value under prefix.
func scan[T any](txn *badger.Txn, prefix string) ([]T, error) {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = true
	it := txn.NewIterator(opts)
	defer it.Close()

	out := []T{}
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		var v T
		if err := it.Item().Value(func(val []byte) error {
			return json.Unmarshal(val, &v)
		}); err != nil {
			return nil, fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		out = append(out, v)
	}
	return out, nil
}

// scanIndex returns the index values under prefix.
func scanIndex(txn *badger.Txn, prefix string) ([]string, error) {
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var ids []string
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		v, err := it.Item().ValueCopy(nil)
		if err != nil {
			return nil, err
		}
		ids = append(ids, string(v))
	}
	return ids, nil
}

func countPrefix(txn *badger.Txn, prefix string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	n := 0
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		n++
	}
	return n
}

func checkID(kind, id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: %s id %q", ErrInvalid, kind, id)
	}
	return nil
}

func logKey(l model.CheatingLog) string {
	return fmt.Sprintf("%s%s/%020d-%s", logPrefix, l.ExamID, l.SubmittedAt.UnixNano(), l.ID)
}

// SaveLog inserts an entry once per ID.
func (s *BadgerStore) SaveLog(ctx context.Context, l model.CheatingLog) (model.CheatingLog, bool, error) {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := checkID("exam", l.ExamID); err != nil {
		return model.CheatingLog{}, false, err
	}
	if err := checkID("log", l.ID); err != nil {
		return model.CheatingLog{}, false, err
	}
	if l.SubmittedAt.IsZero() {
		l.SubmittedAt = s.now().UTC()
	}
	if l.Events == nil {
		l.Events = []model.CheatingEvent{}
	}
	if l.Screenshots == nil {
		l.Screenshots = []model.Screenshot{}
	}

	saved := l
	created := false
	err := s.update(func(txn *badger.Txn) error {
		created = false
		var existingKey string
		item, err := txn.Get([]byte(logIDPrefix + l.ID))
		switch {
		case err == nil:
			if err := item.Value(func(v []byte) error { existingKey = string(v); return nil }); err != nil {
				return err
			}
			return getJSON(txn, existingKey, &saved)
		case !errors.Is(err, badger.ErrKeyNotFound):
			return fmt.Errorf("lookup log id: %w", err)
		}

		key := logKey(l)
		if err := setJSON(txn, key, l); err != nil {
			return err
		}
		if err := txn.Set([]byte(logIDPrefix+l.ID), []byte(key)); err != nil {
			return fmt.Errorf("set log index: %w", err)
		}
		saved = l
		created = true
		return nil
	})
	if err != nil {
		metrics.RecordErrorByComponent("repository", "save_log")
		return model.CheatingLog{}, false, err
	}
	return saved, created, nil
}

func filterLogs(in []model.CheatingLog, examID string) []model.CheatingLog {
	out := in[:0]
	for _, l := range in {
		if l.ExamID == examID {
			out = append(out, l)
		}
	}
	return out
}

// LogsByExam returns the entries for examID ordered by submission time.
func (s *BadgerStore) LogsByExam(ctx context.Context, examID string) ([]model.CheatingLog, error) {
	var out []model.CheatingLog
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.CheatingLog](txn, logPrefix+examID+"/")
		return err
	})
	if err != nil {
		return nil, err
	}
	return filterLogs(out, examID), nil
}

// Logs returns every entry.
func (s *BadgerStore) Logs(ctx context.Context) ([]model.CheatingLog, error) {
	var out []model.CheatingLog
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.CheatingLog](txn, logPrefix)
		return err
	})
	return out, err
}

// SaveResult stores a new result with its exam and candidate indexes.
func (s *BadgerStore) SaveResult(ctx context.Context, r model.Result) (model.Result, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := checkID("exam", r.ExamID); err != nil {
		return model.Result{}, err
	}
	if err := checkID("result", r.ID); err != nil {
		return model.Result{}, err
	}
	if r.SubmittedAt.IsZero() {
		r.SubmittedAt = s.now().UTC()
	}
	if r.Answers == nil {
		r.Answers = []model.Answer{}
	}

	err := s.update(func(txn *badger.Txn) error {
		if err := setJSON(txn, resultPrefix+r.ID, r); err != nil {
			return err
		}
		if err := txn.Set([]byte(resultExamPrefix+r.ExamID+"/"+r.ID), []byte(r.ID)); err != nil {
			return err
		}
		return txn.Set([]byte(resultCandPrefix+r.CandidateID+"/"+r.ID), []byte(r.ID))
	})
	if err != nil {
		metrics.RecordErrorByComponent("repository", "save_result")
		return model.Result{}, err
	}
	return r, nil
}

// Result looks up one result.
func (s *BadgerStore) Result(ctx context.Context, id string) (model.Result, error) {
	var r model.Result
	err := s.view(func(txn *badger.Txn) error {
		return getJSON(txn, resultPrefix+id, &r)
	})
	return r, err
}

// ToggleVisibility flips showToStudent and returns the updated result.
func (s *BadgerStore) ToggleVisibility(ctx context.Context, id string) (model.Result, error) {
	var r model.Result
	err := s.update(func(txn *badger.Txn) error {
		if err := getJSON(txn, resultPrefix+id, &r); err != nil {
			return err
		}
		r.ShowToStudent = !r.ShowToStudent
		return setJSON(txn, resultPrefix+id, r)
	})
	return r, err
}

func (s *BadgerStore) resultsByIndex(prefix string) ([]model.Result, error) {
	var out []model.Result
	err := s.view(func(txn *badger.Txn) error {
		ids, err := scanIndex(txn, prefix)
		if err != nil {
			return err
		}
		out = make([]model.Result, 0, len(ids))
		for _, id := range ids {
			var r model.Result
			if err := getJSON(txn, resultPrefix+id, &r); err != nil {
				return err
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortResults(out)
	return out, nil
}

func sortResults(rs []model.Result) {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].SubmittedAt.Before(rs[j].SubmittedAt) })
}

// ResultsByExam returns every result of an exam.
func (s *BadgerStore) ResultsByExam(ctx context.Context, examID string) ([]model.Result, error) {
	return s.resultsByIndex(resultExamPrefix + examID + "/")
}

// ResultsByCandidate returns every result of a candidate.
func (s *BadgerStore) ResultsByCandidate(ctx context.Context, candidateID string) ([]model.Result, error) {
	return s.resultsByIndex(resultCandPrefix + candidateID + "/")
}

// Results returns every result.
func (s *BadgerStore) Results(ctx context.Context) ([]model.Result, error) {
	var out []model.Result
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.Result](txn, resultPrefix)
		return err
	})
	if err != nil {
		return nil, err
	}
	sortResults(out)
	return out, nil
}

// SaveSubmission stores a code submission.
func (s *BadgerStore) SaveSubmission(ctx context.Context, sub model.CodeSubmission) (model.CodeSubmission, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if err := checkID("exam", sub.ExamID); err != nil {
		return model.CodeSubmission{}, err
	}
	if sub.SubmittedAt.IsZero() {
		sub.SubmittedAt = s.now().UTC()
	}
	err := s.update(func(txn *badger.Txn) error {
		return setJSON(txn, submissionPrefix+sub.ExamID+"/"+sub.ID, sub)
	})
	if err != nil {
		return model.CodeSubmission{}, err
	}
	return sub, nil
}

// SubmissionsByExam returns the submissions of one exam.
func (s *BadgerStore) SubmissionsByExam(ctx context.Context, examID string) ([]model.CodeSubmission, error) {
	var out []model.CodeSubmission
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.CodeSubmission](txn, submissionPrefix+examID+"/")
		return err
	})
	return out, err
}

// Submissions returns every submission.
func (s *BadgerStore) Submissions(ctx context.Context) ([]model.CodeSubmission, error) {
	var out []model.CodeSubmission
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.CodeSubmission](txn, submissionPrefix)
		return err
	})
	return out, err
}

// SaveQuestions replaces the exam's questions in one transaction. Questions
// without an ID get one, and so do their options.
func (s *BadgerStore) SaveQuestions(ctx context.Context, examID string, qs []model.Question) ([]model.Question, error) {
	if err := checkID("exam", examID); err != nil {
		return nil, err
	}
	out := make([]model.Question, len(qs))
	for i, q := range qs {
		q.ExamID = examID
		if q.ID == "" {
			q.ID = uuid.NewString()
		}
		if err := checkID("question", q.ID); err != nil {
			return nil, err
		}
		q.Options = append([]model.Option(nil), q.Options...)
		for j := range q.Options {
			if q.Options[j].ID == "" {
				q.Options[j].ID = uuid.NewString()
			}
		}
		out[i] = q
	}

	prefix := questionPrefix + examID + "/"
	err := s.update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		var stale [][]byte
		for it.Seek([]byte(prefix)); it.ValidForPrefix([]byte(prefix)); it.Next() {
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()
		for _, k := range stale {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		for i, q := range out {
			if err := setJSON(txn, fmt.Sprintf("%s%04d-%s", prefix, i, q.ID), q); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Questions returns the exam's questions in their seeded order.
func (s *BadgerStore) Questions(ctx context.Context, examID string) ([]model.Question, error) {
	var out []model.Question
	err := s.view(func(txn *badger.Txn) error {
		var err error
		out, err = scan[model.Question](txn, questionPrefix+examID+"/")
		return err
	})
	return out, err
}

// Stats counts the stored records.
func (s *BadgerStore) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	err := s.view(func(txn *badger.Txn) error {
		st.Logs = countPrefix(txn, logIDPrefix)
		st.Results = countPrefix(txn, resultPrefix)
		st.Submissions = countPrefix(txn, submissionPrefix)
		st.Questions = countPrefix(txn, questionPrefix)
		return nil
	})
	return st, err
}

// badgerLogger adapts the application logger to badger.Logger.
type badgerLogger struct{ l logger.Logger }

func (b badgerLogger) Errorf(f string, args ...any) {
	b.l.Error(context.Background(), strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Warningf(f string, args ...any) {
	b.l.Warn(context.Background(), strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Infof(f string, args ...any) {
	b.l.Info(context.Background(), strings.TrimSpace(fmt.Sprintf(f, args...)))
}

func (b badgerLogger) Debugf(f string, args ...any) {
	b.l.Debug(context.Background(), strings.TrimSpace(fmt.Sprintf(f, args...)))
}
