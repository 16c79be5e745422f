package history

import (
	"sync"
	"time"

	"spotcheck/internal/model"
)

// Store is a bounded in-memory ring of recent analyses. The oldest record is
// dropped once limit is reached.
type Store struct {
	mu    sync.RWMutex
	buf   []*model.AnalysisRecord
	limit int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 200
	}
	return &Store{limit: limit}
}

func (s *Store) Add(rec *model.AnalysisRecord) {
	if rec == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) < s.limit {
		s.buf = append(s.buf, rec)
		return
	}
	copy(s.buf, s.buf[1:])
	s.buf[len(s.buf)-1] = rec
}

func (s *Store) Get(id string) (*model.AnalysisRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.buf) - 1; i >= 0; i-- {
		if s.buf[i].ID == id {
			return s.buf[i], true
		}
	}
	return nil, false
}

// List returns up to limit records, newest first.
func (s *Store) List(limit int) []*model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.buf) {
		limit = len(s.buf)
	}
	out := make([]*model.AnalysisRecord, 0, limit)
	for i := len(s.buf) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.buf[i])
	}
	return out
}

func (s *Store) Since(ts time.Time) []*model.AnalysisRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.AnalysisRecord, 0)
	for _, r := range s.buf {
		if !r.CreatedAt.Before(ts) {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.buf {
		if r.ID == id {
			last := len(s.buf) - 1
			copy(s.buf[i:], s.buf[i+1:])
			s.buf[last] = nil
			s.buf = s.buf[:last]
			return true
		}
	}
	return false
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.buf)
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = nil
}
