package metrics

import (
	"sort"
	"sync"
	"time"

	"spotcheck/internal/model"
)

// Store keeps the latest per-channel statistics across analyses.
type Store struct {
	mu        sync.RWMutex
	byChannel map[string]model.ChannelStats
	limit     int
}

func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = 5000
	}
	return &Store{
		byChannel: make(map[string]model.ChannelStats),
		limit:     limit,
	}
}

// Record replaces the stats of every channel present in res.
func (s *Store) Record(res *model.Result) {
	if res == nil || len(res.Data) == 0 {
		return
	}
	now := time.Now().UTC()
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range res.Channels() {
		st.UpdatedAt = now
		s.byChannel[st.Channel] = st
	}
	for len(s.byChannel) > s.limit {
		s.evictOldest()
	}
}

func (s *Store) Get(channel string) (model.ChannelStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.byChannel[channel]
	return st, ok
}

// GetAll returns every tracked channel sorted by name.
func (s *Store) GetAll() []model.ChannelStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ChannelStats, 0, len(s.byChannel))
	for _, st := range s.byChannel {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (s *Store) evictOldest() {
	var oldestChannel string
	var oldest time.Time
	for ch, st := range s.byChannel {
		if oldestChannel == "" || st.UpdatedAt.Before(oldest) || (st.UpdatedAt.Equal(oldest) && ch < oldestChannel) {
			oldestChannel = ch
			oldest = st.UpdatedAt
		}
	}
	if oldestChannel != "" {
		delete(s.byChannel, oldestChannel)
	}
}

func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byChannel = make(map[string]model.ChannelStats)
}
