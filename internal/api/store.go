package api

import (
	"sync"

	"github.com/samcharles93/qcal/internal/report"
)

// ReportStore keeps the reports of finished calibration runs, evicting the
// oldest once limit is reached.
type ReportStore struct {
	mu      sync.Mutex
	limit   int
	order   []string
	reports map[string]*report.Report
}

func NewReportStore(limit int) *ReportStore {
	if limit <= 0 {
		limit = 64
	}
	return &ReportStore{
		limit:   limit,
		reports: make(map[string]*report.Report),
	}
}

func (s *ReportStore) Put(r *report.Report) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.reports[r.RunID]; !ok {
		s.order = append(s.order, r.RunID)
	}
	s.reports[r.RunID] = r
	for len(s.order) > s.limit {
		delete(s.reports, s.order[0])
		s.order = s.order[1:]
	}
}

func (s *ReportStore) Get(id string) (*report.Report, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reports[id]
	return r, ok
}

// List returns stored reports, oldest first.
func (s *ReportStore) List() []*report.Report {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*report.Report, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.reports[id])
	}
	return out
}
