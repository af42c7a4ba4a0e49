// Package observability tracks how datasets are queried and rewritten.
package observability

import (
	"sort"
	"strings"
	"sync"
	"time"

	qerrors "github.com/qrlew/qrlew-go/internal/errors"
)

// OutcomeOK is the outcome of a successful operation.
const OutcomeOK = "OK"

// Operation names a service operation.
type Operation string

const (
	OpRelation  Operation = "relation"
	OpRewrite   Operation = "rewrite"
	OpDpRewrite Operation = "dp_rewrite"
)

// RewriteStats counts operations per dataset and outcome, and table reads
// per dataset.
type RewriteStats struct {
	mu       sync.RWMutex
	datasets map[string]*DatasetStats
	tables   map[string]*TableStats
	window   time.Duration
}

// DatasetStats holds the counters of one dataset.
type DatasetStats struct {
	Dataset  string
	Total    int64
	LastSeen time.Time
	// Outcomes maps "operation/outcome" to a count, the outcome being OK or
	// an error code such as UNREACHABLE_PROPERTY.
	Outcomes map[string]int64
	// Latency is the summed duration of all operations.
	Latency time.Duration
}

// MeanLatency is Latency averaged over Total.
func (d DatasetStats) MeanLatency() time.Duration {
	if d.Total == 0 {
		return 0
	}
	return d.Latency / time.Duration(d.Total)
}

// Count returns the number of op calls that ended with outcome.
func (d DatasetStats) Count(op Operation, outcome string) int64 {
	return d.Outcomes[outcomeKey(op, outcome)]
}

// TableStats counts reads of a table.
type TableStats struct {
	Dataset   string
	Table     string
	Frequency int64
	LastSeen  time.Time
}

// NewRewriteStats creates a tracker whose entries expire after window.
func NewRewriteStats(window time.Duration) *RewriteStats {
	return &RewriteStats{
		datasets: make(map[string]*DatasetStats),
		tables:   make(map[string]*TableStats),
		window:   window,
	}
}

// Outcome is OK for a nil error and the error code otherwise. Errors that
// are not engine errors count as UNEXPECTED.
func Outcome(err error) string {
	if err == nil {
		return OutcomeOK
	}
	if code := qerrors.GetCode(err); code != "" {
		return code
	}
	return qerrors.CodeUnexpected
}

func outcomeKey(op Operation, outcome string) string {
	return string(op) + "/" + outcome
}

// Record counts one op call on dataset that took elapsed and returned err.
func (s *RewriteStats) Record(dataset string, op Operation, elapsed time.Duration, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.datasets[dataset]
	if !ok {
		stats = &DatasetStats{Dataset: dataset, Outcomes: make(map[string]int64)}
		s.datasets[dataset] = stats
	}
	stats.Total++
	stats.LastSeen = time.Now()
	stats.Latency += elapsed
	stats.Outcomes[outcomeKey(op, Outcome(err))]++
}

// RecordTables counts one read of each table path of dataset.
func (s *RewriteStats) RecordTables(dataset string, tables [][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, path := range tables {
		table := strings.Join(path, ".")
		key := dataset + "\x00" + table
		stats, ok := s.tables[key]
		if !ok {
			stats = &TableStats{Dataset: dataset, Table: table}
			s.tables[key] = stats
		}
		stats.Frequency++
		stats.LastSeen = now
	}
}

// Dataset returns a copy of the counters of dataset.
func (s *RewriteStats) Dataset(dataset string) (DatasetStats, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats, ok := s.datasets[dataset]
	if !ok {
		return DatasetStats{}, false
	}
	return stats.copy(), true
}

func (d *DatasetStats) copy() DatasetStats {
	c := *d
	c.Outcomes = make(map[string]int64, len(d.Outcomes))
	for k, v := range d.Outcomes {
		c.Outcomes[k] = v
	}
	return c
}

// Datasets returns a copy of every dataset's counters, busiest first.
func (s *RewriteStats) Datasets() []DatasetStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]DatasetStats, 0, len(s.datasets))
	for _, d := range s.datasets {
		out = append(out, d.copy())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Total != out[j].Total {
			return out[i].Total > out[j].Total
		}
		return out[i].Dataset < out[j].Dataset
	})
	return out
}

// TopTables returns the n most read tables.
func (s *RewriteStats) TopTables(n int) []TableStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.tables) == 0 {
		return []TableStats{}
	}
	out := make([]TableStats, 0, len(s.tables))
	for _, t := range s.tables {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Frequency != out[j].Frequency {
			return out[i].Frequency > out[j].Frequency
		}
		if out[i].Dataset != out[j].Dataset {
			return out[i].Dataset < out[j].Dataset
		}
		return out[i].Table < out[j].Table
	})
	if n > len(out) {
		n = len(out)
	}
	return out[:n]
}

// Forget drops every counter of dataset.
func (s *RewriteStats) Forget(dataset string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.datasets, dataset)
	for key, t := range s.tables {
		if t.Dataset == dataset {
			delete(s.tables, key)
		}
	}
}

// Prune removes entries not seen within the window.
func (s *RewriteStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for name, d := range s.datasets {
		if d.LastSeen.Before(threshold) {
			delete(s.datasets, name)
		}
	}
	for key, t := range s.tables {
		if t.LastSeen.Before(threshold) {
			delete(s.tables, key)
		}
	}
}
