// Package status periodically reports process health: in-flight
// identifier operations by user, blocked requests, registrar activity,
// queue depth, and database connection counts.
package status

import (
	"context"
	"os"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/crossref"
	"mintbind.io/mintbind/internal/pkg/logger"
)

// OperationCounter reports identifier operation activity; the
// coordinator implements it.
type OperationCounter interface {
	Status() (activeUsers, waitingUsers map[string]int)
}

// RegistrarActivity reports in-flight registrar operations.
type RegistrarActivity interface {
	NumActiveOperations() int
}

// QueueStats reports registration queue depth by status.
type QueueStats interface {
	Stats(ctx context.Context) (crossref.Statistics, error)
}

// Reporter emits one status record per interval.
type Reporter struct {
	ops      OperationCounter
	registar RegistrarActivity
	queue    QueueStats

	// connStats returns (active, total) database connections; nil when
	// no database is configured.
	connStats func() (int, int)

	interval func() time.Duration
}

// NewReporter creates a reporter. queue and connStats may be nil.
func NewReporter(ops OperationCounter, registrar RegistrarActivity,
	queue QueueStats, connStats func() (int, int),
	interval func() time.Duration) *Reporter {
	return &Reporter{
		ops:       ops,
		registar:  registrar,
		queue:     queue,
		connStats: connStats,
		interval:  interval,
	}
}

// formatUserCounts renders a per-user count map as "(u1=2 u2=1)",
// sorted by user name, or "" when empty.
func formatUserCounts(m map[string]int) string {
	if len(m) == 0 {
		return ""
	}
	users := make([]string, 0, len(m))
	for u := range m {
		users = append(users, u)
	}
	sort.Strings(users)
	var b strings.Builder
	b.WriteString("(")
	for i, u := range users {
		if i > 0 {
			b.WriteString(" ")
		}
		b.WriteString(u)
		b.WriteString("=")
		b.WriteString(strconv.Itoa(m[u]))
	}
	b.WriteString(")")
	return b.String()
}

func sum(m map[string]int) int {
	t := 0
	for _, n := range m {
		t += n
	}
	return t
}

// Run emits status records until ctx is done.
func (r *Reporter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.interval()):
		}
		r.report(ctx)
	}
}

func (r *Reporter) report(ctx context.Context) {
	active, waiting := r.ops.Status()
	fields := []zap.Field{
		zap.Int("pid", os.Getpid()),
		zap.Int("goroutines", runtime.NumGoroutine()),
		zap.Int("activeOperations", sum(active)),
		zap.String("activeOperationsByUser", formatUserCounts(active)),
		zap.Int("waitingRequests", sum(waiting)),
		zap.String("waitingRequestsByUser", formatUserCounts(waiting)),
		zap.Int("activeDataciteOperations", r.registar.NumActiveOperations()),
	}
	if r.queue != nil {
		if s, err := r.queue.Stats(ctx); err == nil {
			fields = append(fields,
				zap.Int("queueAwaitingSubmission", s.AwaitingSubmission),
				zap.Int("queueSubmitted", s.Submitted),
				zap.Int("queueWarning", s.Warning),
				zap.Int("queueFailure", s.Failure),
			)
		} else {
			logger.Warn("queue statistics unavailable", zap.Error(err))
		}
	}
	if r.connStats != nil {
		a, t := r.connStats()
		fields = append(fields,
			zap.Int("dbConnectionsActive", a),
			zap.Int("dbConnectionsTotal", t),
		)
	}
	logger.Info("status", fields...)
}
