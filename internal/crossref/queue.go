package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Queue entry statuses. A row moves U -> (S | deleted) -> (W | F |
// deleted); a newer row for the same identifier supersedes it at any
// point.
const (
	StatusUnsubmitted = "U"
	StatusSubmitted   = "S"
	StatusWarning     = "W"
	StatusFailure     = "F"
)

// Queue entry operations.
const (
	OpCreate = "create"
	OpUpdate = "update"
	OpDelete = "delete"
)

// StatusDisplay returns the human-readable form of a status code.
func StatusDisplay(status string) string {
	switch status {
	case StatusUnsubmitted:
		return "awaiting submission"
	case StatusSubmitted:
		return "submitted"
	case StatusWarning:
		return "registered with warning"
	case StatusFailure:
		return "registration failed"
	default:
		return "unknown"
	}
}

func operationCode(op string) (string, error) {
	switch op {
	case OpCreate:
		return "C", nil
	case OpUpdate:
		return "U", nil
	case OpDelete:
		return "D", nil
	default:
		return "", fmt.Errorf("unrecognized queue operation %q", op)
	}
}

func operationName(code string) string {
	switch code {
	case "C":
		return OpCreate
	case "U":
		return OpUpdate
	case "D":
		return OpDelete
	default:
		return code
	}
}

// Entry is one registration intent.
type Entry struct {
	Seq        int64
	Identifier string
	Owner      string
	Operation  string
	Blob       map[string]string
	Status     string
	BatchID    string
	SubmitTime int64
	Message    string
}

// Queue is the durable registration queue, backed by the relational
// store. Rows are consumed strictly in seq order.
type Queue struct {
	pool *pgxpool.Pool
}

// NewQueue creates a queue over the shared pool.
func NewQueue(pool *pgxpool.Pool) *Queue {
	return &Queue{pool: pool}
}

// Enqueue inserts a registration intent. The blob is the identifier's
// post-write element map in stored form.
func (q *Queue) Enqueue(ctx context.Context, identifier, operation, owner string,
	blob map[string]string) error {
	opCode, err := operationCode(operation)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(blob)
	if err != nil {
		return fmt.Errorf("marshal queue blob: %w", err)
	}
	_, err = q.pool.Exec(ctx, `
		INSERT INTO registration_queue
			(identifier, owner, operation, metadata, status, submit_time)
		VALUES ($1, $2, $3, $4, 'U', $5)`,
		identifier, owner, opCode, string(meta), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("enqueue registration: %w", err)
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	var opCode, meta string
	if err := row.Scan(&e.Seq, &e.Identifier, &e.Owner, &opCode, &meta,
		&e.Status, &e.BatchID, &e.SubmitTime, &e.Message); err != nil {
		return nil, err
	}
	e.Operation = operationName(opCode)
	if err := json.Unmarshal([]byte(meta), &e.Blob); err != nil {
		return nil, fmt.Errorf("unmarshal queue blob: %w", err)
	}
	return &e, nil
}

const entryColumns = `seq, identifier, owner, trim(operation), metadata,
	trim(status), batch_id, submit_time, message`

// ListInSeqOrder returns all entries, oldest first.
func (q *Queue) ListInSeqOrder(ctx context.Context) ([]*Entry, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT `+entryColumns+` FROM registration_queue ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list registration queue: %w", err)
	}
	defer rows.Close()
	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MaxSeq returns the highest seq in the queue, or 0 when empty.
func (q *Queue) MaxSeq(ctx context.Context) (int64, error) {
	var max int64
	err := q.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM registration_queue`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("queue max seq: %w", err)
	}
	return max, nil
}

// CountForIdentifier returns the number of entries for one identifier.
func (q *Queue) CountForIdentifier(ctx context.Context, identifier string) (int, error) {
	var n int
	err := q.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM registration_queue WHERE identifier = $1`,
		identifier).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("queue count for identifier: %w", err)
	}
	return n, nil
}

// Save persists an entry's mutable fields.
func (q *Queue) Save(ctx context.Context, e *Entry) error {
	_, err := q.pool.Exec(ctx, `
		UPDATE registration_queue
		SET status = $2, batch_id = $3, submit_time = $4, message = $5
		WHERE seq = $1`,
		e.Seq, e.Status, e.BatchID, e.SubmitTime, e.Message)
	if err != nil {
		return fmt.Errorf("save queue entry %d: %w", e.Seq, err)
	}
	return nil
}

// Delete removes an entry.
func (q *Queue) Delete(ctx context.Context, seq int64) error {
	_, err := q.pool.Exec(ctx,
		`DELETE FROM registration_queue WHERE seq = $1`, seq)
	if err != nil {
		return fmt.Errorf("delete queue entry %d: %w", seq, err)
	}
	return nil
}

// Statistics is a per-status count snapshot for status reporting.
type Statistics struct {
	AwaitingSubmission int
	Submitted          int
	Warning            int
	Failure            int
}

// Stats returns queue counts by status.
func (q *Queue) Stats(ctx context.Context) (Statistics, error) {
	rows, err := q.pool.Query(ctx,
		`SELECT trim(status), COUNT(*) FROM registration_queue GROUP BY status`)
	if err != nil {
		return Statistics{}, fmt.Errorf("queue statistics: %w", err)
	}
	defer rows.Close()
	var s Statistics
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Statistics{}, err
		}
		switch status {
		case StatusUnsubmitted:
			s.AwaitingSubmission = n
		case StatusSubmitted:
			s.Submitted = n
		case StatusWarning:
			s.Warning = n
		case StatusFailure:
			s.Failure = n
		}
	}
	return s, rows.Err()
}
