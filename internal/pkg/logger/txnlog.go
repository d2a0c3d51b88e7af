package logger

import (
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Transaction logging for identifier operations. Every coordinator
// operation gets a fresh transaction ID and logs exactly one begin
// record and one outcome record (success, bad request, unauthorized,
// or error).

// Txn is a per-operation logging handle.
type Txn struct {
	id string
	l  *zap.Logger
}

// Begin starts a transaction log for the named operation and returns
// the handle used to record its outcome.
func Begin(operation string, fields ...zap.Field) *Txn {
	t := &Txn{id: uuid.NewString()}
	t.l = L().With(append([]zap.Field{
		zap.String("txn", t.id),
		zap.String("operation", operation),
	}, fields...)...)
	t.l.Info("begin")
	return t
}

// ID returns the transaction ID.
func (t *Txn) ID() string { return t.id }

// Success records a successful outcome.
func (t *Txn) Success(fields ...zap.Field) {
	t.l.Info("success", fields...)
}

// BadRequest records a client-side validation failure.
func (t *Txn) BadRequest(reason string) {
	t.l.Info("bad request", zap.String("reason", reason))
}

// Unauthorized records an authorization denial.
func (t *Txn) Unauthorized() {
	t.l.Info("unauthorized")
}

// Error records an internal failure.
func (t *Txn) Error(err error) {
	t.l.Error("error", zap.Error(err))
}
