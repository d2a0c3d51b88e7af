// Package worker provides goroutine pool management.
//
// Naked goroutines are forbidden in this codebase; all concurrency
// goes through a pool with context propagation. The registrar daemon
// and the status reporter run as detached tasks on the registrar pool.
package worker

import (
	"context"
	"errors"
	"time"

	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/pkg/logger"
)

// ErrPoolClosed is returned when submitting to a closed pool.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task is a context-aware task function.
type Task func(ctx context.Context)

// Pool wraps ants.Pool with context-aware submission.
type Pool struct {
	pool *ants.Pool
	name string
}

// Pools is the worker pool collection.
type Pools struct {
	// General serves identifier operations submitted from the API.
	General *Pool

	// Registrar serves long-running background work: the registration
	// daemon and the status reporter.
	Registrar *Pool

	// serviceCtx is the service lifecycle context for detached tasks.
	serviceCtx    context.Context
	serviceCancel context.CancelFunc
}

// PoolConfig contains worker pool sizing.
type PoolConfig struct {
	GeneralPoolSize   int
	RegistrarPoolSize int
}

// DefaultPoolConfig returns default configuration.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		GeneralPoolSize:   100,
		RegistrarPoolSize: 4,
	}
}

// NewPools creates the worker pool collection.
func NewPools(ctx context.Context, cfg PoolConfig) (*Pools, error) {
	serviceCtx, serviceCancel := context.WithCancel(ctx)

	panicHandler := func(p interface{}) {
		logger.Error("worker panic recovered",
			zap.Any("panic", p),
			zap.Stack("stack"),
		)
	}

	generalAnts, err := ants.NewPool(cfg.GeneralPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
		ants.WithExpiryDuration(10*time.Second),
	)
	if err != nil {
		serviceCancel()
		return nil, err
	}

	registrarAnts, err := ants.NewPool(cfg.RegistrarPoolSize,
		ants.WithPanicHandler(panicHandler),
		ants.WithNonblocking(false),
	)
	if err != nil {
		generalAnts.Release()
		serviceCancel()
		return nil, err
	}

	return &Pools{
		General:       &Pool{pool: generalAnts, name: "general"},
		Registrar:     &Pool{pool: registrarAnts, name: "registrar"},
		serviceCtx:    serviceCtx,
		serviceCancel: serviceCancel,
	}, nil
}

// Submit submits a context-aware task. The task receives the caller's
// context and should check ctx.Done() at blocking points. If the
// context is already cancelled, returns ctx.Err() without submitting.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	return p.pool.Submit(func() {
		select {
		case <-ctx.Done():
			logger.Debug("task skipped: context cancelled",
				zap.String("pool", p.name),
				zap.Error(ctx.Err()),
			)
			return
		default:
		}
		task(ctx)
	})
}

// SubmitDetached submits a detached background task bound to the
// service lifecycle context rather than a request context. Use for
// long-running background work that should survive request
// cancellation but still respect graceful shutdown.
func (p *Pools) SubmitDetached(task Task) error {
	return p.Registrar.pool.Submit(func() {
		select {
		case <-p.serviceCtx.Done():
			logger.Debug("detached task skipped: service shutting down")
			return
		default:
		}
		task(p.serviceCtx)
	})
}

// Shutdown gracefully shuts down all pools with a timeout.
func (p *Pools) Shutdown() {
	p.serviceCancel()

	const shutdownTimeout = 30 * time.Second
	if err := p.General.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("general pool shutdown timeout", zap.Error(err))
	}
	if err := p.Registrar.pool.ReleaseTimeout(shutdownTimeout); err != nil {
		logger.Warn("registrar pool shutdown timeout", zap.Error(err))
	}
}

// Running reports the number of tasks currently executing on the pool.
func (p *Pool) Running() int { return p.pool.Running() }
