package crossref

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/pkg/logger"
	"mintbind.io/mintbind/internal/policy"
)

// deleteTargetURL is the sentinel resource URL submitted for deleted
// identifiers, pointing resolution at a well-known invalid-DOI page.
const deleteTargetURL = "http://datacite.org/invalidDOI"

// errAborted retires the daemon at an abort checkpoint after a
// configuration reload replaced its generation.
var errAborted = errors.New("daemon generation retired")

// queueStore is the queue surface the daemon consumes.
type queueStore interface {
	ListInSeqOrder(ctx context.Context) ([]*Entry, error)
	MaxSeq(ctx context.Context) (int64, error)
	CountForIdentifier(ctx context.Context, identifier string) (int, error)
	Save(ctx context.Context, e *Entry) error
	Delete(ctx context.Context, seq int64) error
}

var _ queueStore = (*Queue)(nil)

// submitter is the wire surface the daemon consumes.
type submitter interface {
	Submit(ctx context.Context, doi, batchID, envelope string) error
	Poll(ctx context.Context, doi, batchID string) (Outcome, string, error)
}

var _ submitter = (*Client)(nil)

// metadataWriter writes registration results back into identifier
// metadata. The coordinator implements it; the write must not
// re-trigger registration, hence the updateExternalServices flag.
type metadataWriter interface {
	SetMetadata(ctx context.Context, qid string, user, group policy.Agent,
		metadata map[string]string, updateExternalServices bool) (string, error)
}

// Mailer sends registration notifications.
type Mailer interface {
	Send(to, subject, body string) error
}

// Daemon drives queued registration intents through submit and poll.
// Exactly one daemon generation is live at a time; a configuration
// reload bumps the generation and the old daemon exits at its next
// abort checkpoint.
type Daemon struct {
	queue       queueStore
	wire        submitter
	writer      metadataWriter
	mail        Mailer
	notifyEmail func(owner string) string
	closeIdle   func()
	mgr         *config.Manager

	// lastMaxSeq enables the idle fast path; -1 forces a full scan.
	lastMaxSeq int64
}

// NewDaemon creates a daemon. mail and closeIdle may be nil;
// notifyEmail returns "" for owners without a notification address.
func NewDaemon(queue queueStore, wire submitter, writer metadataWriter,
	mail Mailer, notifyEmail func(owner string) string,
	closeIdle func(), mgr *config.Manager) *Daemon {
	if notifyEmail == nil {
		notifyEmail = func(string) string { return "" }
	}
	return &Daemon{
		queue:       queue,
		wire:        wire,
		writer:      writer,
		mail:        mail,
		notifyEmail: notifyEmail,
		closeIdle:   closeIdle,
		mgr:         mgr,
		lastMaxSeq:  -1,
	}
}

func (d *Daemon) aborted(generation int64) bool {
	return d.mgr.Generation() != generation
}

// Run is the daemon loop. It exits when ctx is done or when the
// generation token is retired by a configuration reload.
func (d *Daemon) Run(ctx context.Context, generation int64) {
	logger.Info("registration daemon started", zap.Int64("generation", generation))
	d.lastMaxSeq = -1
	for {
		if d.closeIdle != nil {
			d.closeIdle()
		}
		select {
		case <-ctx.Done():
			logger.Info("registration daemon stopped")
			return
		case <-time.After(d.mgr.Current().Crossref.IdleSleep):
		}
		if d.aborted(generation) {
			logger.Info("registration daemon retired",
				zap.Int64("generation", generation))
			return
		}
		if err := d.runPass(ctx, generation); err != nil {
			if errors.Is(err, errAborted) {
				logger.Info("registration daemon retired",
					zap.Int64("generation", generation))
				return
			}
			logger.Error("registration daemon pass failed", zap.Error(err))
			d.lastMaxSeq = -1
		}
	}
}

// RunPass executes one scan of the queue; exposed for tests, which
// drive passes directly instead of waiting out the idle sleep.
func (d *Daemon) RunPass(ctx context.Context, generation int64) error {
	return d.runPass(ctx, generation)
}

func (d *Daemon) runPass(ctx context.Context, generation int64) error {
	maxSeq, err := d.queue.MaxSeq(ctx)
	if err != nil {
		return err
	}
	if d.lastMaxSeq >= 0 && maxSeq == d.lastMaxSeq {
		return nil
	}
	entries, err := d.queue.ListInSeqOrder(ctx)
	if err != nil {
		return err
	}
	d.lastMaxSeq = maxSeq
	for _, r := range entries {
		if d.aborted(generation) {
			return errAborted
		}
		n, err := d.queue.CountForIdentifier(ctx, r.Identifier)
		if err != nil {
			return err
		}
		if n > 1 {
			// Superseded by a newer intent for the same identifier.
			if err := d.queue.Delete(ctx, r.Seq); err != nil {
				return err
			}
			d.lastMaxSeq = -1
			continue
		}
		switch r.Status {
		case StatusUnsubmitted:
			// A processed entry invalidates the fast path: a deposit
			// needs its follow-up poll on the next pass.
			d.lastMaxSeq = -1
			if err := d.doDeposit(ctx, generation, r); err != nil {
				if errors.Is(err, errAborted) {
					return err
				}
				logger.Warn("registration deposit failed",
					zap.String("identifier", r.Identifier), zap.Error(err))
			}
		case StatusSubmitted:
			// Likewise: a still-processing batch is re-polled until it
			// resolves.
			d.lastMaxSeq = -1
			if err := d.doPoll(ctx, generation, r); err != nil {
				if errors.Is(err, errAborted) {
					return err
				}
				logger.Warn("registration poll failed",
					zap.String("identifier", r.Identifier), zap.Error(err))
			}
		}
	}
	return nil
}

// doDeposit builds and submits the deposit for an unsubmitted entry.
// A submission failure leaves the entry for the next pass.
func (d *Daemon) doDeposit(ctx context.Context, generation int64, r *Entry) error {
	cfg := d.mgr.Current()
	doi := strings.TrimPrefix(r.Identifier, "doi:")
	target := r.Blob["_t"]
	if r.Operation == OpDelete {
		target = deleteTargetURL
	}
	withdraw := r.Operation == OpDelete ||
		strings.HasPrefix(r.Blob["_is"], "unavailable")
	dep, err := BuildDeposit(r.Blob["crossref"],
		Depositor{Name: cfg.Crossref.DepositorName, Email: cfg.Crossref.DepositorEmail},
		r.Owner, doi, target, withdraw, false)
	if err != nil {
		return err
	}
	if err := d.wire.Submit(ctx, doi, dep.BatchID, dep.Envelope); err != nil {
		return err
	}
	if d.aborted(generation) {
		return errAborted
	}
	if r.Operation == OpDelete {
		// Nothing will remain to poll against once the identifier is
		// gone.
		if err := d.queue.Delete(ctx, r.Seq); err != nil {
			return err
		}
		return nil
	}
	r.Status = StatusSubmitted
	r.BatchID = dep.BatchID
	r.SubmitTime = time.Now().Unix()
	return d.queue.Save(ctx, r)
}

// doPoll checks the processing result for a submitted entry and
// records the outcome.
func (d *Daemon) doPoll(ctx context.Context, generation int64, r *Entry) error {
	doi := strings.TrimPrefix(r.Identifier, "doi:")
	outcome, message, err := d.wire.Poll(ctx, doi, r.BatchID)
	if err != nil {
		return err
	}
	switch outcome {
	case OutcomeSubmitted:
		r.Message = message
		if d.aborted(generation) {
			return errAborted
		}
		return d.queue.Save(ctx, r)

	case OutcomeSuccess:
		if r.Operation != OpDelete {
			if d.aborted(generation) {
				return errAborted
			}
			if err := d.writeBack(ctx, r.Identifier, "CR_SUCCESS/"); err != nil {
				return err
			}
		}
		if d.aborted(generation) {
			return errAborted
		}
		return d.queue.Delete(ctx, r.Seq)

	case OutcomeWarning, OutcomeFailure:
		status, label := StatusWarning, "CR_WARNING/"
		if outcome == OutcomeFailure {
			status, label = StatusFailure, "CR_FAILURE/"
		}
		if d.aborted(generation) {
			return errAborted
		}
		if err := d.writeBack(ctx, r.Identifier, label+oneline(message)); err != nil {
			return err
		}
		r.Status = status
		r.Message = message
		if d.aborted(generation) {
			return errAborted
		}
		if err := d.queue.Save(ctx, r); err != nil {
			return err
		}
		if to := d.notifyEmail(r.Owner); to != "" && d.mail != nil {
			if d.aborted(generation) {
				return errAborted
			}
			if err := d.mail.Send(to,
				"DOI registration "+StatusDisplay(status),
				notificationBody(r)); err != nil {
				logger.Warn("registration notification failed",
					zap.String("identifier", r.Identifier), zap.Error(err))
			}
		}
		return nil

	default:
		// Unknown: leave the entry and poll again next pass.
		return nil
	}
}

// writeBack records the registration result in the identifier's
// metadata under the administrator identity, without re-triggering
// registration.
func (d *Daemon) writeBack(ctx context.Context, identifier, value string) error {
	admin := policy.Agent{
		Name: d.mgr.Current().AdminUsername,
		PID:  d.mgr.Current().AdminUsername,
	}
	_, err := d.writer.SetMetadata(ctx, identifier, admin, admin,
		map[string]string{"_crossref": value}, false)
	return err
}

func notificationBody(r *Entry) string {
	return fmt.Sprintf(
		"A DOI registration submission returned a non-success result.\n"+
			"\n"+
			"Identifier: %s\n"+
			"Status: %s\n"+
			"Registrar message: %s\n"+
			"\n"+
			"The registration will be re-examined if the identifier is\n"+
			"modified again.\n",
		r.Identifier, StatusDisplay(r.Status), r.Message)
}
