package crossref

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/policy"
)

type fakeQueue struct {
	entries   []*Entry
	nextSeq   int64
	listCalls int
}

func (f *fakeQueue) add(e *Entry) *Entry {
	f.nextSeq++
	e.Seq = f.nextSeq
	f.entries = append(f.entries, e)
	return e
}

func (f *fakeQueue) ListInSeqOrder(context.Context) ([]*Entry, error) {
	f.listCalls++
	out := make([]*Entry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

func (f *fakeQueue) MaxSeq(context.Context) (int64, error) {
	var max int64
	for _, e := range f.entries {
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max, nil
}

func (f *fakeQueue) CountForIdentifier(_ context.Context, identifier string) (int, error) {
	n := 0
	for _, e := range f.entries {
		if e.Identifier == identifier {
			n++
		}
	}
	return n, nil
}

func (f *fakeQueue) Save(_ context.Context, e *Entry) error {
	for i, x := range f.entries {
		if x.Seq == e.Seq {
			f.entries[i] = e
			return nil
		}
	}
	return fmt.Errorf("no entry %d", e.Seq)
}

func (f *fakeQueue) Delete(_ context.Context, seq int64) error {
	for i, x := range f.entries {
		if x.Seq == seq {
			f.entries = append(f.entries[:i], f.entries[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("no entry %d", seq)
}

func (f *fakeQueue) bySeq(seq int64) *Entry {
	for _, e := range f.entries {
		if e.Seq == seq {
			return e
		}
	}
	return nil
}

type submitCall struct {
	doi, batchID, envelope string
}

type fakeWire struct {
	submits   []submitCall
	submitErr error
	outcome   Outcome
	message   string
	pollErr   error
	polls     int
}

func (f *fakeWire) Submit(_ context.Context, doi, batchID, envelope string) error {
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, submitCall{doi, batchID, envelope})
	return nil
}

func (f *fakeWire) Poll(context.Context, string, string) (Outcome, string, error) {
	f.polls++
	return f.outcome, f.message, f.pollErr
}

type writeBackCall struct {
	qid   string
	user  policy.Agent
	md    map[string]string
	exter bool
}

type fakeWriter struct {
	calls []writeBackCall
}

func (f *fakeWriter) SetMetadata(_ context.Context, qid string, user, _ policy.Agent,
	md map[string]string, updateExternalServices bool) (string, error) {
	f.calls = append(f.calls, writeBackCall{qid, user, md, updateExternalServices})
	return qid, nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	sent []sentMail
}

func (f *fakeMailer) Send(to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to, subject, body})
	return nil
}

type daemonFixture struct {
	daemon *Daemon
	queue  *fakeQueue
	wire   *fakeWire
	writer *fakeWriter
	mail   *fakeMailer
	mgr    *config.Manager
}

func newDaemonFixture(t *testing.T) *daemonFixture {
	t.Helper()
	mgr := config.NewManager(&config.Config{
		AdminUsername: "admin",
		Crossref: config.CrossrefConfig{
			DepositorName:  "MintBind",
			DepositorEmail: "mb@example.org",
		},
	})
	q := &fakeQueue{}
	w := &fakeWire{}
	wr := &fakeWriter{}
	m := &fakeMailer{}
	notify := func(owner string) string {
		if owner == "alice" {
			return "alice@example.org"
		}
		return ""
	}
	return &daemonFixture{
		daemon: NewDaemon(q, w, wr, m, notify, nil, mgr),
		queue:  q,
		wire:   w,
		writer: wr,
		mail:   m,
		mgr:    mgr,
	}
}

func normalizedBody(t *testing.T) string {
	t.Helper()
	body, err := ValidateBody(journalBody)
	require.NoError(t, err)
	return body
}

func unsubmittedEntry(t *testing.T, q *fakeQueue, doi string) *Entry {
	t.Helper()
	return q.add(&Entry{
		Identifier: "doi:" + doi,
		Owner:      "alice",
		Operation:  OpUpdate,
		Status:     StatusUnsubmitted,
		Blob: map[string]string{
			"_o":       "ark:/99166/alice",
			"_t":       "http://target.example/x",
			"crossref": normalizedBody(t),
		},
	})
}

func TestDaemonDeposits(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	require.Len(t, f.wire.submits, 1)
	s := f.wire.submits[0]
	assert.Equal(t, "10.5072/FK2X", s.doi)
	assert.Contains(t, s.envelope, "<doi>10.5072/FK2X</doi>")
	assert.Contains(t, s.envelope, "<resource>http://target.example/x</resource>")
	assert.Contains(t, s.envelope, "<registrant>alice</registrant>")

	saved := f.queue.bySeq(e.Seq)
	require.NotNil(t, saved)
	assert.Equal(t, StatusSubmitted, saved.Status)
	assert.Equal(t, s.batchID, saved.BatchID)
	assert.NotZero(t, saved.SubmitTime)
}

func TestDaemonDeleteOperation(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Operation = OpDelete

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	require.Len(t, f.wire.submits, 1)
	env := f.wire.submits[0].envelope
	assert.Contains(t, env, "<resource>"+deleteTargetURL+"</resource>")
	assert.Contains(t, env, "WITHDRAWN: An Article")

	// Nothing remains to poll; the row is gone.
	assert.Empty(t, f.queue.entries)
	assert.Empty(t, f.writer.calls)
}

func TestDaemonWithdrawsUnavailable(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Blob["_is"] = "unavailable | withdrawn by author"

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))
	require.Len(t, f.wire.submits, 1)
	assert.Contains(t, f.wire.submits[0].envelope, "WITHDRAWN: An Article")
	// An unavailable identifier still exists; its entry proceeds to
	// polling.
	assert.Equal(t, StatusSubmitted, f.queue.bySeq(e.Seq).Status)
}

func TestDaemonSupersession(t *testing.T) {
	f := newDaemonFixture(t)
	old := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	newer := unsubmittedEntry(t, f.queue, "10.5072/FK2X")

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	// The older intent is discarded without touching the wire for it;
	// only the newest survives the pass.
	assert.Nil(t, f.queue.bySeq(old.Seq))
	require.Len(t, f.wire.submits, 1)
	assert.Equal(t, StatusSubmitted, f.queue.bySeq(newer.Seq).Status)
}

func TestDaemonPollSuccess(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Status = StatusSubmitted
	e.BatchID = "batch-1"
	f.wire.outcome = OutcomeSuccess

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	require.Len(t, f.writer.calls, 1)
	wb := f.writer.calls[0]
	assert.Equal(t, "doi:10.5072/FK2X", wb.qid)
	assert.Equal(t, "admin", wb.user.Name)
	assert.Equal(t, map[string]string{"_crossref": "CR_SUCCESS/"}, wb.md)
	assert.False(t, wb.exter, "result write-back must not re-trigger registration")

	assert.Empty(t, f.queue.entries)
	assert.Empty(t, f.mail.sent)
}

func TestDaemonPollWarning(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Status = StatusSubmitted
	e.BatchID = "batch-1"
	f.wire.outcome = OutcomeWarning
	f.wire.message = "dup\nconflict_id=42\nin conflict with: 10.5072/FK2A"

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	require.Len(t, f.writer.calls, 1)
	assert.Equal(t, map[string]string{
		"_crossref": "CR_WARNING/dup conflict_id=42 in conflict with: 10.5072/FK2A",
	}, f.writer.calls[0].md)

	saved := f.queue.bySeq(e.Seq)
	require.NotNil(t, saved)
	assert.Equal(t, StatusWarning, saved.Status)
	assert.Equal(t, f.wire.message, saved.Message)

	require.Len(t, f.mail.sent, 1)
	assert.Equal(t, "alice@example.org", f.mail.sent[0].to)
	assert.Equal(t, "DOI registration registered with warning", f.mail.sent[0].subject)
	assert.Contains(t, f.mail.sent[0].body, "doi:10.5072/FK2X")
}

func TestDaemonPollFailureWithoutNotifyAddress(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Owner = "bob"
	e.Status = StatusSubmitted
	e.BatchID = "batch-1"
	f.wire.outcome = OutcomeFailure
	f.wire.message = "bad record"

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))

	assert.Equal(t, StatusFailure, f.queue.bySeq(e.Seq).Status)
	require.Len(t, f.writer.calls, 1)
	assert.Equal(t, map[string]string{"_crossref": "CR_FAILURE/bad record"},
		f.writer.calls[0].md)
	assert.Empty(t, f.mail.sent, "unlisted owners get no mail")
}

func TestDaemonPollStillProcessing(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Status = StatusSubmitted
	e.BatchID = "batch-1"
	f.wire.outcome = OutcomeSubmitted
	f.wire.message = "in_process"

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))
	saved := f.queue.bySeq(e.Seq)
	assert.Equal(t, StatusSubmitted, saved.Status)
	assert.Equal(t, "in_process", saved.Message)
	assert.Empty(t, f.writer.calls)
}

func TestDaemonRetiredGeneration(t *testing.T) {
	f := newDaemonFixture(t)
	unsubmittedEntry(t, f.queue, "10.5072/FK2X")

	stale := f.mgr.Generation()
	f.mgr.Swap(f.mgr.Current())

	err := f.daemon.RunPass(context.Background(), stale)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errAborted))
	assert.Empty(t, f.wire.submits, "a retired daemon must not touch the wire")
}

func TestDaemonIdleFastPath(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Status = StatusFailure
	e.BatchID = "batch-1"

	// A queue holding only resolved entries settles into the fast path.
	gen := f.mgr.Generation()
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	assert.Equal(t, 1, f.queue.listCalls, "an unchanged queue is not rescanned")

	// New work invalidates the fast path.
	unsubmittedEntry(t, f.queue, "10.5072/FK2Y")
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	assert.Equal(t, 2, f.queue.listCalls)
}

func TestDaemonPendingEntryDefeatsFastPath(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	e.Status = StatusSubmitted
	e.BatchID = "batch-1"
	f.wire.outcome = OutcomeSubmitted

	// The queue's max seq never changes, yet a still-processing batch
	// must be re-polled on every pass.
	gen := f.mgr.Generation()
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	assert.Equal(t, 2, f.wire.polls)
}

func TestDaemonFinalizesSubmissionNextPass(t *testing.T) {
	f := newDaemonFixture(t)
	unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	f.wire.outcome = OutcomeSuccess

	// Pass one deposits; pass two must pick the entry back up, poll it,
	// record the result, and retire the row.
	gen := f.mgr.Generation()
	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	require.Len(t, f.wire.submits, 1)
	assert.Zero(t, f.wire.polls)

	require.NoError(t, f.daemon.RunPass(context.Background(), gen))
	assert.Equal(t, 1, f.wire.polls)
	require.Len(t, f.writer.calls, 1)
	assert.Equal(t, map[string]string{"_crossref": "CR_SUCCESS/"},
		f.writer.calls[0].md)
	assert.Empty(t, f.queue.entries)
}

func TestDaemonDepositFailureLeavesEntry(t *testing.T) {
	f := newDaemonFixture(t)
	e := unsubmittedEntry(t, f.queue, "10.5072/FK2X")
	f.wire.submitErr = fmt.Errorf("registrar down")

	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))
	saved := f.queue.bySeq(e.Seq)
	require.NotNil(t, saved)
	assert.Equal(t, StatusUnsubmitted, saved.Status)

	// The failure invalidated the fast path, so the entry is retried.
	f.wire.submitErr = nil
	require.NoError(t, f.daemon.RunPass(context.Background(), f.mgr.Generation()))
	assert.Equal(t, StatusSubmitted, f.queue.bySeq(e.Seq).Status)
	assert.NotEmpty(t, f.queue.bySeq(e.Seq).BatchID)
}
