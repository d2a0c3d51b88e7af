// Package coordinator implements the identifier operations: mint,
// create, get, and set, with per-identifier serialization, scheme
// routing, shadow-ARK mapping, and authorization gating.
//
// All identifier metadata is stored in the binder keyed by ARK.
// Metadata for a non-ARK identifier is keyed by the identifier's
// shadow ARK. A non-ARK identifier and its shadow ARK may have
// different target URLs but otherwise share all metadata, and so they
// should be considered closely-related identifiers.
//
// Reserved element names have two forms: a short form used for
// storage and a longer form used in communicating with clients. See
// labelMapping for the table.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"mintbind.io/mintbind/internal/binder"
	"mintbind.io/mintbind/internal/datacite"
	"mintbind.io/mintbind/internal/idlock"
	"mintbind.io/mintbind/internal/idmap"
	"mintbind.io/mintbind/internal/minter"
	"mintbind.io/mintbind/internal/policy"
	apperrors "mintbind.io/mintbind/internal/pkg/errors"
	"mintbind.io/mintbind/internal/pkg/logger"
)

// labelMapping maps stored reserved element names to their
// transmitted forms.
var labelMapping = map[string]string{
	"_o":  "_owner",
	"_g":  "_ownergroup",
	"_co": "_coowners",
	"_c":  "_created",
	"_u":  "_updated",
	"_t":  "_target",
	"_s":  "_shadows",
	"_su": "_updated",
	"_st": "_target",
	"_p":  "_profile",
	"_is": "_status",
}

// PrefixEntry is one registered shoulder: its qualified prefix and
// the minter bound to it.
type PrefixEntry struct {
	Prefix string
	Minter minter.Minter
}

// Enqueuer accepts registrar registration intents. The crossref queue
// implements it; the interface lives here so the coordinator does not
// depend on the registrar pipeline.
type Enqueuer interface {
	Enqueue(ctx context.Context, identifier, operation, owner string,
		blob map[string]string) error
}

// Settings is the coordinator's snapshot-derived configuration.
type Settings struct {
	// BaseURL builds self-referential target URLs.
	BaseURL string

	// AdminUsername may set reserved elements using stored forms.
	AdminUsername string

	// Default profiles per scheme.
	DefaultDoiProfile     string
	DefaultArkProfile     string
	DefaultUrnUuidProfile string

	// CrossrefEnabled gates registrar enqueueing.
	CrossrefEnabled bool
}

// Coordinator dispatches identifier operations.
type Coordinator struct {
	store binder.Store
	locks *idlock.Registry
	authz policy.Authorizer
	dir   idmap.Directory
	dc    datacite.Registrar
	queue Enqueuer

	// settings returns the current configuration-derived settings;
	// it reads the live snapshot so a reload takes effect without
	// rebuilding the coordinator.
	settings func() Settings

	// prefixes returns the registered shoulders, keyed by qualified
	// prefix.
	prefixes func() map[string]PrefixEntry

	// active counts in-flight operations per user.
	mu     sync.Mutex
	active map[string]int
}

// New creates a coordinator.
func New(store binder.Store, locks *idlock.Registry, authz policy.Authorizer,
	dir idmap.Directory, dc datacite.Registrar, queue Enqueuer,
	settings func() Settings, prefixes func() map[string]PrefixEntry) *Coordinator {
	return &Coordinator{
		store:    store,
		locks:    locks,
		authz:    authz,
		dir:      dir,
		dc:       dc,
		queue:    queue,
		settings: settings,
		prefixes: prefixes,
		active:   make(map[string]int),
	}
}

// Locks exposes the per-identifier lock registry for status reporting.
func (c *Coordinator) Locks() *idlock.Registry { return c.locks }

func (c *Coordinator) beginOp(user string) {
	c.mu.Lock()
	c.active[user]++
	c.mu.Unlock()
}

func (c *Coordinator) endOp(user string) {
	c.mu.Lock()
	c.active[user]--
	if c.active[user] == 0 {
		delete(c.active, user)
	}
	c.mu.Unlock()
}

// Status returns in-flight operation counts and lock-waiter counts by
// user, for the status reporter.
func (c *Coordinator) Status() (activeUsers, waitingUsers map[string]int) {
	c.mu.Lock()
	activeUsers = make(map[string]int, len(c.active))
	for u, n := range c.active {
		activeUsers[u] = n
	}
	c.mu.Unlock()
	return activeUsers, c.locks.Waiting()
}

// quotePath percent-encodes a qualified identifier for embedding in a
// URL path. The scheme colon stays literal; slashes are encoded so the
// whole identifier is one path segment.
func quotePath(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case strings.IndexByte("_.-~:", c) >= 0:
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}

// selfTarget builds the default self-referential target URL for a
// qualified identifier.
func (c *Coordinator) selfTarget(qid string) string {
	return c.settings().BaseURL + "/id/" + quotePath(qid)
}

// arkTarget builds the self-referential target URL for a scheme-less
// shadow ARK.
func (c *Coordinator) arkTarget(shadowArk string) string {
	return c.selfTarget("ark:/" + shadowArk)
}

// nowStamp is the Unix-seconds timestamp format stored in _c, _u, and
// _su.
func nowStamp() string {
	return strconv.FormatInt(time.Now().Unix(), 10)
}

// oneline collapses whitespace runs, keeping multi-line diagnostics on
// one log or response line.
func oneline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// fail records an operation outcome on the transaction log and returns
// the error to propagate. Non-application errors are collapsed to an
// internal error; their details stay in the log.
func fail(txn *logger.Txn, err error) error {
	if appErr, ok := apperrors.IsAppError(err); ok {
		switch appErr.Code {
		case apperrors.CodeUnauthorized:
			txn.Unauthorized()
		case apperrors.CodeInternal:
			txn.Error(err)
		default:
			txn.BadRequest(appErr.Message)
		}
		return err
	}
	txn.Error(err)
	return apperrors.Wrap(err, apperrors.CodeInternal,
		"internal server error", http.StatusInternalServerError)
}

func internalErr(err error, what string) error {
	return apperrors.Wrap(err, apperrors.CodeInternal,
		what, http.StatusInternalServerError)
}
