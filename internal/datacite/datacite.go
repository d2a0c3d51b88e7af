// Package datacite is the consumed interface to the DataCite-style
// DOI registrar. Registration, target updates, and metadata upload
// are synchronous side effects of DOI operations; validation of
// DataCite Metadata Scheme records happens before any store mutation.
package datacite

import (
	"context"
	"strings"
	"sync/atomic"
)

// Registrar is the set of registrar operations the coordinator
// consumes.
type Registrar interface {
	// RegisterIdentifier registers a new scheme-less DOI with its
	// target URL.
	RegisterIdentifier(ctx context.Context, doi, target string) error

	// SetTargetUrl pushes a new target URL for an existing DOI.
	SetTargetUrl(ctx context.Context, doi, target string) error

	// UploadMetadata uploads a metadata delta for a DOI. A non-empty
	// returned message is a validation rejection to surface to the
	// caller; an error is an internal failure.
	UploadMetadata(ctx context.Context, doi string,
		current, delta map[string]string) (message string, err error)

	// ValidateDcmsRecord validates and normalizes a DataCite Metadata
	// Scheme record for the given qualified identifier.
	ValidateDcmsRecord(qid, record string) (string, error)

	// NumActiveOperations reports in-flight registrar operations, for
	// status reporting.
	NumActiveOperations() int
}

// Disabled is the Registrar used when datacite.enabled is false: all
// side effects succeed vacuously and records pass through validation
// after a well-formedness check.
type Disabled struct {
	active atomic.Int64
}

// NewDisabled creates a disabled registrar.
func NewDisabled() *Disabled { return &Disabled{} }

// RegisterIdentifier is a no-op.
func (d *Disabled) RegisterIdentifier(context.Context, string, string) error { return nil }

// SetTargetUrl is a no-op.
func (d *Disabled) SetTargetUrl(context.Context, string, string) error { return nil }

// UploadMetadata is a no-op.
func (d *Disabled) UploadMetadata(context.Context, string,
	map[string]string, map[string]string) (string, error) {
	return "", nil
}

// ValidateDcmsRecord passes the record through unchanged.
func (d *Disabled) ValidateDcmsRecord(_, record string) (string, error) {
	return strings.TrimSpace(record), nil
}

// NumActiveOperations reports zero.
func (d *Disabled) NumActiveOperations() int { return int(d.active.Load()) }

var _ Registrar = (*Disabled)(nil)
