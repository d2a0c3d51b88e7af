// Package identifier implements parsing, validation, and shadow-ARK
// mapping for the three supported identifier schemes.
//
// Metadata for an ARK identifier (e.g., ark:/13030/foo) is keyed by
// the canonical form of that identifier; metadata for a non-ARK
// identifier (e.g., doi:10.5060/FOO) is keyed by the identifier's
// shadow ARK (e.g., ark:/b5060/foo). The shadow ARK for a non-ARK
// identifier is computable by a simple mapping; the reverse mapping
// for DOIs is also mechanical because the encoding is reversible.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "mintbind.io/mintbind/internal/pkg/errors"
)

// Scheme tags an identifier with its namespace at parse time so the
// rest of the system can dispatch on the tag instead of re-examining
// the string.
type Scheme int

const (
	// SchemeArk is ark:/NAAN/name.
	SchemeArk Scheme = iota
	// SchemeDoi is doi:10.NAAN/NAME.
	SchemeDoi
	// SchemeUrnUuid is urn:uuid:xxxxxxxx-xxxx-xxxx-xxxx-xxxxxxxxxxxx.
	SchemeUrnUuid
)

// String returns the scheme's qualified prefix.
func (s Scheme) String() string {
	switch s {
	case SchemeArk:
		return "ark:/"
	case SchemeDoi:
		return "doi:"
	case SchemeUrnUuid:
		return "urn:uuid:"
	default:
		return "unknown:"
	}
}

// Identifier is a parsed, canonicalized identifier.
type Identifier struct {
	Scheme Scheme

	// Name is the canonical scheme-less form: "13030/foo" for an ARK,
	// "10.5060/FOO" for a DOI, the lowercase UUID for a URN.
	Name string
}

// Qualified returns the canonical qualified form, e.g. "doi:10.5060/FOO".
func (id Identifier) Qualified() string {
	return id.Scheme.String() + id.Name
}

// IsArk reports whether the identifier is a native ARK.
func (id Identifier) IsArk() bool { return id.Scheme == SchemeArk }

// ShadowArk returns the scheme-less ARK under which the identifier's
// metadata is stored. For ARKs this is the name itself.
func (id Identifier) ShadowArk() string {
	switch id.Scheme {
	case SchemeDoi:
		return Doi2Shadow(id.Name)
	case SchemeUrnUuid:
		return UrnUuid2Shadow(id.Name)
	default:
		return id.Name
	}
}

var (
	arkRE  = regexp.MustCompile(`^(?:\d{5}|b\d{4,5})/(?:[0-9a-z./_$*+@=~-]|%[0-9a-f]{2})+$`)
	doiRE  = regexp.MustCompile(`^10\.\d{4,5}/[!-~]+$`)
	uuidRE = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)
)

func invalid(scheme string) error {
	return apperrors.BadRequest(apperrors.CodeInvalidIdentifier,
		fmt.Sprintf("invalid %s identifier", scheme))
}

// ValidateArk validates a scheme-less ARK (e.g., "13030/foo") and
// returns its canonical (lowercase) form.
func ValidateArk(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !arkRE.MatchString(s) {
		return "", invalid("ARK")
	}
	return s, nil
}

// ValidateDoi validates a scheme-less DOI (e.g., "10.5060/foo") and
// returns its canonical form, which uppercases the suffix.
func ValidateDoi(s string) (string, error) {
	s = strings.TrimSpace(s)
	if !doiRE.MatchString(s) {
		return "", invalid("DOI")
	}
	slash := strings.Index(s, "/")
	return s[:slash+1] + strings.ToUpper(s[slash+1:]), nil
}

// ValidateUrnUuid validates a scheme-less UUID URN (e.g.,
// "f81d4fae-7dec-11d0-a765-00a0c91e6bf6") and returns its canonical
// (lowercase) form.
func ValidateUrnUuid(s string) (string, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if !uuidRE.MatchString(s) {
		return "", invalid("UUID URN")
	}
	return s, nil
}

// Parse parses a qualified identifier, dispatching on its scheme
// prefix, and returns the canonical parsed form.
func Parse(qualified string) (Identifier, error) {
	switch {
	case strings.HasPrefix(qualified, "doi:"):
		doi, err := ValidateDoi(qualified[4:])
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Scheme: SchemeDoi, Name: doi}, nil
	case strings.HasPrefix(qualified, "ark:/"):
		ark, err := ValidateArk(qualified[5:])
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Scheme: SchemeArk, Name: ark}, nil
	case strings.HasPrefix(qualified, "urn:uuid:"):
		urn, err := ValidateUrnUuid(qualified[9:])
		if err != nil {
			return Identifier{}, err
		}
		return Identifier{Scheme: SchemeUrnUuid, Name: urn}, nil
	default:
		return Identifier{}, apperrors.BadRequest(apperrors.CodeUnknownScheme,
			"unrecognized identifier scheme")
	}
}

// shadowSafe is the set of suffix characters that pass through the
// DOI shadow mapping unencoded. '%' is excluded so the encoding is
// reversible.
const shadowSafe = "0123456789abcdefghijklmnopqrstuvwxyz./_$*+@=~-"

// Doi2Shadow computes the shadow ARK of a canonical scheme-less DOI.
// "10.5060/FOO" maps to "b5060/foo": the NAAN is prefixed with "b"
// and the suffix is lowercased, with characters outside the ARK
// charset percent-encoded.
func Doi2Shadow(doi string) string {
	slash := strings.Index(doi, "/")
	naan := doi[3:slash] // digits after "10."
	suffix := strings.ToLower(doi[slash+1:])
	var b strings.Builder
	b.WriteString("b")
	b.WriteString(naan)
	b.WriteString("/")
	for i := 0; i < len(suffix); i++ {
		c := suffix[i]
		if strings.IndexByte(shadowSafe, c) >= 0 {
			b.WriteByte(c)
		} else {
			fmt.Fprintf(&b, "%%%02x", c)
		}
	}
	return b.String()
}

// Shadow2Doi is the inverse of Doi2Shadow: "b5060/foo" maps to
// "10.5060/FOO".
func Shadow2Doi(shadow string) (string, error) {
	if !strings.HasPrefix(shadow, "b") {
		return "", invalid("shadow ARK")
	}
	slash := strings.Index(shadow, "/")
	if slash < 0 {
		return "", invalid("shadow ARK")
	}
	naan := shadow[1:slash]
	var b strings.Builder
	suffix := shadow[slash+1:]
	for i := 0; i < len(suffix); {
		if suffix[i] == '%' {
			if i+3 > len(suffix) {
				return "", invalid("shadow ARK")
			}
			var c byte
			if _, err := fmt.Sscanf(suffix[i+1:i+3], "%02x", &c); err != nil {
				return "", invalid("shadow ARK")
			}
			b.WriteByte(c)
			i += 3
		} else {
			b.WriteByte(suffix[i])
			i++
		}
	}
	return "10." + naan + "/" + strings.ToUpper(b.String()), nil
}

// UrnUuidNaan is the NAAN under which UUID URN shadow ARKs live.
const UrnUuidNaan = "97720"

// UrnUuid2Shadow computes the shadow ARK of a canonical scheme-less
// UUID URN: the hex digits with hyphens removed, under NAAN 97720.
func UrnUuid2Shadow(urn string) string {
	return UrnUuidNaan + "/" + strings.ReplaceAll(urn, "-", "")
}
