package crossref

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	apperrors "mintbind.io/mintbind/internal/pkg/errors"
)

var (
	prologRE = regexp.MustCompile(`(?s)^\s*<\?xml\s+version\s*=\s*['"]([^'"]*)['"]` +
		`(?:\s+encoding\s*=\s*['"]([^'"]*)['"])?` +
		`(?:\s+standalone\s*=\s*['"]([^'"]*)['"])?\s*\?>`)

	schemaNSRE = regexp.MustCompile(`^http://www\.crossref\.org/schema/(4\.3\.4|4\.4\.\d)$`)
)

// rootTags are the accepted deposit content types, the local names
// allowed directly under the deposit body.
var rootTags = map[string]struct{}{
	"journal":        {},
	"book":           {},
	"conference":     {},
	"sa_component":   {},
	"dissertation":   {},
	"report-paper":   {},
	"standard":       {},
	"database":       {},
	"peer_review":    {},
	"posted_content": {},
}

// tbaPlaceholder marks the doi and resource slots in a normalized
// body; envelope construction fills them in at submission time.
const tbaPlaceholder = "(:tba)"

func depositErr(format string, args ...any) error {
	return apperrors.BadRequest(apperrors.CodeCrossrefInvalid,
		fmt.Sprintf(format, args...))
}

// sanitizeXMLSafe replaces characters outside the XML character range
// with '?'.
func sanitizeXMLSafe(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\t' || r == '\n' || r == '\r':
			return r
		case r >= 0x20 && r <= 0xd7ff:
			return r
		case r >= 0xe000 && r <= 0xfffd:
			return r
		case r >= 0x10000 && r <= 0x10ffff:
			return r
		default:
			return '?'
		}
	}, s)
}

// ValidateBody checks and normalizes a deposit metadata record. The
// record may be a full doi_batch document, a body element, or a bare
// content element; normalization descends to the content element,
// rewrites its doi and resource slots to placeholders, and attaches
// the schema location. The returned form is itself a valid input, and
// validating it again returns it unchanged (modulo the fresh
// serialization being identical).
func ValidateBody(body string) (string, error) {
	if m := prologRE.FindStringSubmatch(body); m != nil {
		if m[1] != "1.0" {
			return "", depositErr("unsupported XML version %q", m[1])
		}
		if m[2] != "" && strings.ToLower(m[2]) != "utf-8" {
			return "", depositErr("unsupported XML encoding %q", m[2])
		}
		if m[3] != "" && m[3] != "yes" {
			return "", depositErr("unsupported standalone declaration")
		}
	}

	root, err := parseXMLString(body)
	if err != nil {
		return "", depositErr("XML parse error: %s", oneline(err.Error()))
	}
	m := schemaNSRE.FindStringSubmatch(root.Space)
	if m == nil {
		return "", depositErr("unrecognized namespace %q", root.Space)
	}
	version := m[1]
	ns := root.Space

	// Descend from a doi_batch or body wrapper to the content element.
	e := root
	if e.Local == "doi_batch" {
		e = e.child("body")
		if e == nil {
			return "", depositErr("doi_batch element has no body")
		}
	}
	if e.Local == "body" {
		var content []*element
		for _, c := range e.Children {
			content = append(content, c)
		}
		if len(content) != 1 {
			return "", depositErr("body element must have exactly one child")
		}
		e = content[0]
	}
	if _, ok := rootTags[e.Local]; !ok {
		return "", depositErr("unrecognized element %q", e.Local)
	}

	doiData := e.findAll("doi_data")
	if e.Local == "doi_data" {
		doiData = append([]*element{e}, doiData...)
	}
	if len(doiData) != 1 {
		return "", depositErr("expected exactly one doi_data element, found %d",
			len(doiData))
	}
	d := doiData[0]
	dois := d.childrenNamed("doi")
	if len(dois) != 1 {
		return "", depositErr("expected exactly one doi element, found %d", len(dois))
	}
	dois[0].Text = tbaPlaceholder
	dois[0].Children = nil
	resources := d.childrenNamed("resource")
	if len(resources) != 1 {
		return "", depositErr("expected exactly one resource element, found %d",
			len(resources))
	}
	resources[0].Text = tbaPlaceholder
	resources[0].Children = nil
	for _, coll := range d.childrenNamed("collection") {
		for _, item := range coll.childrenNamed("item") {
			if len(item.childrenNamed("doi")) > 0 {
				return "", depositErr("collection/item/doi elements are not supported")
			}
		}
	}
	d.removeChildren("timestamp")

	e.setAttr(xsiNS, "schemaLocation",
		ns+" http://www.crossref.org/schema/deposit/crossref"+version+".xsd")
	e.Tail = ""

	return sanitizeXMLSafe("<?xml version=\"1.0\"?>\n" + e.serialize()), nil
}

// withdrawTitlePaths are the title locations, relative to doi_data,
// that get a withdrawal marker prepended.
var withdrawTitlePaths = [][]string{
	{"..", "titles", "title"},
	{"..", "titles", "original_language_title"},
	{"..", "proceedings_title"},
	{"..", "full_title"},
	{"..", "abbrev_title"},
}

// Deposit is a constructed registrar submission.
type Deposit struct {
	// Envelope is the full doi_batch document submitted to the
	// registrar.
	Envelope string

	// Body is the body-only serialized form.
	Body string

	// BatchID correlates the submission with subsequent polls.
	BatchID string
}

// Depositor is the submitting party identity placed in every envelope
// head.
type Depositor struct {
	Name  string
	Email string
}

// BuildDeposit builds a submission from a normalized body. The DOI is
// scheme-less; withdrawTitles marks every title as withdrawn, used for
// deletions and unavailable identifiers. bodyOnly skips envelope
// construction.
func BuildDeposit(body string, depositor Depositor,
	registrant, doi, targetURL string,
	withdrawTitles, bodyOnly bool) (*Deposit, error) {
	root, err := parseXMLString(body)
	if err != nil {
		return nil, depositErr("XML parse error: %s", oneline(err.Error()))
	}
	m := schemaNSRE.FindStringSubmatch(root.Space)
	if m == nil {
		return nil, depositErr("unrecognized namespace %q", root.Space)
	}
	version := m[1]
	ns := root.Space

	doiData := root.findAll("doi_data")
	if root.Local == "doi_data" {
		doiData = append([]*element{root}, doiData...)
	}
	if len(doiData) != 1 {
		return nil, depositErr("expected exactly one doi_data element, found %d",
			len(doiData))
	}
	d := doiData[0]
	doiEl := d.child("doi")
	resourceEl := d.child("resource")
	if doiEl == nil || resourceEl == nil {
		return nil, depositErr("doi_data is missing doi or resource")
	}
	doiEl.Text = doi
	resourceEl.Text = targetURL

	dep := &Deposit{Body: root.serialize()}
	if bodyOnly {
		return dep, nil
	}

	// Withdrawal markers belong to the submitted envelope only; the
	// body form above stays pristine.
	if withdrawTitles {
		parent := findParent(root, d)
		if parent != nil {
			for _, path := range withdrawTitlePaths {
				for _, t := range resolvePath(parent, path[1:]) {
					t.Text = "WITHDRAWN: " + t.Text
				}
			}
		}
	}

	dep.BatchID = uuid.NewString()

	// The schema location moves from the content element to the
	// envelope root.
	var schemaLoc string
	for _, a := range root.Attrs {
		if a.Space == xsiNS && a.Local == "schemaLocation" {
			schemaLoc = a.Value
		}
	}
	root.removeAttr(xsiNS, "schemaLocation")

	depositorName := "depositor_name"
	if version < "4.3.4" {
		depositorName = "name"
	}
	head := &element{Space: ns, Local: "head", Children: []*element{
		{Space: ns, Local: "doi_batch_id", Text: dep.BatchID},
		{Space: ns, Local: "timestamp",
			Text: fmt.Sprintf("%d", time.Now().UnixNano()/1e7)},
		{Space: ns, Local: "depositor", Children: []*element{
			{Space: ns, Local: depositorName, Text: depositor.Name},
			{Space: ns, Local: "email_address", Text: depositor.Email},
		}},
		{Space: ns, Local: "registrant", Text: registrant},
	}}
	envelope := &element{
		Space: ns,
		Local: "doi_batch",
		Attrs: []attr{{Local: "version", Value: version}},
		Children: []*element{
			head,
			{Space: ns, Local: "body", Children: []*element{root}},
		},
	}
	if schemaLoc != "" {
		envelope.setAttr(xsiNS, "schemaLocation", schemaLoc)
	}
	dep.Envelope = "<?xml version=\"1.0\"?>\n" + envelope.serialize()
	return dep, nil
}

// findParent returns the direct parent of target within the tree
// rooted at e, or nil when target is the root.
func findParent(e, target *element) *element {
	for _, c := range e.Children {
		if c == target {
			return e
		}
		if p := findParent(c, target); p != nil {
			return p
		}
	}
	return nil
}

// resolvePath walks child local names from e, returning all matching
// leaf elements.
func resolvePath(e *element, path []string) []*element {
	nodes := []*element{e}
	for _, name := range path {
		var next []*element
		for _, n := range nodes {
			next = append(next, n.childrenNamed(name)...)
		}
		nodes = next
	}
	return nodes
}

// oneline collapses whitespace runs into single spaces.
func oneline(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
