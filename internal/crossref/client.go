package crossref

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// testDoiPrefix routes submissions for the test NAAN to the test
// server.
const testDoiPrefix = "10.5072/"

// submitSuccess is the phrase the registrar includes in the response
// to an accepted submission.
const submitSuccess = "Your batch submission was successfully received."

// Outcome is the result of polling a submitted batch.
type Outcome int

const (
	// OutcomeSubmitted means the batch is still being processed.
	OutcomeSubmitted Outcome = iota
	// OutcomeSuccess means processing completed with all records
	// registered.
	OutcomeSuccess
	// OutcomeWarning means processing completed but a record drew a
	// warning.
	OutcomeWarning
	// OutcomeFailure means processing completed and a record failed.
	OutcomeFailure
	// OutcomeUnknown means the poll response could not be interpreted;
	// the batch is re-polled later.
	OutcomeUnknown
)

// ClientConfig holds the wire endpoints and credentials.
type ClientConfig struct {
	// RealServer and TestServer are host names substituted into the
	// URL templates; test-NAAN DOIs route to TestServer.
	RealServer string
	TestServer string

	// DepositURL and ResultsURL are templates with a %s slot for the
	// server host.
	DepositURL string
	ResultsURL string

	Username string
	Password string
}

// Client speaks the registrar submission wire.
type Client struct {
	cfg  func() ClientConfig
	http *http.Client
}

// NewClient creates a wire client. cfg is read per call so a
// configuration reload takes effect immediately.
func NewClient(cfg func() ClientConfig) *Client {
	return &Client{cfg: cfg, http: &http.Client{}}
}

func (c *Client) server(doi string) string {
	cfg := c.cfg()
	if strings.HasPrefix(doi, testDoiPrefix) {
		return cfg.TestServer
	}
	return cfg.RealServer
}

// newBoundary draws a multipart boundary not occurring in any of the
// given parts, by rejection sampling.
func newBoundary(parts ...string) (string, error) {
	for {
		buf := make([]byte, 16)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		b := "BOUNDARY_" + hex.EncodeToString(buf)
		hit := false
		for _, p := range parts {
			if strings.Contains(p, b) {
				hit = true
				break
			}
		}
		if !hit {
			return b, nil
		}
	}
}

// Submit uploads a deposit envelope. The scheme-less DOI selects the
// server; batchID names the uploaded file for later polling.
func (c *Client) Submit(ctx context.Context, doi, batchID, envelope string) error {
	cfg := c.cfg()
	boundary, err := newBoundary(envelope, cfg.Username, cfg.Password)
	if err != nil {
		return err
	}
	var b strings.Builder
	field := func(name, value string) {
		fmt.Fprintf(&b, "--%s\r\n", boundary)
		fmt.Fprintf(&b, "Content-Disposition: form-data; name=\"%s\"\r\n\r\n", name)
		b.WriteString(value)
		b.WriteString("\r\n")
	}
	field("operation", "doMDUpload")
	field("login_id", cfg.Username)
	field("login_passwd", cfg.Password)
	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Disposition: form-data; name=\"fname\"; filename=\"%s.xml\"\r\n",
		batchID)
	b.WriteString("Content-Type: application/xml; charset=UTF-8\r\n\r\n")
	b.WriteString(envelope)
	fmt.Fprintf(&b, "\r\n--%s--\r\n", boundary)

	u := fmt.Sprintf(cfg.DepositURL, c.server(doi))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u,
		strings.NewReader(b.String()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "multipart/form-data; boundary="+boundary)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("registrar submit: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("registrar submit: HTTP %d, response follows\n%s",
			resp.StatusCode, string(body))
	}
	if !strings.Contains(string(body), submitSuccess) {
		return fmt.Errorf("registrar submit not acknowledged, response follows\n%s",
			string(body))
	}
	return nil
}

// Poll retrieves the processing result for a submitted batch. The
// returned message accompanies submitted, warning, and failure
// outcomes. A response that cannot be interpreted yields
// OutcomeUnknown with no error; transport failures are errors.
func (c *Client) Poll(ctx context.Context, doi, batchID string) (Outcome, string, error) {
	cfg := c.cfg()
	q := url.Values{}
	q.Set("usr", cfg.Username)
	q.Set("pwd", cfg.Password)
	q.Set("file_name", batchID+".xml")
	q.Set("type", "result")
	u := fmt.Sprintf(cfg.ResultsURL, c.server(doi)) + "?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return OutcomeUnknown, "", err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return OutcomeUnknown, "", fmt.Errorf("registrar poll: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return OutcomeUnknown, "", fmt.Errorf("registrar poll: HTTP %d, response follows\n%s",
			resp.StatusCode, string(body))
	}
	return interpretPollResponse(resp.Body)
}

// interpretPollResponse parses a doi_batch_diagnostic document.
func interpretPollResponse(r io.Reader) (Outcome, string, error) {
	root, err := parseXML(r)
	if err != nil {
		return OutcomeUnknown, "", nil
	}
	if root.Local != "doi_batch_diagnostic" {
		return OutcomeUnknown, "", nil
	}
	status, ok := root.attrValue("status")
	if !ok {
		return OutcomeUnknown, "", nil
	}
	if status != "completed" {
		return OutcomeSubmitted, status, nil
	}
	for _, d := range root.findAll("record_diagnostic") {
		rs, ok := d.attrValue("status")
		if !ok {
			return OutcomeUnknown, "", nil
		}
		switch rs {
		case "Success":
			continue
		case "Warning", "Failure":
			lines := []string{}
			if msg := d.child("msg"); msg != nil {
				lines = append(lines, strings.TrimSpace(msg.Text))
			}
			if cid := d.child("conflict_id"); cid != nil {
				lines = append(lines, "conflict_id="+strings.TrimSpace(cid.Text))
			}
			if dic := d.child("dois_in_conflict"); dic != nil {
				for _, doi := range dic.childrenNamed("doi") {
					lines = append(lines, "in conflict with: "+strings.TrimSpace(doi.Text))
				}
			}
			out := OutcomeWarning
			if rs == "Failure" {
				out = OutcomeFailure
			}
			return out, strings.Join(lines, "\n"), nil
		default:
			return OutcomeUnknown, "", nil
		}
	}
	return OutcomeSuccess, "", nil
}
