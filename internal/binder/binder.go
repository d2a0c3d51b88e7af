// Package binder is the metadata store adapter. All identifier
// metadata lives in a single "bind" noid instance, keyed by
// scheme-less ARK. The egg client speaks the binder's line protocol
// over HTTP; Store is the interface the coordinator consumes.
//
// Whitespace handling: leading and trailing whitespace is stripped
// from element names and values. Empty names are not allowed. Setting
// an empty value deletes the element, so empty values are never
// returned.
package binder

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"regexp"
	"strings"
)

// Store is the set of binder operations the coordinator consumes.
type Store interface {
	// Exists reports whether a scheme-less ARK has metadata bound.
	Exists(ctx context.Context, ark string) (bool, error)

	// Hold reserves an identifier before its element map is written.
	Hold(ctx context.Context, ark string) error

	// Get returns all elements bound to an ARK, or nil if the
	// identifier does not exist.
	Get(ctx context.Context, ark string) (map[string]string, error)

	// Set merges elements into an ARK's bindings. Existing elements
	// not named are preserved; an empty value deletes the element.
	Set(ctx context.Context, ark string, elements map[string]string) error

	// Delete purges all bindings, after which Exists reports false
	// and Get returns nil.
	Delete(ctx context.Context, ark string) error
}

// EggClient talks to a noid egg binder over HTTP with basic auth.
type EggClient struct {
	server string
	auth   string
	client *http.Client
}

// NewEggClient creates a binder client for the given server URL.
func NewEggClient(server, username, password string) *EggClient {
	return &EggClient{
		server: server,
		auth: "Basic " + base64.StdEncoding.EncodeToString(
			[]byte(username+":"+password)),
		client: &http.Client{},
	}
}

// op is one binder operation: (identifier, verb[, element[, value]]).
type op struct {
	identifier string
	verb       string
	element    string
	value      string
	hasElement bool
	hasValue   bool
}

func (c *EggClient) issue(ctx context.Context, method string, ops []op) ([]string, error) {
	var body string
	if len(ops) > 0 {
		lines := make([]string, 0, len(ops))
		for _, o := range ops {
			s := fmt.Sprintf(":hx%% ark:/%s.%s", EncodeName(o.identifier), o.verb)
			if o.hasElement {
				s += " " + EncodeName(o.element)
			}
			if o.hasValue {
				s += " " + EncodeValue(o.value)
			}
			lines = append(lines, s)
		}
		body = strings.Join(lines, "\n")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.server+"?-", strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.auth)
	if body != "" {
		req.Header.Set("Content-Type", "text/plain")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		out = append(out, sc.Text())
	}
	return out, sc.Err()
}

func protocolError(operation string, lines []string) error {
	return fmt.Errorf("unexpected return from binder %q operation, output follows\n%s",
		operation, strings.Join(lines, "\n"))
}

var boundCountRE = regexp.MustCompile(`: (\d+)$`)

// fetch retrieves the raw fetch response for an identifier and the
// number of bound elements it reports.
func (c *EggClient) fetch(ctx context.Context, ark string) ([]string, int, error) {
	s, err := c.issue(ctx, http.MethodGet, []op{{identifier: ark, verb: "fetch"}})
	if err != nil {
		return nil, 0, err
	}
	if len(s) < 4 || !strings.HasPrefix(s[0], "# id:") ||
		!strings.HasPrefix(s[len(s)-3], "# elements bound under") ||
		s[len(s)-2] != "egg-status: 0" {
		return nil, 0, protocolError("fetch", s)
	}
	// The banner identifier comes back in the binder's raw circumflex
	// encoding and must match what was asked for.
	if DecodeRaw(strings.TrimSpace(s[0][len("# id:"):])) != "ark:/"+ark {
		return nil, 0, protocolError("fetch", s)
	}
	m := boundCountRE.FindStringSubmatch(s[len(s)-3])
	if m == nil {
		return nil, 0, protocolError("fetch", s)
	}
	var count int
	fmt.Sscanf(m[1], "%d", &count)
	return s, count, nil
}

// Exists reports whether the identifier has metadata bound. The
// binder returns information for any identifier string, so presence
// of metadata is the existence test: either an identifier has service
// metadata (along with binder-internal metadata) or it has none at
// all.
func (c *EggClient) Exists(ctx context.Context, ark string) (bool, error) {
	_, count, err := c.fetch(ctx, ark)
	if err != nil {
		return false, err
	}
	return count != 0, nil
}

// Hold reserves the identifier.
func (c *EggClient) Hold(ctx context.Context, ark string) error {
	s, err := c.issue(ctx, http.MethodPost, []op{{identifier: ark, verb: "hold"}})
	if err != nil {
		return err
	}
	if len(s) < 2 || s[len(s)-2] != "egg-status: 0" {
		return protocolError("hold", s)
	}
	return nil
}

// Get returns all elements bound to the identifier, or nil if it does
// not exist.
func (c *EggClient) Get(ctx context.Context, ark string) (map[string]string, error) {
	s, count, err := c.fetch(ctx, ark)
	if err != nil {
		return nil, err
	}
	if len(s) != count+4 {
		return nil, protocolError("fetch", s)
	}
	if count == 0 {
		return nil, nil
	}
	d := make(map[string]string)
	for _, line := range s[1 : len(s)-3] {
		if strings.HasPrefix(line, "__") {
			continue // binder-internal binding
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			return nil, protocolError("fetch", s)
		}
		d[Decode(line[:colon])] = Decode(strings.TrimSpace(line[colon+1:]))
	}
	if len(d) == 0 {
		return nil, protocolError("fetch", s)
	}
	return d, nil
}

// Set merges elements into the identifier's bindings.
func (c *EggClient) Set(ctx context.Context, ark string, elements map[string]string) error {
	ops := make([]op, 0, len(elements))
	for e, v := range elements {
		e = strings.TrimSpace(e)
		if e == "" {
			return fmt.Errorf("empty element name")
		}
		v = strings.TrimSpace(v)
		if v == "" {
			ops = append(ops, op{identifier: ark, verb: "rm", element: e, hasElement: true})
		} else {
			ops = append(ops, op{identifier: ark, verb: "set",
				element: e, value: v, hasElement: true, hasValue: true})
		}
	}
	s, err := c.issue(ctx, http.MethodPost, ops)
	if err != nil {
		return err
	}
	if len(s) < 2 || s[len(s)-2] != "egg-status: 0" {
		return protocolError("set/rm", s)
	}
	return nil
}

// Delete purges all bindings (including binder-internal elements) and
// verifies the identifier no longer exists. As far as the binder is
// concerned the identifier still exists and elements can be re-bound
// to it in the future.
func (c *EggClient) Delete(ctx context.Context, ark string) error {
	s, err := c.issue(ctx, http.MethodPost, []op{{identifier: ark, verb: "purge"}})
	if err != nil {
		return err
	}
	if len(s) < 2 || s[len(s)-2] != "egg-status: 0" {
		return protocolError("purge", s)
	}
	exists, err := c.Exists(ctx, ark)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("binder purge of %s left remaining bindings", ark)
	}
	return nil
}

// Ping tests the binder, returning "up" or "down".
func (c *EggClient) Ping(ctx context.Context) string {
	s, err := c.issue(ctx, http.MethodGet, nil)
	if err != nil || len(s) < 2 || s[len(s)-2] != "egg-status: 0" {
		return "down"
	}
	return "up"
}

var _ Store = (*EggClient)(nil)
