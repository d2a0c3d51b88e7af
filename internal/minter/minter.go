// Package minter adapts the external noid minter: an opaque, durable
// name generator bound to a shoulder. Minted draws are durable on the
// minter side; this adapter never retries a draw.
package minter

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
)

// Minter hands out one opaque name per call under a preconfigured
// prefix namespace.
type Minter interface {
	// Mint obtains one fresh scheme-less name, e.g. "13030/fk45717n0h".
	Mint(ctx context.Context) (string, error)

	// Available reports whether a minter is configured for the
	// namespace at all.
	Available() bool
}

// Noid is a minter backed by a noid server.
type Noid struct {
	// Server is the minter URL. Empty means no minter is configured
	// for the namespace.
	Server string

	auth   string
	client *http.Client
}

// NewNoid creates a noid minter client. An empty server URL yields an
// unavailable minter.
func NewNoid(server, username, password string) *Noid {
	n := &Noid{Server: server, client: &http.Client{}}
	if username != "" {
		n.auth = "Basic " + base64.StdEncoding.EncodeToString(
			[]byte(username+":"+password))
	}
	return n
}

// Available reports whether the minter has a server configured.
func (n *Noid) Available() bool { return n.Server != "" }

// Mint draws one name from the minter. The response is the noid
// command output; the minted name follows "id:" on its own line.
func (n *Noid) Mint(ctx context.Context) (string, error) {
	if !n.Available() {
		return "", fmt.Errorf("no minter for namespace")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		n.Server+"?mint%201", nil)
	if err != nil {
		return "", err
	}
	if n.auth != "" {
		req.Header.Set("Authorization", n.auth)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, "id:") {
			id := strings.TrimSpace(line[3:])
			if id == "" {
				break
			}
			return id, nil
		}
	}
	if err := sc.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("unexpected return from minter")
}

var _ Minter = (*Noid)(nil)

// Func adapts a function to the Minter interface; used by tests and
// by the local UUID generator.
type Func func(ctx context.Context) (string, error)

// Mint calls the function.
func (f Func) Mint(ctx context.Context) (string, error) { return f(ctx) }

// Available always reports true.
func (f Func) Available() bool { return true }
