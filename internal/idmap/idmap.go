// Package idmap is the identity directory interface: mapping between
// agent persistent identifiers and local names. The directory itself
// (LDAP in production) is an external collaborator.
package idmap

import (
	"fmt"
	"strings"
)

// AgentKind distinguishes user and group agents.
type AgentKind string

const (
	KindUser  AgentKind = "user"
	KindGroup AgentKind = "group"
)

// Directory resolves agent PIDs and local names.
type Directory interface {
	// GetAgent resolves an agent PID (itself an ARK) to its local
	// name and kind.
	GetAgent(pid string) (name string, kind AgentKind, err error)

	// GetUserID resolves a local user name to its agent PID. Fails
	// with an "unknown user" error for unregistered names.
	GetUserID(name string) (pid string, err error)
}

// ErrUnknownUser is matched by substring, as the directory's callers
// distinguish unknown users from directory outages by message.
const unknownUserMsg = "unknown user"

// IsUnknownUser reports whether err indicates an unregistered local
// name rather than a directory failure.
func IsUnknownUser(err error) bool {
	return err != nil && strings.Contains(err.Error(), unknownUserMsg)
}

// Static is a fixed directory used by tests and single-tenant
// deployments configured entirely from file.
type Static struct {
	// ByPID maps agent PID to (local name, kind).
	ByPID map[string]StaticAgent
	// ByName maps local user name to agent PID.
	ByName map[string]string
}

// StaticAgent is one directory entry.
type StaticAgent struct {
	Name string
	Kind AgentKind
}

// GetAgent resolves a PID. Unknown PIDs resolve to themselves as user
// agents so that read paths degrade rather than fail.
func (s Static) GetAgent(pid string) (string, AgentKind, error) {
	if a, ok := s.ByPID[pid]; ok {
		return a.Name, a.Kind, nil
	}
	return pid, KindUser, nil
}

// GetUserID resolves a local name to a PID.
func (s Static) GetUserID(name string) (string, error) {
	if pid, ok := s.ByName[name]; ok {
		return pid, nil
	}
	return "", fmt.Errorf("%s: %s", unknownUserMsg, name)
}

var _ Directory = Static{}
