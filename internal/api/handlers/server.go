// Package handlers implements the HTTP front for identifier
// operations. Responses use the plain-text success/error wire format;
// authentication happens upstream (a fronting proxy), so handlers
// trust the request's remote-user identity and resolve it through the
// identity directory.
package handlers

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"mintbind.io/mintbind/internal/binder"
	"mintbind.io/mintbind/internal/config"
	"mintbind.io/mintbind/internal/coordinator"
	"mintbind.io/mintbind/internal/crossref"
	"mintbind.io/mintbind/internal/datacite"
	"mintbind.io/mintbind/internal/idmap"
	"mintbind.io/mintbind/internal/infrastructure"
	apperrors "mintbind.io/mintbind/internal/pkg/errors"
	"mintbind.io/mintbind/internal/policy"
)

// Server holds handler dependencies.
type Server struct {
	coord *coordinator.Coordinator
	dir   idmap.Directory
	store binder.Store
	dc    datacite.Registrar
	mgr   *config.Manager

	// queue and db are nil when the registrar pipeline is disabled.
	queue *crossref.Queue
	db    *infrastructure.DatabaseClients

	// restartDaemon starts a fresh registration daemon generation
	// after a configuration reload; nil when the daemon is disabled.
	restartDaemon func()
}

// NewServer creates the handler set.
func NewServer(coord *coordinator.Coordinator, dir idmap.Directory,
	store binder.Store, dc datacite.Registrar, mgr *config.Manager,
	queue *crossref.Queue, db *infrastructure.DatabaseClients,
	restartDaemon func()) *Server {
	return &Server{
		coord:         coord,
		dir:           dir,
		store:         store,
		dc:            dc,
		mgr:           mgr,
		queue:         queue,
		db:            db,
		restartDaemon: restartDaemon,
	}
}

// agent resolves a local name to a policy agent through the identity
// directory. Names without a directory entry keep themselves as PID so
// anonymous and unregistered access still flows through authorization.
func (s *Server) agent(name string) policy.Agent {
	pid, err := s.dir.GetUserID(name)
	if err != nil {
		pid = name
	}
	return policy.Agent{Name: name, PID: pid}
}

// requestAgents extracts the authenticated user and group agents. The
// fronting proxy supplies X-Remote-User and X-Remote-Group; basic auth
// user names are honored for direct clients.
func (s *Server) requestAgents(c *gin.Context) (user, group policy.Agent) {
	name := c.GetHeader("X-Remote-User")
	if name == "" {
		if u, _, ok := c.Request.BasicAuth(); ok {
			name = u
		}
	}
	if name == "" {
		name = "anonymous"
	}
	groupName := c.GetHeader("X-Remote-Group")
	if groupName == "" {
		groupName = name
	}
	return s.agent(name), s.agent(groupName)
}

// writeError renders an error in the plain-text wire format.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if appErr, ok := apperrors.IsAppError(err); ok {
		status = appErr.HTTPStatus
	}
	c.String(status, apperrors.ClientString(err))
}

// readBody reads a request body as metadata lines.
func readBody(c *gin.Context) (map[string]string, error) {
	b, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return nil, err
	}
	return parseMetadataBody(string(b))
}

// pathParam returns a wildcard path parameter without its leading
// slash; identifiers and prefixes contain slashes themselves.
func pathParam(c *gin.Context, name string) string {
	p := c.Param(name)
	if len(p) > 0 && p[0] == '/' {
		p = p[1:]
	}
	return p
}
