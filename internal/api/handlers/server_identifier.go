package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MintIdentifier handles POST /shoulder/<prefix>. The body may carry
// metadata elements to set on the new identifier; _target becomes the
// target URL.
func (s *Server) MintIdentifier(c *gin.Context) {
	prefix := pathParam(c, "prefix")
	user, group := s.requestAgents(c)
	md, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	target := md["_target"]
	delete(md, "_target")

	payload, err := s.coord.MintIdentifier(c.Request.Context(), prefix,
		user, group, target)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(md) > 0 {
		qid := payload
		if i := strings.Index(qid, " | "); i >= 0 {
			qid = qid[:i]
		}
		if _, err := s.coord.SetMetadata(c.Request.Context(), qid,
			user, group, md, true); err != nil {
			writeError(c, err)
			return
		}
	}
	c.String(http.StatusCreated, "success: "+payload)
}

// CreateIdentifier handles PUT /id/<identifier>.
func (s *Server) CreateIdentifier(c *gin.Context) {
	qid := pathParam(c, "identifier")
	user, group := s.requestAgents(c)
	md, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}
	target := md["_target"]
	delete(md, "_target")

	payload, err := s.coord.CreateIdentifier(c.Request.Context(), qid,
		user, group, target)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(md) > 0 {
		created := payload
		if i := strings.Index(created, " | "); i >= 0 {
			created = created[:i]
		}
		if _, err := s.coord.SetMetadata(c.Request.Context(), created,
			user, group, md, true); err != nil {
			writeError(c, err)
			return
		}
	}
	c.String(http.StatusCreated, "success: "+payload)
}

// GetMetadata handles GET /id/<identifier>. The response is the
// success line followed by the metadata lines.
func (s *Server) GetMetadata(c *gin.Context) {
	qid := pathParam(c, "identifier")
	user, _ := s.requestAgents(c)

	nq, md, err := s.coord.GetMetadata(c.Request.Context(), qid, user)
	if err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "success: "+nq+"\n"+formatMetadataBody(md))
}

// SetMetadata handles POST /id/<identifier>.
func (s *Server) SetMetadata(c *gin.Context) {
	qid := pathParam(c, "identifier")
	user, group := s.requestAgents(c)
	md, err := readBody(c)
	if err != nil {
		writeError(c, err)
		return
	}

	nq, err := s.coord.SetMetadata(c.Request.Context(), qid, user, group, md, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.String(http.StatusOK, "success: "+nq)
}
