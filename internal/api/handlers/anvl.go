package handlers

import (
	"sort"
	"strings"

	apperrors "mintbind.io/mintbind/internal/pkg/errors"
)

// Request and response bodies carry metadata as name/value lines,
// "name: value", one element per line. Continuation lines start with
// whitespace and extend the previous value. Blank lines and lines
// starting with '#' are ignored on input.

// parseMetadataBody parses a metadata request body. A line binding a
// value to an empty name is an error.
func parseMetadataBody(body string) (map[string]string, error) {
	md := make(map[string]string)
	var last string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimRight(line, "\r")
		if line == "" || strings.HasPrefix(line, "#") {
			last = ""
			continue
		}
		if last != "" && (line[0] == ' ' || line[0] == '\t') {
			md[last] += "\n" + strings.TrimSpace(line)
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		if name == "" {
			return nil, apperrors.BadRequest(apperrors.CodeEmptyElement,
				"empty element name")
		}
		md[name] = strings.TrimSpace(line[colon+1:])
		last = name
	}
	return md, nil
}

// formatMetadataBody renders metadata as sorted name/value lines, with
// embedded newlines in values turned into continuation lines.
func formatMetadataBody(md map[string]string) string {
	names := make([]string, 0, len(md))
	for n := range md {
		names = append(names, n)
	}
	sort.Strings(names)
	var b strings.Builder
	for _, n := range names {
		b.WriteString(n)
		b.WriteString(": ")
		b.WriteString(strings.ReplaceAll(md[n], "\n", "\n  "))
		b.WriteString("\n")
	}
	return b.String()
}
