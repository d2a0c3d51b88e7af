// Package crossref implements the Crossref-style DOI registration
// pipeline: deposit validation and envelope construction, the
// submission wire client, the durable registration queue, and the
// daemon that drives queued intents through submit and poll.
package crossref

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xsiNS is the XML Schema instance namespace, used for the
// schemaLocation attribute.
const xsiNS = "http://www.w3.org/2001/XMLSchema-instance"

// attr is a namespace-resolved attribute.
type attr struct {
	Space, Local, Value string
}

// element is a mutable XML element. Text is the character data before
// the first child; Tail is the character data following the element's
// end tag within its parent. This split keeps mixed content (inline
// face markup inside titles, for instance) intact across a rewrite.
type element struct {
	Space, Local string
	Attrs        []attr
	Text         string
	Tail         string
	Children     []*element
}

// parseXML parses a document into an element tree. The decoder honors
// the document's declared encoding for the common ASCII-compatible
// charsets.
func parseXML(r io.Reader) (*element, error) {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = func(charset string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(charset) {
		case "utf-8", "us-ascii", "ascii":
			return input, nil
		default:
			return nil, fmt.Errorf("unsupported charset %q", charset)
		}
	}
	var root *element
	var stack []*element
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			e := &element{Space: t.Name.Space, Local: t.Name.Local}
			for _, a := range t.Attr {
				// Namespace declarations are re-derived at
				// serialization time.
				if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
					continue
				}
				e.Attrs = append(e.Attrs, attr{
					Space: a.Name.Space, Local: a.Name.Local, Value: a.Value})
			}
			if len(stack) == 0 {
				if root != nil {
					return nil, fmt.Errorf("multiple root elements")
				}
				root = e
			} else {
				p := stack[len(stack)-1]
				p.Children = append(p.Children, e)
			}
			stack = append(stack, e)
		case xml.EndElement:
			if len(stack) == 0 {
				return nil, fmt.Errorf("unbalanced end element")
			}
			stack = stack[:len(stack)-1]
		case xml.CharData:
			s := string(t)
			if len(stack) == 0 {
				if strings.TrimSpace(s) != "" {
					return nil, fmt.Errorf("character data outside root element")
				}
				continue
			}
			e := stack[len(stack)-1]
			if len(e.Children) == 0 {
				e.Text += s
			} else {
				last := e.Children[len(e.Children)-1]
				last.Tail += s
			}
		}
		// Comments, directives, and processing instructions are
		// dropped.
	}
	if root == nil {
		return nil, fmt.Errorf("no root element")
	}
	if len(stack) != 0 {
		return nil, fmt.Errorf("unclosed element")
	}
	return root, nil
}

func parseXMLString(s string) (*element, error) {
	return parseXML(strings.NewReader(s))
}

// child returns the first direct child with the given local name.
func (e *element) child(local string) *element {
	for _, c := range e.Children {
		if c.Local == local {
			return c
		}
	}
	return nil
}

// childrenNamed returns all direct children with the given local name.
func (e *element) childrenNamed(local string) []*element {
	var out []*element
	for _, c := range e.Children {
		if c.Local == local {
			out = append(out, c)
		}
	}
	return out
}

// findAll returns all descendants (not including e itself) with the
// given local name, in document order.
func (e *element) findAll(local string) []*element {
	var out []*element
	for _, c := range e.Children {
		if c.Local == local {
			out = append(out, c)
		}
		out = append(out, c.findAll(local)...)
	}
	return out
}

// removeChildren removes all direct children with the given local
// name, merging their tail text so surrounding content is preserved.
func (e *element) removeChildren(local string) {
	kept := e.Children[:0]
	for i, c := range e.Children {
		if c.Local != local {
			kept = append(kept, c)
			continue
		}
		if c.Tail != "" {
			if i > 0 && len(kept) > 0 {
				kept[len(kept)-1].Tail += c.Tail
			} else {
				e.Text += c.Tail
			}
		}
	}
	e.Children = kept
}

// setAttr sets a namespaced attribute, replacing any existing value.
func (e *element) setAttr(space, local, value string) {
	for i := range e.Attrs {
		if e.Attrs[i].Space == space && e.Attrs[i].Local == local {
			e.Attrs[i].Value = value
			return
		}
	}
	e.Attrs = append(e.Attrs, attr{Space: space, Local: local, Value: value})
}

// removeAttr removes a namespaced attribute if present.
func (e *element) removeAttr(space, local string) {
	for i := range e.Attrs {
		if e.Attrs[i].Space == space && e.Attrs[i].Local == local {
			e.Attrs = append(e.Attrs[:i], e.Attrs[i+1:]...)
			return
		}
	}
}

// attrValue returns a non-namespaced attribute value.
func (e *element) attrValue(local string) (string, bool) {
	for _, a := range e.Attrs {
		if a.Space == "" && a.Local == local {
			return a.Value, true
		}
	}
	return "", false
}

// hasXsiAttr reports whether any element in the tree carries an
// attribute in the XML Schema instance namespace.
func (e *element) hasXsiAttr() bool {
	for _, a := range e.Attrs {
		if a.Space == xsiNS {
			return true
		}
	}
	for _, c := range e.Children {
		if c.hasXsiAttr() {
			return true
		}
	}
	return false
}

func escapeText(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		default:
			b.WriteRune(r)
		}
	}
}

func escapeAttr(b *strings.Builder, s string) {
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '"':
			b.WriteString("&quot;")
		default:
			b.WriteRune(r)
		}
	}
}

// serialize renders the tree without an XML declaration. The root's
// namespace becomes the default namespace of the whole document; this
// suffices for Crossref deposits, which live in one schema namespace.
// Attributes in the XML Schema instance namespace use the xsi prefix,
// declared on the root when needed.
func (e *element) serialize() string {
	var b strings.Builder
	e.write(&b, true)
	return b.String()
}

func (e *element) write(b *strings.Builder, root bool) {
	b.WriteByte('<')
	b.WriteString(e.Local)
	if root {
		if e.Space != "" {
			b.WriteString(` xmlns="`)
			escapeAttr(b, e.Space)
			b.WriteByte('"')
		}
		if e.hasXsiAttr() {
			b.WriteString(` xmlns:xsi="` + xsiNS + `"`)
		}
	}
	for _, a := range e.Attrs {
		b.WriteByte(' ')
		if a.Space == xsiNS {
			b.WriteString("xsi:")
		}
		b.WriteString(a.Local)
		b.WriteString(`="`)
		escapeAttr(b, a.Value)
		b.WriteByte('"')
	}
	if e.Text == "" && len(e.Children) == 0 {
		b.WriteString("/>")
	} else {
		b.WriteByte('>')
		escapeText(b, e.Text)
		for _, c := range e.Children {
			c.write(b, false)
			escapeText(b, c.Tail)
		}
		b.WriteString("</")
		b.WriteString(e.Local)
		b.WriteByte('>')
	}
}
