// File: internal/extract/htmlquery.go
// Description: A deliberately small CSS-subset matcher over x/net/html parse
// trees. The per-site catalogs only ever use tag, class, id and attribute
// selectors with descendant combinators, so a full selector engine would be
// dead weight here.
package extract

import (
	"strings"

	"golang.org/x/net/html"
)

type simpleSelector struct {
	tag        string
	id         string
	classes    []string
	attrName   string
	attrOp     string // "", "=", "*="
	attrValue  string
	hasAttrSel bool
}

// compileSelector parses a descendant chain like "span.a-price span.a-offscreen".
func compileSelector(query string) []simpleSelector {
	parts := strings.Fields(query)
	out := make([]simpleSelector, 0, len(parts))
	for _, part := range parts {
		out = append(out, compileSimple(part))
	}
	return out
}

func compileSimple(part string) simpleSelector {
	var sel simpleSelector

	// Attribute block, if any, sits at the end: tag[attr*='val'].
	if open := strings.IndexByte(part, '['); open >= 0 {
		attr := strings.TrimSuffix(part[open+1:], "]")
		sel.hasAttrSel = true
		for _, op := range []string{"*=", "^=", "$=", "="} {
			if idx := strings.Index(attr, op); idx >= 0 {
				sel.attrName = attr[:idx]
				sel.attrOp = op
				sel.attrValue = strings.Trim(attr[idx+len(op):], `'"`)
				break
			}
		}
		if sel.attrName == "" {
			sel.attrName = attr
		}
		part = part[:open]
	}

	for part != "" {
		switch {
		case strings.HasPrefix(part, "."):
			rest := part[1:]
			end := strings.IndexAny(rest, ".#")
			if end < 0 {
				end = len(rest)
			}
			sel.classes = append(sel.classes, rest[:end])
			part = rest[end:]
		case strings.HasPrefix(part, "#"):
			rest := part[1:]
			end := strings.IndexAny(rest, ".#")
			if end < 0 {
				end = len(rest)
			}
			sel.id = rest[:end]
			part = rest[end:]
		default:
			end := strings.IndexAny(part, ".#")
			if end < 0 {
				end = len(part)
			}
			sel.tag = strings.ToLower(part[:end])
			part = part[end:]
		}
	}
	return sel
}

func (s simpleSelector) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if s.tag != "" && s.tag != "*" && n.Data != s.tag {
		return false
	}
	if s.id != "" && attrValue(n, "id") != s.id {
		return false
	}
	if len(s.classes) > 0 {
		classes := strings.Fields(attrValue(n, "class"))
		for _, want := range s.classes {
			found := false
			for _, have := range classes {
				if have == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	if s.hasAttrSel {
		val, ok := lookupAttr(n, s.attrName)
		if !ok {
			return false
		}
		switch s.attrOp {
		case "=":
			return val == s.attrValue
		case "*=":
			return strings.Contains(val, s.attrValue)
		case "^=":
			return strings.HasPrefix(val, s.attrValue)
		case "$=":
			return strings.HasSuffix(val, s.attrValue)
		}
	}
	return true
}

// selectFirst walks the tree depth-first and returns the first node matching
// the full descendant chain.
func selectFirst(root *html.Node, query string) *html.Node {
	chain := compileSelector(query)
	if len(chain) == 0 {
		return nil
	}
	return findMatch(root, chain)
}

func findMatch(n *html.Node, chain []simpleSelector) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if chain[0].matches(c) {
			if len(chain) == 1 {
				return c
			}
			if m := findMatch(c, chain[1:]); m != nil {
				return m
			}
		}
		if m := findMatch(c, chain); m != nil {
			return m
		}
	}
	return nil
}

func attrValue(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// textContent flattens all text under a node, whitespace-normalized.
func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.TextNode {
			sb.WriteString(node.Data)
			sb.WriteByte(' ')
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(strings.Fields(sb.String()), " ")
}
