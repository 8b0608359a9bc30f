// Prefix tree for route matching — adapted from the teacher's
// server/router/trie.go, which matched directly against a View into a
// Session's buffer. Routing/authorization policy is out of scope for the
// core per spec.md §1, so this package only exists to give the example
// dispatcher (server/dispatch) something to route through in tests and the
// demo binary; it now matches against a plain path string instead of a
// buffer view since it no longer needs to stay compaction-safe.
package router

import "strings"

type node struct {
	prefix  string
	ch      []node
	handler Handler
	isparam bool
}

func newRoot() node {
	return node{ch: make([]node, 0)}
}

func (n *node) insert(path string, h Handler) {
	path = strings.TrimPrefix(path, "/")
	cur := n
	for _, s := range strings.Split(path, "/") {
		if s == "" {
			continue
		}
		isparam := s[0] == ':'
		pref := s
		if isparam {
			pref = s[1:]
		}

		idx := -1
		for i := range cur.ch {
			if cur.ch[i].prefix == pref {
				idx = i
				break
			}
		}
		if idx == -1 {
			cur.ch = append(cur.ch, node{prefix: pref, isparam: isparam, ch: make([]node, 0)})
			idx = len(cur.ch) - 1
		}
		cur = &cur.ch[idx]
	}
	cur.handler = h
}

func (n *node) match(path string) (Handler, map[string]string) {
	params := make(map[string]string)
	h := n.find(strings.TrimPrefix(path, "/"), params)
	if h == nil {
		return nil, nil
	}
	return h, params
}

func (n *node) find(fp string, params map[string]string) Handler {
	if fp == "" {
		return n.handler
	}

	for i := range n.ch {
		c := &n.ch[i]
		if c.isparam || !strings.HasPrefix(fp, c.prefix) {
			continue
		}
		rem := fp[len(c.prefix):]
		if rem == "" || rem[0] == '/' {
			if h := c.find(strings.TrimPrefix(rem, "/"), params); h != nil {
				return h
			}
		}
	}

	for i := range n.ch {
		c := &n.ch[i]
		if !c.isparam {
			continue
		}
		end := strings.IndexByte(fp, '/')
		var seg, rem string
		if end == -1 {
			seg, rem = fp, ""
		} else {
			seg, rem = fp[:end], fp[end+1:]
		}
		params[c.prefix] = seg
		if h := c.find(rem, params); h != nil {
			return h
		}
		delete(params, c.prefix)
	}

	return nil
}
