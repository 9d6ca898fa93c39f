package metadata

import (
	"fmt"
	"strings"

	"github.com/pchambers/lvrecover/internal/lverr"
)

// Parse tokenises and parses an LVM2 text metadata block into a node
// tree, per the grammar in spec §4.7. The returned Tree's Root is a
// synthetic node with key "root_node" whose Child chain is the
// top-level entries (in practice, for real LVM2 metadata, a single
// volume-group-name block).
func Parse(data []byte) (*Tree, error) {
	t := &Tree{}
	rootIdx := t.newNode("root_node")
	c := newCursor(data)

	head, err := parseEntries(c, t)
	if err != nil {
		return nil, lverr.Semanticf("metadata.Parse", "%v", err)
	}

	root := &t.nodes[rootIdx]
	root.typ = NodeChild
	root.child = head
	t.root = rootIdx
	return t, nil
}

// parseEntries parses zero or more entries at one nesting level,
// returning the index of the first entry in the sibling chain (-1 if
// the level is empty). It stops at EOF or after consuming a '}' — a
// trailing '}' returns control to the caller (the nested case), and a
// stray top-level '}' with no matching '{' simply ends parsing (spec
// §4.7), since both are handled by the same return path.
func parseEntries(c *cursor, t *Tree) (int, error) {
	head := -1
	tail := -1

	for {
		c.skipWhitespaceAndComments()
		b, ok := c.peek()
		if !ok {
			return head, nil
		}
		if b == '}' {
			c.next()
			return head, nil
		}

		ident := c.readIdent()
		if ident == "" {
			// Empty identifiers are ignored (spec §4.7): discard the
			// malformed line and keep scanning for the next entry.
			c.skipToEndOfLine()
			continue
		}

		c.skipSpacesTabs()
		sep, ok := c.next()
		if !ok {
			return head, fmt.Errorf("unexpected eof after identifier %q", ident)
		}

		idx := t.newNode(ident)

		switch sep {
		case '=':
			val, err := parseValue(c, t)
			if err != nil {
				return head, fmt.Errorf("parsing value for %q: %w", ident, err)
			}
			// Take the pointer only now: parseValue may have grown t.nodes.
			n := &t.nodes[idx]
			n.typ = val.typ
			n.integer = val.integer
			n.str = val.str
			n.child = val.child
			c.skipToEndOfLine()
		case '{':
			childHead, err := parseEntries(c, t)
			if err != nil {
				return head, err
			}
			t.nodes[idx].typ = NodeChild
			t.nodes[idx].child = childHead
		default:
			return head, fmt.Errorf("expected '=' or '{' after identifier %q, got %q", ident, sep)
		}

		if head == -1 {
			head = idx
		} else {
			t.nodes[tail].next = idx
		}
		tail = idx
	}
}

// parseValue parses the value following '='. The first non-whitespace
// token after '=' decides the node type: '{' never occurs here (that
// case is handled by parseEntries directly), '[' -> list, '"' -> string,
// digit -> integer.
func parseValue(c *cursor, t *Tree) (node, error) {
	c.skipSpacesTabs()
	b, ok := c.peek()
	if !ok {
		return node{}, fmt.Errorf("unexpected eof in value")
	}
	switch {
	case b == '"':
		c.next()
		s, err := readQuotedString(c)
		if err != nil {
			return node{}, err
		}
		return node{typ: NodeString, str: s, child: -1, next: -1}, nil
	case b == '[':
		c.next()
		head, err := parseList(c, t)
		if err != nil {
			return node{}, err
		}
		return node{typ: NodeList, child: head, next: -1}, nil
	case b >= '0' && b <= '9':
		v, err := readInteger(c)
		if err != nil {
			return node{}, err
		}
		return node{typ: NodeInteger, integer: v, child: -1, next: -1}, nil
	default:
		return node{}, fmt.Errorf("unexpected value start byte %q", b)
	}
}

// parseList parses the comma-separated element list of a '[ ... ]'
// array. Elements are STRING or INTEGER; per spec §4.7 each becomes a
// child node whose key is "integer" (integer elements) or the string
// value itself (string elements). Arrays may cross lines.
func parseList(c *cursor, t *Tree) (int, error) {
	head := -1
	tail := -1

	c.skipSpacesTabsNewlines()
	if b, ok := c.peek(); ok && b == ']' {
		c.next()
		return -1, nil
	}

	for {
		c.skipSpacesTabsNewlines()
		b, ok := c.next()
		if !ok {
			return head, fmt.Errorf("unexpected eof in list")
		}

		var idx int
		switch {
		case b == '"':
			s, err := readQuotedString(c)
			if err != nil {
				return head, err
			}
			idx = t.newNode(s)
			t.nodes[idx].typ = NodeString
			t.nodes[idx].str = s
		case b >= '0' && b <= '9':
			c.unread(b)
			v, err := readInteger(c)
			if err != nil {
				return head, err
			}
			idx = t.newNode("integer")
			t.nodes[idx].typ = NodeInteger
			t.nodes[idx].integer = v
		default:
			return head, fmt.Errorf("unexpected list element start byte %q", b)
		}

		if head == -1 {
			head = idx
		} else {
			t.nodes[tail].next = idx
		}
		tail = idx

		c.skipSpacesTabsNewlines()
		sep, ok := c.next()
		if !ok {
			return head, fmt.Errorf("unexpected eof in list")
		}
		switch sep {
		case ',':
			continue
		case ']':
			return head, nil
		default:
			return head, fmt.Errorf("expected ',' or ']' in list, got %q", sep)
		}
	}
}

// readQuotedString reads bytes up to an unescaped closing '"'. Per spec
// §4.7 the parser does not unescape '\X' sequences — both bytes are
// copied verbatim — so a parse -> serialize round trip reproduces the
// original bytes exactly.
func readQuotedString(c *cursor) (string, error) {
	var b strings.Builder
	for {
		ch, ok := c.next()
		if !ok {
			return "", fmt.Errorf("unterminated string")
		}
		if ch == '"' {
			return b.String(), nil
		}
		if ch == '\\' {
			esc, ok := c.next()
			if !ok {
				return "", fmt.Errorf("unterminated escape in string")
			}
			b.WriteByte(ch)
			b.WriteByte(esc)
			continue
		}
		b.WriteByte(ch)
	}
}

// readInteger accumulates decimal digits. Non-negative only, per spec
// §4.7: no sign, no floats.
func readInteger(c *cursor) (int64, error) {
	var v int64
	digits := 0
	for {
		b, ok := c.peek()
		if !ok || b < '0' || b > '9' {
			break
		}
		c.next()
		v = v*10 + int64(b-'0')
		digits++
	}
	if digits == 0 {
		return 0, fmt.Errorf("expected integer digits")
	}
	return v, nil
}
