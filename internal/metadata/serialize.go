package metadata

import (
	"bytes"
	"fmt"
	"strings"
)

// Serialize renders the tree back to LVM2 text metadata syntax. It
// exists for the round-trip property in spec §8 ("parse -> serialize ->
// parse yields an equivalent tree") and for debug dumps; it is not a
// byte-exact reproduction of arbitrary source formatting (comments and
// original indentation are not preserved, since the parser discards
// both), only of key order and value content.
func (t *Tree) Serialize() []byte {
	var b bytes.Buffer
	serializeEntries(&b, t.Root().Child(), 0)
	return b.Bytes()
}

func serializeEntries(b *bytes.Buffer, n Ref, indent int) {
	pad := strings.Repeat("\t", indent)
	for n.Valid() {
		switch n.Type() {
		case NodeChild:
			fmt.Fprintf(b, "%s%s {\n", pad, n.Key())
			serializeEntries(b, n.Child(), indent+1)
			fmt.Fprintf(b, "%s}\n", pad)
		case NodeInteger:
			fmt.Fprintf(b, "%s%s = %d\n", pad, n.Key(), n.Integer())
		case NodeString:
			fmt.Fprintf(b, "%s%s = \"%s\"\n", pad, n.Key(), n.String())
		case NodeList:
			fmt.Fprintf(b, "%s%s = [", pad, n.Key())
			serializeList(b, n.List())
			b.WriteString("]\n")
		}
		n = n.Next()
	}
}

func serializeList(b *bytes.Buffer, n Ref) {
	first := true
	for n.Valid() {
		if !first {
			b.WriteString(", ")
		}
		first = false
		if n.Type() == NodeInteger {
			fmt.Fprintf(b, "%d", n.Integer())
		} else {
			fmt.Fprintf(b, "\"%s\"", n.String())
		}
		n = n.Next()
	}
}
