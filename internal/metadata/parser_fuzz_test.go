package metadata

import "testing"

func FuzzParse(f *testing.F) {
	f.Add([]byte(sampleMetadata))
	f.Add([]byte("vg1 {\n}\n"))
	f.Add([]byte("vg1 { a = [ 1, \"x\" ] }"))
	f.Add([]byte("# comment only\n"))
	f.Add([]byte("vg1 { a = \"unterminated"))
	f.Add([]byte("vg1 { = 1 }"))
	f.Add([]byte(""))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) > 1<<20 {
			return
		}
		// Parse must never panic on arbitrary input; a malformed
		// document is reported as an error, not a crash.
		_, _ = Parse(data)
	})
}
