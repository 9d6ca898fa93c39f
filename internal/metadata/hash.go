package metadata

// hashSeed is the "largish prime" stringHash.c seeds both hashString and
// hashBytes with.
const hashSeed uint64 = 199999

// hashBytes computes the djb2 string hash, seeded per spec §4.7:
// h = 199999; for each byte b: h = (h<<5) + h + b.
func hashBytes(b []byte) uint64 {
	h := hashSeed
	for _, c := range b {
		h = (h << 5) + h + uint64(c)
	}
	return h
}
