package types

// Proof carries the proof-of-work target and the nonce that the Proof
// Engine is searching for (spec §3, §6). A proof is satisfied when the
// digest produced from the block body and Nonce, interpreted as a
// big-endian integer, is numerically less than or equal to Target.
type Proof struct {
	Target Digest
	Nonce  uint64
}

// Satisfies reports whether candidate meets the proof's target threshold.
// Lower digest values (as big-endian integers) are harder to find, which
// is the conventional proof-of-work ordering.
func (p Proof) Satisfies(candidate Digest) bool {
	for i := range candidate {
		if candidate[i] < p.Target[i] {
			return true
		}
		if candidate[i] > p.Target[i] {
			return false
		}
	}
	return true
}
