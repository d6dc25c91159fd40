package trace

import "crypto/sha256"

const (
	segmentDomain = "zkbench:trace:segment:v1\x00"
	leafDomain    = "zkbench:trace:leaf:v1\x00"
	nodeDomain    = "zkbench:trace:node:v1\x00"
	emptyDomain   = "zkbench:trace:empty:v1"
)

// merkleRoot folds segment digests into a binary tree, leaves first. An odd
// node at the end of a level is paired with itself.
func merkleRoot(segments []Digest) Digest {
	if len(segments) == 0 {
		return sha256.Sum256([]byte(emptyDomain))
	}
	level := make([]Digest, len(segments))
	for i, s := range segments {
		level[i] = leafHash(s)
	}
	for len(level) > 1 {
		next := make([]Digest, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			right := level[i]
			if i+1 < len(level) {
				right = level[i+1]
			}
			next[i/2] = nodeHash(level[i], right)
		}
		level = next
	}
	return level[0]
}

func leafHash(segment Digest) Digest {
	buf := make([]byte, 0, len(leafDomain)+len(segment))
	buf = append(buf, leafDomain...)
	buf = append(buf, segment[:]...)
	return sha256.Sum256(buf)
}

func nodeHash(left, right Digest) Digest {
	buf := make([]byte, 0, len(nodeDomain)+2*len(left))
	buf = append(buf, nodeDomain...)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}
