package claim

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the truncated keccak256 length used in the claim tree.
const HashSize = 20

const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Hash is a node of the claim merkle tree.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// ParseHash decodes a hex encoded tree hash, with or without 0x prefix.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) >= 2 && s[:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("decode hash: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("hash must be %d bytes, got %d", HashSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// Proof is a merkle inclusion proof: sibling hashes from leaf to root.
type Proof []Hash

// ErrProofMismatch is returned when a proof does not lead to the expected root.
var ErrProofMismatch = errors.New("proof of inclusion does not match merkle root")

func keccak(prefix byte, parts ...[]byte) Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte{prefix})
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// LeafHash hashes a serialized ClaimInfo into a tree leaf.
func LeafHash(info ClaimInfo) (Hash, error) {
	data, err := info.Serialize()
	if err != nil {
		return Hash{}, err
	}
	return keccak(leafPrefix, data), nil
}

// NodeHash combines two children. Children are ordered bytewise so proofs
// carry no direction bits.
func NodeHash(a, b Hash) Hash {
	if bytes.Compare(a[:], b[:]) > 0 {
		a, b = b, a
	}
	return keccak(nodePrefix, a[:], b[:])
}

// RootFromProof folds a proof over a leaf.
func RootFromProof(leaf Hash, proof Proof) Hash {
	cur := leaf
	for _, sibling := range proof {
		cur = NodeHash(cur, sibling)
	}
	return cur
}

// VerifyProof reports whether proof places info under root.
func VerifyProof(root Hash, info ClaimInfo, proof Proof) bool {
	leaf, err := LeafHash(info)
	if err != nil {
		return false
	}
	return RootFromProof(leaf, proof) == root
}

// Tree is an in-memory claim tree. An unpaired node at the end of a level is
// promoted to the next level unchanged.
type Tree struct {
	levels [][]Hash
}

// NewTree builds a tree over the given claims, in order.
func NewTree(infos []ClaimInfo) (*Tree, error) {
	if len(infos) == 0 {
		return nil, errors.New("cannot build tree without leaves")
	}
	leaves := make([]Hash, len(infos))
	for i, info := range infos {
		leaf, err := LeafHash(info)
		if err != nil {
			return nil, fmt.Errorf("leaf %d: %w", i, err)
		}
		leaves[i] = leaf
	}

	levels := [][]Hash{leaves}
	for cur := leaves; len(cur) > 1; {
		next := make([]Hash, 0, (len(cur)+1)/2)
		for i := 0; i < len(cur); i += 2 {
			if i+1 == len(cur) {
				next = append(next, cur[i])
				continue
			}
			next = append(next, NodeHash(cur[i], cur[i+1]))
		}
		levels = append(levels, next)
		cur = next
	}
	return &Tree{levels: levels}, nil
}

// Root returns the tree root.
func (t *Tree) Root() Hash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// Proof returns the inclusion proof of the i-th leaf.
func (t *Tree) Proof(i int) (Proof, error) {
	if i < 0 || i >= len(t.levels[0]) {
		return nil, fmt.Errorf("leaf index %d out of range", i)
	}
	var proof Proof
	for _, level := range t.levels[:len(t.levels)-1] {
		sibling := i ^ 1
		if sibling < len(level) {
			proof = append(proof, level[sibling])
		}
		i /= 2
	}
	return proof, nil
}
