package ledger

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

const genesisSeed = "escrowflow/ledger/genesis/v1"

// GenesisHash is the fixed prior hash for the first entry of every stream.
func GenesisHash() string {
	sum := sha3.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(sum[:])
}

// CanonicalEncode produces a deterministic byte encoding of the payload:
// JSON with lexicographically ordered keys, timestamps in RFC3339Nano UTC.
// Two payloads with equal content always encode to identical bytes.
func CanonicalEncode(p Payload) ([]byte, error) {
	meta := p.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	// encoding/json writes map keys in sorted order, which gives us the
	// canonical form without a bespoke encoder.
	doc := map[string]any{
		"event":      p.Event,
		"actor":      p.Actor,
		"from_state": p.FromState,
		"to_state":   p.ToState,
		"at":         p.At.UTC().Format(time.RFC3339Nano),
		"metadata":   meta,
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("ledger: canonical encode: %w", err)
	}
	return b, nil
}

// ComputeHash chains the canonical payload bytes onto the previous entry
// hash: SHA3-256(prev ‖ payload), hex encoded.
func ComputeHash(prevHash string, payload []byte) (string, error) {
	prev, err := hex.DecodeString(prevHash)
	if err != nil {
		return "", fmt.Errorf("ledger: decode prev hash: %w", err)
	}
	h := sha3.New256()
	h.Write(prev)
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashEntry(prevHash string, p Payload) (string, error) {
	b, err := CanonicalEncode(p)
	if err != nil {
		return "", err
	}
	return ComputeHash(prevHash, b)
}
