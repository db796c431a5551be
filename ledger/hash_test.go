package ledger

import (
	"testing"
	"time"
)

func TestGenesisHash(t *testing.T) {
	a, b := GenesisHash(), GenesisHash()
	if a != b {
		t.Fatalf("genesis hash not stable: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("genesis hash length = %d, want 64 hex chars", len(a))
	}
}

func TestCanonicalEncode_Deterministic(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC)
	p := Payload{
		Event:     "fund",
		Actor:     "buyer-1",
		FromState: "initiated",
		ToState:   "funded",
		At:        at,
		Metadata:  map[string]string{"b": "2", "a": "1"},
	}

	first, err := CanonicalEncode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	second, err := CanonicalEncode(p)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(first) != string(second) {
		t.Errorf("canonical encoding not deterministic:\n%s\n%s", first, second)
	}
}

func TestCanonicalEncode_NilMetadataEqualsEmpty(t *testing.T) {
	at := time.Now().UTC()
	withNil, err := CanonicalEncode(Payload{Event: "fund", At: at})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	withEmpty, err := CanonicalEncode(Payload{Event: "fund", At: at, Metadata: map[string]string{}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(withNil) != string(withEmpty) {
		t.Errorf("nil metadata should encode like empty metadata")
	}
}

func TestCanonicalEncode_TimezoneNormalized(t *testing.T) {
	utc := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	offset := utc.In(time.FixedZone("plus2", 2*60*60))

	a, err := CanonicalEncode(Payload{Event: "hold", At: utc})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b, err := CanonicalEncode(Payload{Event: "hold", At: offset})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if string(a) != string(b) {
		t.Errorf("same instant in different zones should encode identically")
	}
}

func TestComputeHash(t *testing.T) {
	payload := []byte(`{"event":"fund"}`)

	h1, err := ComputeHash(GenesisHash(), payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	h2, err := ComputeHash(GenesisHash(), payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h1 != h2 {
		t.Errorf("hash not deterministic")
	}

	h3, err := ComputeHash(h1, payload)
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h3 == h1 {
		t.Errorf("changing prev hash should change the result")
	}

	h4, err := ComputeHash(GenesisHash(), []byte(`{"event":"hold"}`))
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if h4 == h1 {
		t.Errorf("changing payload should change the result")
	}

	if _, err := ComputeHash("not-hex", payload); err == nil {
		t.Errorf("expected error for malformed prev hash")
	}
}
