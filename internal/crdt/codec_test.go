package crdt

import (
	"bytes"
	"errors"
	"testing"
)

func TestEncodeIsCanonicalAcrossMergeOrder(t *testing.T) {
	origin := NewState()
	first := origin.AppendText("alice", "ab")
	second := origin.AppendText("bob", "cd")

	forward := NewState()
	mustMerge(t, forward, first)
	mustMerge(t, forward, second)

	backward := NewState()
	mustMerge(t, backward, second)
	mustMerge(t, backward, first)

	if !bytes.Equal(forward.Encode(), backward.Encode()) {
		t.Fatalf("encoding depends on merge order")
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	original := NewState()
	original.AppendText("alice", "Hello, world")
	original.DeleteRange(5, 2)

	decoded, err := Decode(original.Encode())
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if got := decoded.PlainText(); got != original.PlainText() {
		t.Fatalf("round trip changed text: %q vs %q", got, original.PlainText())
	}
	if !bytes.Equal(decoded.Encode(), original.Encode()) {
		t.Fatalf("round trip changed encoding")
	}
}

func TestDecodeRejectsCorruptBytes(t *testing.T) {
	cases := map[string][]byte{
		"empty":          nil,
		"bad magic":      []byte("NOPE"),
		"truncated":      append([]byte("DHS1"), 0x05),
		"trailing bytes": append(NewState().Encode(), 0x00),
	}
	for name, encoded := range cases {
		if _, err := Decode(encoded); !errors.Is(err, ErrCorruptState) {
			t.Fatalf("%s: expected ErrCorruptState, got %v", name, err)
		}
	}
}

func TestMergeRejectsInvalidUpdate(t *testing.T) {
	state := NewState()
	valid := state.Clone().AppendText("alice", "x")

	cases := map[string][]byte{
		"empty":          nil,
		"bad magic":      []byte("NOPE"),
		"state as delta": NewState().Encode(),
		"trailing bytes": append(append([]byte(nil), valid...), 0x00),
	}
	for name, update := range cases {
		if _, err := state.Merge(update); !errors.Is(err, ErrInvalidUpdate) {
			t.Fatalf("%s: expected ErrInvalidUpdate, got %v", name, err)
		}
	}
	if got := state.PlainText(); got != "" {
		t.Fatalf("rejected updates mutated state: %q", got)
	}
}

func TestMergeRejectsOverstatedOpCount(t *testing.T) {
	// A tiny payload declaring an enormous op count must fail cleanly rather
	// than size an allocation from the untrusted header.
	var buf bytes.Buffer
	buf.Write(updateMagic)
	writeUvarint(&buf, 1<<62)

	state := NewState()
	if _, err := state.Merge(buf.Bytes()); !errors.Is(err, ErrInvalidUpdate) {
		t.Fatalf("expected ErrInvalidUpdate, got %v", err)
	}
}

func mustMerge(t *testing.T, state *State, update []byte) {
	t.Helper()
	if _, err := state.Merge(update); err != nil {
		t.Fatalf("merge failed: %v", err)
	}
}
