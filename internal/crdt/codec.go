package crdt

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrCorruptState indicates persisted state bytes that fail to decode.
	ErrCorruptState = errors.New("crdt: corrupt state")
	// ErrInvalidUpdate indicates an update payload that fails to decode.
	ErrInvalidUpdate = errors.New("crdt: invalid update")
)

var (
	stateMagic  = []byte("DHS1")
	updateMagic = []byte("DHU1")
)

type opKind byte

const (
	opInsert opKind = 1
	opDelete opKind = 2
)

type op struct {
	Kind    opKind
	Element element
	Target  OpID
}

func writeUvarint(buf *bytes.Buffer, value uint64) {
	var scratch [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(scratch[:], value)
	buf.Write(scratch[:n])
}

func writeString(buf *bytes.Buffer, value string) {
	writeUvarint(buf, uint64(len(value)))
	buf.WriteString(value)
}

func writeOpID(buf *bytes.Buffer, id OpID) {
	writeString(buf, id.Actor)
	writeUvarint(buf, id.Seq)
}

type reader struct {
	buf *bytes.Reader
}

func (r *reader) uvarint() (uint64, error) {
	return binary.ReadUvarint(r.buf)
}

func (r *reader) str() (string, error) {
	length, err := r.uvarint()
	if err != nil {
		return "", err
	}
	if length > uint64(r.buf.Len()) {
		return "", fmt.Errorf("string length %d exceeds remaining payload", length)
	}
	raw := make([]byte, length)
	if _, err := r.buf.Read(raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func (r *reader) opID() (OpID, error) {
	actor, err := r.str()
	if err != nil {
		return OpID{}, err
	}
	seq, err := r.uvarint()
	if err != nil {
		return OpID{}, err
	}
	return OpID{Actor: actor, Seq: seq}, nil
}

// Encode serializes the state canonically: the same logical state always
// produces the same bytes regardless of merge order.
func (s *State) Encode() []byte {
	elements := make([]element, 0, len(s.elements))
	for _, el := range s.elements {
		elements = append(elements, el)
	}
	sort.Slice(elements, func(i, j int) bool {
		return elements[i].ID.Less(elements[j].ID)
	})

	tombstones := make([]OpID, 0, len(s.tombstones))
	for id := range s.tombstones {
		tombstones = append(tombstones, id)
	}
	sort.Slice(tombstones, func(i, j int) bool {
		return tombstones[i].Less(tombstones[j])
	})

	var buf bytes.Buffer
	buf.Write(stateMagic)
	writeUvarint(&buf, uint64(len(elements)))
	for _, el := range elements {
		writeOpID(&buf, el.ID)
		writeOpID(&buf, el.Parent)
		writeUvarint(&buf, uint64(el.Rune))
	}
	writeUvarint(&buf, uint64(len(tombstones)))
	for _, id := range tombstones {
		writeOpID(&buf, id)
	}
	return buf.Bytes()
}

// Decode reconstructs a state from its encoded form. Anything that does not
// parse as state bytes fails with ErrCorruptState.
func Decode(encoded []byte) (*State, error) {
	if len(encoded) < len(stateMagic) || !bytes.Equal(encoded[:len(stateMagic)], stateMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrCorruptState)
	}
	r := &reader{buf: bytes.NewReader(encoded[len(stateMagic):])}

	state := NewState()
	elementCount, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	for range elementCount {
		id, err := r.opID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		parent, err := r.opID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		runeValue, err := r.uvarint()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		state.applyInsert(element{ID: id, Parent: parent, Rune: rune(runeValue)})
	}

	tombstoneCount, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	for range tombstoneCount {
		id, err := r.opID()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorruptState, err)
		}
		state.applyDelete(id)
	}

	if r.buf.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrCorruptState)
	}
	return state, nil
}

func encodeUpdate(ops []op) []byte {
	var buf bytes.Buffer
	buf.Write(updateMagic)
	writeUvarint(&buf, uint64(len(ops)))
	for _, o := range ops {
		buf.WriteByte(byte(o.Kind))
		switch o.Kind {
		case opInsert:
			writeOpID(&buf, o.Element.ID)
			writeOpID(&buf, o.Element.Parent)
			writeUvarint(&buf, uint64(o.Element.Rune))
		case opDelete:
			writeOpID(&buf, o.Target)
		}
	}
	return buf.Bytes()
}

func decodeUpdate(encoded []byte) ([]op, error) {
	if len(encoded) < len(updateMagic) || !bytes.Equal(encoded[:len(updateMagic)], updateMagic) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidUpdate)
	}
	r := &reader{buf: bytes.NewReader(encoded[len(updateMagic):])}

	opCount, err := r.uvarint()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
	}
	// Every op consumes at least its kind byte, so a declared count beyond the
	// remaining payload is corrupt and must never size an allocation.
	if opCount > uint64(r.buf.Len()) {
		return nil, fmt.Errorf("%w: op count %d exceeds remaining payload", ErrInvalidUpdate, opCount)
	}
	ops := make([]op, 0, opCount)
	for range opCount {
		kindByte, err := r.buf.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
		}
		switch opKind(kindByte) {
		case opInsert:
			id, err := r.opID()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
			}
			parent, err := r.opID()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
			}
			runeValue, err := r.uvarint()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
			}
			ops = append(ops, op{Kind: opInsert, Element: element{ID: id, Parent: parent, Rune: rune(runeValue)}})
		case opDelete:
			target, err := r.opID()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidUpdate, err)
			}
			ops = append(ops, op{Kind: opDelete, Target: target})
		default:
			return nil, fmt.Errorf("%w: unknown op kind %d", ErrInvalidUpdate, kindByte)
		}
	}
	if r.buf.Len() != 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidUpdate)
	}
	return ops, nil
}
