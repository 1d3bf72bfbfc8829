package wasm

import (
	"bytes"
	"fmt"
)

// Section is a raw module section. Payload excludes the id and size prefix.
type Section struct {
	ID      byte
	Payload []byte
}

// SplitSections checks the preamble and splits a module into its sections
// without interpreting their contents.
func SplitSections(bin []byte) ([]Section, error) {
	if len(bin) < len(Preamble) || !bytes.Equal(bin[:4], Preamble[:4]) {
		return nil, fmt.Errorf("wasm: bad magic number")
	}
	if !bytes.Equal(bin[4:8], Preamble[4:8]) {
		return nil, fmt.Errorf("wasm: unsupported binary version %x", bin[4:8])
	}

	r := NewReader(bin[len(Preamble):])
	var sections []Section
	lastRank := -1
	for !r.EOF() {
		id, err := r.Byte()
		if err != nil {
			return nil, err
		}
		size, err := r.U32()
		if err != nil {
			return nil, fmt.Errorf("section %d size: %w", id, err)
		}
		payload, err := r.Bytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		if id != SectionCustom {
			rank := SectionRank(id)
			if rank < 0 {
				return nil, fmt.Errorf("wasm: unknown section id %d", id)
			}
			if rank <= lastRank {
				return nil, fmt.Errorf("wasm: section %d out of order", id)
			}
			lastRank = rank
		}
		sections = append(sections, Section{ID: id, Payload: payload})
	}
	return sections, nil
}

// AssembleSections encodes a module from sections in the given order.
func AssembleSections(sections []Section) []byte {
	size := len(Preamble)
	for _, s := range sections {
		size += 1 + 5 + len(s.Payload)
	}
	out := make([]byte, 0, size)
	out = append(out, Preamble...)
	for _, s := range sections {
		out = append(out, s.ID)
		out = AppendU32(out, uint32(len(s.Payload)))
		out = append(out, s.Payload...)
	}
	return out
}

// SectionRank returns the position of a known section id in canonical
// order, or -1 for custom and unknown ids.
func SectionRank(id byte) int {
	switch id {
	case SectionType:
		return 0
	case SectionImport:
		return 1
	case SectionFunction:
		return 2
	case SectionTable:
		return 3
	case SectionMemory:
		return 4
	case SectionTag:
		return 5
	case SectionGlobal:
		return 6
	case SectionExport:
		return 7
	case SectionStart:
		return 8
	case SectionElement:
		return 9
	case SectionDataCount:
		return 10
	case SectionCode:
		return 11
	case SectionData:
		return 12
	}
	return -1
}

// FindSection returns the index of the first section with the given id.
func FindSection(sections []Section, id byte) int {
	for i, s := range sections {
		if s.ID == id {
			return i
		}
	}
	return -1
}

// InsertSection places s at its canonical position and returns the new
// slice and the index s was inserted at. Custom sections keep their place
// relative to their neighbours.
func InsertSection(sections []Section, s Section) ([]Section, int) {
	rank := SectionRank(s.ID)
	at := len(sections)
	for i, cur := range sections {
		if r := SectionRank(cur.ID); r > rank {
			at = i
			break
		}
	}
	out := make([]Section, 0, len(sections)+1)
	out = append(out, sections[:at]...)
	out = append(out, s)
	out = append(out, sections[at:]...)
	return out, at
}

// CountVec returns the element count that opens a vector-shaped section.
func CountVec(payload []byte) (uint32, error) {
	if len(payload) == 0 {
		return 0, nil
	}
	return NewReader(payload).U32()
}

// ExtendVec appends already-encoded items to a vector-shaped section payload,
// rewriting its count.
func ExtendVec(payload []byte, n uint32, items []byte) ([]byte, error) {
	r := NewReader(payload)
	var count uint32
	if len(payload) > 0 {
		c, err := r.U32()
		if err != nil {
			return nil, err
		}
		count = c
	}
	out := make([]byte, 0, len(payload)+len(items)+5)
	out = AppendU32(out, count+n)
	out = append(out, r.Rest()...)
	return append(out, items...), nil
}
