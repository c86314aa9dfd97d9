package state

import (
	"bytes"
	"log"
)

// StringRef is the offset of an interned string inside a BigString.
// Offset 0 is reserved (the buffer starts with a zero byte), so the zero
// value encodes "absent" and an optional reference costs nothing extra.
type StringRef uint32

// BigString is an append-only interning arena: a byte buffer holding a
// sequence of substrings separated by zero bytes.
//
//	["aa", "bb"]  ==  \x00 aa \x00 bb \x00
//
// Strings are addressed by the byte offset at which they start. The
// arena owns the bytes; sessions store only StringRefs, which keeps the
// marginal size of a session small and makes the whole arena trivially
// serializable.
type BigString struct {
	debugName string
	content   []byte
}

// NewBigString returns an arena containing only the reserved leading
// zero byte.
func NewBigString() *BigString {
	return &BigString{content: []byte{0}}
}

// SetDebugName sets the name used in compaction log lines.
func (b *BigString) SetDebugName(name string) { b.debugName = name }

// Len returns the current size of the underlying buffer in bytes.
func (b *BigString) Len() int { return len(b.content) }

// Add interns s and returns its reference. Embedded zero bytes would
// corrupt the delimiter scheme; they are replaced with \x01 with a
// warning.
func (b *BigString) Add(s string) StringRef {
	if bytes.IndexByte([]byte(s), 0) >= 0 {
		log.Printf("[big_string] [warn] found \\x00 in interned string")
		s = string(bytes.ReplaceAll([]byte(s), []byte{0}, []byte{1}))
	}
	return b.AddBytes([]byte(s))
}

// AddBytes interns raw bytes. The caller guarantees p contains no zero
// byte.
func (b *BigString) AddBytes(p []byte) StringRef {
	ref := StringRef(len(b.content))
	b.content = append(b.content, p...)
	b.content = append(b.content, 0)
	return ref
}

// Get returns the bytes of the string at ref. The returned slice aliases
// the arena buffer and is only valid until the next Compress.
func (b *BigString) Get(ref StringRef) []byte {
	begin := int(ref)
	length := bytes.IndexByte(b.content[begin:], 0)
	return b.content[begin : begin+length]
}

// GetString returns the string at ref as an owned string.
func (b *BigString) GetString(ref StringRef) string {
	return string(b.Get(ref))
}

// Compress rewrites the buffer in place, deduplicating identical
// substrings, and returns the old→new reference map. Every StringRef
// held outside the arena must be remapped through the result.
func (b *BigString) Compress() map[StringRef]StringRef {
	newRefByPart := make(map[string]int)
	newRefByOldRef := make(map[StringRef]StringRef)

	type move struct{ newBegin, oldBegin, length int }
	var moves []move

	nextRef := 1
	partBegin := 1
	for partBegin != len(b.content) {
		partEnd := partBegin + bytes.IndexByte(b.content[partBegin:], 0)
		part := b.content[partBegin:partEnd]

		newRef, seen := newRefByPart[string(part)]
		if !seen {
			newRef = nextRef
			nextRef += len(part) + 1
			newRefByPart[string(part)] = newRef
		}
		newRefByOldRef[StringRef(partBegin)] = StringRef(newRef)
		moves = append(moves, move{newRef, partBegin, len(part)})

		partBegin = partEnd + 1
	}

	// Every move copies leftward (newBegin <= oldBegin), so in-place
	// copying in discovery order never clobbers unread source bytes.
	for _, m := range moves {
		copy(b.content[m.newBegin:m.newBegin+m.length], b.content[m.oldBegin:m.oldBegin+m.length])
		b.content[m.newBegin-1] = 0
		b.content[m.newBegin+m.length] = 0
	}
	log.Printf("[big_string] %-20s: %d → %d", b.debugName, len(b.content), nextRef)
	b.content = b.content[:nextRef]

	return newRefByOldRef
}
