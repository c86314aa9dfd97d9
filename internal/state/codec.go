package state

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
)

// The checkpoint format is a bespoke deterministic layout: fixed-endian,
// length-prefixed, arena buffers verbatim, interned references verbatim.
// Encoder and Decoder are the shared primitives; each state region
// serializes itself with them so that one checkpoint file can hold the
// whole of (UpdaterState, State, DetailState) back to back.

// Encoder writes little-endian primitives with a sticky error.
type Encoder struct {
	w   *bufio.Writer
	err error
	buf [8]byte
}

// NewEncoder returns an Encoder writing to w. Call Flush at the end.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Flush flushes buffered output and returns the first error seen.
func (e *Encoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}

// Err returns the first error seen.
func (e *Encoder) Err() error { return e.err }

func (e *Encoder) write(p []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(p)
}

// U8 writes one byte.
func (e *Encoder) U8(v uint8) { e.write([]byte{v}) }

// Bool writes a bool as one byte.
func (e *Encoder) Bool(v bool) {
	if v {
		e.U8(1)
	} else {
		e.U8(0)
	}
}

// U16 writes a little-endian uint16.
func (e *Encoder) U16(v uint16) {
	binary.LittleEndian.PutUint16(e.buf[:2], v)
	e.write(e.buf[:2])
}

// U32 writes a little-endian uint32.
func (e *Encoder) U32(v uint32) {
	binary.LittleEndian.PutUint32(e.buf[:4], v)
	e.write(e.buf[:4])
}

// U64 writes a little-endian uint64.
func (e *Encoder) U64(v uint64) {
	binary.LittleEndian.PutUint64(e.buf[:8], v)
	e.write(e.buf[:8])
}

// Bytes writes a u32 length prefix followed by the raw bytes.
func (e *Encoder) Bytes(p []byte) {
	e.U32(uint32(len(p)))
	e.write(p)
}

// Raw writes bytes with no prefix (fixed-size fields).
func (e *Encoder) Raw(p []byte) { e.write(p) }

// Decoder reads what Encoder writes, with a sticky error.
type Decoder struct {
	r   *bufio.Reader
	err error
	buf [8]byte
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReader(r)}
}

// Err returns the first error seen.
func (d *Decoder) Err() error { return d.err }

func (d *Decoder) read(p []byte) {
	if d.err != nil {
		return
	}
	_, d.err = io.ReadFull(d.r, p)
}

// U8 reads one byte.
func (d *Decoder) U8() uint8 {
	d.read(d.buf[:1])
	return d.buf[0]
}

// Bool reads a bool.
func (d *Decoder) Bool() bool { return d.U8() != 0 }

// U16 reads a little-endian uint16.
func (d *Decoder) U16() uint16 {
	d.read(d.buf[:2])
	return binary.LittleEndian.Uint16(d.buf[:2])
}

// U32 reads a little-endian uint32.
func (d *Decoder) U32() uint32 {
	d.read(d.buf[:4])
	return binary.LittleEndian.Uint32(d.buf[:4])
}

// U64 reads a little-endian uint64.
func (d *Decoder) U64() uint64 {
	d.read(d.buf[:8])
	return binary.LittleEndian.Uint64(d.buf[:8])
}

// Bytes reads a u32 length prefix followed by that many bytes.
func (d *Decoder) Bytes() []byte {
	n := d.U32()
	if d.err != nil {
		return nil
	}
	p := make([]byte, n)
	d.read(p)
	return p
}

// Raw reads len(p) bytes into p.
func (d *Decoder) Raw(p []byte) { d.read(p) }

// Encode serializes the state.
func (s *State) Encode(e *Encoder) {
	games := s.Games.All()
	e.U32(uint32(len(games)))
	for i := range games {
		encodeGame(e, &games[i])
	}

	e.U32(uint32(len(s.ServerChainHeads)))
	for _, id := range s.ServerChainHeads {
		e.U32(uint32(id))
	}
	e.U32(uint32(len(s.CurrentGameIDs)))
	for _, id := range s.CurrentGameIDs {
		e.U32(uint32(id))
	}

	for _, arena := range s.arenas() {
		e.Bytes(arena.content)
	}
}

// DecodeState deserializes a state written by Encode.
func DecodeState(d *Decoder) (*State, error) {
	s := &State{}

	n := d.U32()
	s.Games = NewGamesMapWithCapacity(int(n))
	for i := uint32(0); i < n && d.err == nil; i++ {
		s.Games.Insert(decodeGame(d))
	}

	n = d.U32()
	s.ServerChainHeads = make([]GameID, n)
	for i := range s.ServerChainHeads {
		s.ServerChainHeads[i] = GameID(d.U32())
	}
	n = d.U32()
	if n > 0 {
		s.CurrentGameIDs = make([]GameID, n)
		for i := range s.CurrentGameIDs {
			s.CurrentGameIDs[i] = GameID(d.U32())
		}
	}

	s.GameNames = &BigString{content: d.Bytes()}
	s.GameDescriptions = &BigString{content: d.Bytes()}
	s.Versions = &BigString{content: d.Bytes()}
	s.Tags = &BigString{content: d.Bytes()}
	s.HostAddresses = &BigString{content: d.Bytes()}
	s.ModNames = &BigString{content: d.Bytes()}
	s.PlayerNames = &BigString{content: d.Bytes()}

	if d.err != nil {
		return nil, fmt.Errorf("decoding state: %w", d.err)
	}
	return s, nil
}

func encodeGame(e *Encoder, g *Game) {
	e.U32(uint32(g.GameID))
	e.U32(uint32(g.ServerID))
	e.U32(uint32(g.PrevGameID))
	e.U32(uint32(g.NextGameID))
	e.U32(uint32(g.TimeBegin))
	e.U32(uint32(g.TimeEnd))
	e.Raw(g.HostID[:])
	e.U32(uint32(g.Name))
	e.U32(uint32(g.Description))
	e.U32(g.MaxPlayers)
	e.U32(uint32(g.GameVersion))
	e.U32(g.GameTimeElapsed)
	e.Bool(g.HasPassword)
	e.U32(uint32(g.Tags))
	e.U16(g.ModCount)
	e.U32(uint32(g.HostAddress))

	// nil and empty mod lists mean different things (inherit vs none)
	e.Bool(g.Mods != nil)
	if g.Mods != nil {
		e.U32(uint32(len(g.Mods)))
		for _, m := range g.Mods {
			e.U32(uint32(m.Name))
			e.U32(uint32(m.Version))
		}
	}

	e.U32(uint32(len(g.PlayersIntervals)))
	for _, pi := range g.PlayersIntervals {
		e.U32(uint32(pi.Player))
		e.U32(uint32(pi.Begin))
		e.U32(uint32(pi.End))
	}
}

func decodeGame(d *Decoder) Game {
	var g Game
	g.GameID = GameID(d.U32())
	g.ServerID = ServerID(d.U32())
	g.PrevGameID = GameID(d.U32())
	g.NextGameID = GameID(d.U32())
	g.TimeBegin = TimeMinutes(d.U32())
	g.TimeEnd = TimeMinutes(d.U32())
	d.Raw(g.HostID[:])
	g.Name = StringRef(d.U32())
	g.Description = StringRef(d.U32())
	g.MaxPlayers = d.U32()
	g.GameVersion = StringRef(d.U32())
	g.GameTimeElapsed = d.U32()
	g.HasPassword = d.Bool()
	g.Tags = StringRef(d.U32())
	g.ModCount = d.U16()
	g.HostAddress = StringRef(d.U32())

	if d.Bool() {
		n := d.U32()
		if d.err == nil {
			g.Mods = make([]Mod, n)
			for i := range g.Mods {
				g.Mods[i].Name = StringRef(d.U32())
				g.Mods[i].Version = StringRef(d.U32())
			}
		}
	}

	n := d.U32()
	if n > 0 && d.err == nil {
		g.PlayersIntervals = make([]PlayerInterval, n)
		for i := range g.PlayersIntervals {
			g.PlayersIntervals[i].Player = StringRef(d.U32())
			g.PlayersIntervals[i].Begin = TimeMinutes(d.U32())
			g.PlayersIntervals[i].End = TimeMinutes(d.U32())
		}
	}
	return g
}
