// Package cfbtest writes small Compound File Binary containers for tests.
// The output is a valid version 3 or 4 file: streams under the 4096 byte
// cutoff go to the mini stream, everything else to regular sectors.
package cfbtest

import (
	"encoding/binary"
	"unicode/utf16"
)

// Node is a storage or stream to place in the container.
type Node struct {
	Name     string
	Data     []byte
	Storage  bool
	Children []*Node
}

// Stream returns a stream node.
func Stream(name string, data []byte) *Node {
	return &Node{Name: name, Data: data}
}

// Storage returns a storage node holding children.
func Storage(name string, children ...*Node) *Node {
	return &Node{Name: name, Storage: true, Children: children}
}

const (
	miniSectorSize = 64
	miniCutoff     = 4096
	endOfChain     = 0xFFFFFFFE
	freeSect       = 0xFFFFFFFF
	fatSect        = 0xFFFFFFFD
	noStream       = 0xFFFFFFFF
)

type dirEntry struct {
	name               string
	typ                byte
	left, right, child uint32
	start              uint32
	size               uint64
	data               []byte
}

type writer struct {
	sectorSize int
	entries    []*dirEntry
	sectors    [][]byte
	fat        []uint32
	mini       []byte
	miniFAT    []uint32
}

// Build returns a compound file of the given major version (3 or 4) whose
// root storage holds children.
func Build(version int, children ...*Node) []byte {
	w := &writer{sectorSize: 512}
	if version == 4 {
		w.sectorSize = 4096
	}

	w.entries = append(w.entries, &dirEntry{name: "Root Entry", typ: 5, left: noStream, right: noStream, child: noStream, start: endOfChain})
	w.entries[0].child = w.addChildren(children)

	for _, e := range w.entries {
		if e.typ != 2 {
			continue
		}
		e.size = uint64(len(e.data))
		switch {
		case len(e.data) == 0:
			e.start = endOfChain
		case len(e.data) < miniCutoff:
			e.start = w.allocMini(e.data)
		default:
			e.start = w.alloc(e.data)
		}
	}

	root := w.entries[0]
	if len(w.mini) > 0 {
		root.start = w.alloc(w.mini)
		root.size = uint64(len(w.mini))
	}
	miniFATStart := uint32(endOfChain)
	if len(w.miniFAT) > 0 {
		miniFATStart = w.alloc(u32s(w.miniFAT))
	}
	dirStart := w.alloc(w.directory())

	per := w.sectorSize / 4
	n := len(w.sectors)
	nfat := 1
	for (n+nfat+per-1)/per > nfat {
		nfat++
	}
	fatIDs := make([]uint32, nfat)
	for i := range fatIDs {
		fatIDs[i] = uint32(n + i)
		w.fat = append(w.fat, fatSect)
	}
	for len(w.fat)%per != 0 {
		w.fat = append(w.fat, freeSect)
	}
	fatBytes := u32s(w.fat)
	for i := range nfat {
		w.sectors = append(w.sectors, fatBytes[i*w.sectorSize:(i+1)*w.sectorSize])
	}

	hdr := make([]byte, w.sectorSize)
	copy(hdr, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1})
	le := binary.LittleEndian
	le.PutUint16(hdr[0x18:], 0x3E)
	le.PutUint16(hdr[0x1A:], uint16(version))
	le.PutUint16(hdr[0x1C:], 0xFFFE)
	if version == 4 {
		le.PutUint16(hdr[0x1E:], 12)
	} else {
		le.PutUint16(hdr[0x1E:], 9)
	}
	le.PutUint16(hdr[0x20:], 6)
	le.PutUint32(hdr[0x2C:], uint32(nfat))
	le.PutUint32(hdr[0x30:], dirStart)
	le.PutUint32(hdr[0x38:], miniCutoff)
	le.PutUint32(hdr[0x3C:], miniFATStart)
	le.PutUint32(hdr[0x40:], uint32((len(w.miniFAT)*4+w.sectorSize-1)/w.sectorSize))
	le.PutUint32(hdr[0x44:], endOfChain)
	for i := range 109 {
		v := uint32(freeSect)
		if i < nfat {
			v = fatIDs[i]
		}
		le.PutUint32(hdr[0x4C+4*i:], v)
	}

	out := append([]byte(nil), hdr...)
	for _, s := range w.sectors {
		out = append(out, s...)
	}
	return out
}

func (w *writer) addChildren(nodes []*Node) uint32 {
	first := uint32(noStream)
	var prev *dirEntry
	for _, n := range nodes {
		id := uint32(len(w.entries))
		e := &dirEntry{name: n.Name, typ: 2, left: noStream, right: noStream, child: noStream, data: n.Data}
		w.entries = append(w.entries, e)
		if n.Storage {
			e.typ = 1
			e.start = 0
			e.child = w.addChildren(n.Children)
		}
		if prev == nil {
			first = id
		} else {
			prev.right = id
		}
		prev = e
	}
	return first
}

// alloc appends data as a chain of regular sectors and returns its first id.
func (w *writer) alloc(data []byte) uint32 {
	start := uint32(len(w.sectors))
	for off := 0; off < len(data); off += w.sectorSize {
		s := make([]byte, w.sectorSize)
		copy(s, data[off:])
		w.sectors = append(w.sectors, s)
		w.fat = append(w.fat, uint32(len(w.sectors)))
	}
	w.fat[len(w.fat)-1] = endOfChain
	return start
}

func (w *writer) allocMini(data []byte) uint32 {
	start := uint32(len(w.miniFAT))
	for off := 0; off < len(data); off += miniSectorSize {
		s := make([]byte, miniSectorSize)
		copy(s, data[off:])
		w.mini = append(w.mini, s...)
		w.miniFAT = append(w.miniFAT, uint32(len(w.miniFAT)+1))
	}
	w.miniFAT[len(w.miniFAT)-1] = endOfChain
	return start
}

func (w *writer) directory() []byte {
	perSector := w.sectorSize / 128
	count := (len(w.entries) + perSector - 1) / perSector * perSector
	out := make([]byte, count*128)
	le := binary.LittleEndian
	for i := range count {
		b := out[i*128 : (i+1)*128]
		le.PutUint32(b[0x44:], noStream)
		le.PutUint32(b[0x48:], noStream)
		le.PutUint32(b[0x4C:], noStream)
		if i >= len(w.entries) {
			continue
		}
		e := w.entries[i]
		units := utf16.Encode([]rune(e.name))
		if len(units) > 31 {
			units = units[:31]
		}
		for j, u := range units {
			le.PutUint16(b[2*j:], u)
		}
		le.PutUint16(b[0x40:], uint16((len(units)+1)*2))
		b[0x42] = e.typ
		b[0x43] = 1
		le.PutUint32(b[0x44:], e.left)
		le.PutUint32(b[0x48:], e.right)
		le.PutUint32(b[0x4C:], e.child)
		le.PutUint32(b[0x74:], e.start)
		le.PutUint64(b[0x78:], e.size)
	}
	return out
}

func u32s(v []uint32) []byte {
	out := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(out[4*i:], x)
	}
	return out
}
