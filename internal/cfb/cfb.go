// Package cfb reads Compound File Binary containers (the OLE2 structured
// storage format used by Outlook .msg files). Only reading is supported.
//
// Every structural problem (bad signature, a sector outside the file, a
// cyclic chain or directory tree) is reported as an error wrapping
// ErrCorrupt. The reader never loops forever on hostile input.
package cfb

import (
	"bytes"
	"encoding/binary"
	"strings"
	"unicode/utf16"

	"github.com/rotisserie/eris"
)

// ErrCorrupt is the root of every structural error returned by this package.
var ErrCorrupt = eris.New("corrupt compound file")

// Signature is the eight-byte magic at the start of every compound file.
var Signature = []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}

const (
	headerSize   = 512
	dirEntrySize = 128
	headerDIFAT  = 109

	maxRegSect = 0xFFFFFFFA
	difSect    = 0xFFFFFFFC
	fatSect    = 0xFFFFFFFD
	endOfChain = 0xFFFFFFFE
	freeSect   = 0xFFFFFFFF
	noStream   = 0xFFFFFFFF
)

// EntryType is the object type of a directory entry.
type EntryType uint8

const (
	TypeUnknown EntryType = 0
	TypeStorage EntryType = 1
	TypeStream  EntryType = 2
	TypeRoot    EntryType = 5
)

// Entry is one node of the directory tree.
type Entry struct {
	Name string
	Type EntryType
	Size uint64

	start    uint32
	left     uint32
	right    uint32
	child    uint32
	children []*Entry
}

// IsStorage reports whether the entry can hold children.
func (e *Entry) IsStorage() bool {
	return e.Type == TypeStorage || e.Type == TypeRoot
}

// Children returns the entry's direct children in directory order.
func (e *Entry) Children() []*Entry {
	return e.children
}

// Child returns the direct child with the given name, compared
// case-insensitively, or nil.
func (e *Entry) Child(name string) *Entry {
	for _, c := range e.children {
		if strings.EqualFold(c.Name, name) {
			return c
		}
	}
	return nil
}

// File is an opened compound file. It holds the input slice; streams are
// materialized on demand by ReadStream.
type File struct {
	data           []byte
	sectorSize     int
	miniSectorSize int
	miniCutoff     uint64
	version        uint16
	fat            []uint32
	miniFAT        []uint32
	miniStream     []byte
	entries        []*Entry
}

// IsCompound reports whether data starts with the compound file signature.
func IsCompound(data []byte) bool {
	return len(data) >= len(Signature) && bytes.Equal(data[:len(Signature)], Signature)
}

// Open parses the header, allocation tables and directory of data.
func Open(data []byte) (*File, error) {
	if !IsCompound(data) {
		return nil, eris.Wrap(ErrCorrupt, "bad signature")
	}
	if len(data) < headerSize {
		return nil, eris.Wrapf(ErrCorrupt, "header truncated at %d bytes", len(data))
	}

	f := &File{data: data}
	f.version = binary.LittleEndian.Uint16(data[0x1A:])
	shift := binary.LittleEndian.Uint16(data[0x1E:])
	switch {
	case f.version == 3 && shift == 9, f.version == 4 && shift == 12:
	default:
		return nil, eris.Wrapf(ErrCorrupt, "unsupported version %d with sector shift %d", f.version, shift)
	}
	f.sectorSize = 1 << shift

	miniShift := binary.LittleEndian.Uint16(data[0x20:])
	if miniShift == 0 || miniShift >= shift {
		return nil, eris.Wrapf(ErrCorrupt, "invalid mini sector shift %d", miniShift)
	}
	f.miniSectorSize = 1 << miniShift
	f.miniCutoff = uint64(binary.LittleEndian.Uint32(data[0x38:]))

	if err := f.loadFAT(); err != nil {
		return nil, err
	}
	if err := f.loadDirectory(binary.LittleEndian.Uint32(data[0x30:])); err != nil {
		return nil, err
	}
	if err := f.loadMiniStream(binary.LittleEndian.Uint32(data[0x3C:])); err != nil {
		return nil, err
	}
	return f, nil
}

// Version returns the major version (3 or 4).
func (f *File) Version() int {
	return int(f.version)
}

// SectorSize returns the regular sector size in bytes.
func (f *File) SectorSize() int {
	return f.sectorSize
}

// Root returns the root storage.
func (f *File) Root() *Entry {
	return f.entries[0]
}

// sector returns the bytes of regular sector n. The final sector of a file
// may be short; it is returned as-is.
func (f *File) sector(n uint32) ([]byte, error) {
	if n >= maxRegSect {
		return nil, eris.Wrapf(ErrCorrupt, "sector id %#x is not a data sector", n)
	}
	off := (int64(n) + 1) * int64(f.sectorSize)
	if off >= int64(len(f.data)) {
		return nil, eris.Wrapf(ErrCorrupt, "sector %d beyond end of file", n)
	}
	end := min(off+int64(f.sectorSize), int64(len(f.data)))
	return f.data[off:end], nil
}

// loadFAT reads the DIFAT (header array plus any DIFAT sectors) and then
// every FAT sector it lists.
func (f *File) loadFAT() error {
	numFAT := int(binary.LittleEndian.Uint32(f.data[0x2C:]))
	if numFAT < 0 || numFAT > len(f.data)/f.sectorSize+1 {
		return eris.Wrapf(ErrCorrupt, "FAT sector count %d exceeds file size", numFAT)
	}

	fatSectors := make([]uint32, 0, numFAT)
	for i := 0; i < headerDIFAT && len(fatSectors) < numFAT; i++ {
		s := binary.LittleEndian.Uint32(f.data[0x4C+4*i:])
		if s < maxRegSect {
			fatSectors = append(fatSectors, s)
		}
	}

	next := binary.LittleEndian.Uint32(f.data[0x44:])
	perSector := f.sectorSize/4 - 1
	seen := make(map[uint32]bool)
	for len(fatSectors) < numFAT && next < maxRegSect {
		if seen[next] {
			return eris.Wrapf(ErrCorrupt, "DIFAT chain loops at sector %d", next)
		}
		seen[next] = true
		buf, err := f.sector(next)
		if err != nil {
			return eris.Wrap(err, "read DIFAT")
		}
		if len(buf) < f.sectorSize {
			return eris.Wrapf(ErrCorrupt, "DIFAT sector %d truncated", next)
		}
		for i := 0; i < perSector && len(fatSectors) < numFAT; i++ {
			s := binary.LittleEndian.Uint32(buf[4*i:])
			if s < maxRegSect {
				fatSectors = append(fatSectors, s)
			}
		}
		next = binary.LittleEndian.Uint32(buf[4*perSector:])
	}

	f.fat = make([]uint32, 0, len(fatSectors)*f.sectorSize/4)
	for _, s := range fatSectors {
		buf, err := f.sector(s)
		if err != nil {
			return eris.Wrap(err, "read FAT")
		}
		for i := 0; i+4 <= len(buf); i += 4 {
			f.fat = append(f.fat, binary.LittleEndian.Uint32(buf[i:]))
		}
	}
	if len(f.fat) == 0 {
		return eris.Wrap(ErrCorrupt, "empty FAT")
	}
	return nil
}

// chain follows table from start and returns the visited sector ids. A
// cycle or a link outside the table is an error.
func chain(table []uint32, start uint32, what string) ([]uint32, error) {
	var ids []uint32
	seen := make(map[uint32]bool)
	for cur := start; cur != endOfChain; {
		if cur == freeSect && len(ids) == 0 {
			return nil, nil
		}
		if int64(cur) >= int64(len(table)) {
			return nil, eris.Wrapf(ErrCorrupt, "%s chain references sector %#x outside the table", what, cur)
		}
		if seen[cur] {
			return nil, eris.Wrapf(ErrCorrupt, "%s chain loops at sector %d", what, cur)
		}
		seen[cur] = true
		ids = append(ids, cur)
		cur = table[cur]
	}
	return ids, nil
}

// readChain concatenates the regular sectors of the chain starting at start.
func (f *File) readChain(start uint32, what string) ([]byte, error) {
	ids, err := chain(f.fat, start, what)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(ids)*f.sectorSize)
	for _, id := range ids {
		buf, err := f.sector(id)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", what)
		}
		out = append(out, buf...)
	}
	return out, nil
}

func (f *File) loadDirectory(start uint32) error {
	buf, err := f.readChain(start, "directory")
	if err != nil {
		return err
	}
	n := len(buf) / dirEntrySize
	if n == 0 {
		return eris.Wrap(ErrCorrupt, "empty directory")
	}
	f.entries = make([]*Entry, n)
	for i := range n {
		f.entries[i] = f.parseEntry(buf[i*dirEntrySize : (i+1)*dirEntrySize])
	}
	if f.entries[0].Type != TypeRoot {
		return eris.Wrapf(ErrCorrupt, "first directory entry has type %d, want root", f.entries[0].Type)
	}
	return f.buildTree()
}

func (f *File) parseEntry(b []byte) *Entry {
	nameLen := int(binary.LittleEndian.Uint16(b[0x40:]))
	if nameLen > 64 {
		nameLen = 64
	}
	units := make([]uint16, 0, nameLen/2)
	for i := 0; i+1 < nameLen; i += 2 {
		u := binary.LittleEndian.Uint16(b[i:])
		if u == 0 {
			break
		}
		units = append(units, u)
	}
	e := &Entry{
		Name:  string(utf16.Decode(units)),
		Type:  EntryType(b[0x42]),
		left:  binary.LittleEndian.Uint32(b[0x44:]),
		right: binary.LittleEndian.Uint32(b[0x48:]),
		child: binary.LittleEndian.Uint32(b[0x4C:]),
		start: binary.LittleEndian.Uint32(b[0x74:]),
		Size:  binary.LittleEndian.Uint64(b[0x78:]),
	}
	if f.version == 3 {
		// The high half of the size is undefined in version 3 files.
		e.Size &= 0xFFFFFFFF
	}
	return e
}

// buildTree links every storage to its children. Each storage's children
// form a binary tree through left/right siblings, walked in order with an
// explicit stack. An entry reachable twice means the directory is cyclic.
func (f *File) buildTree() error {
	visited := make([]bool, len(f.entries))
	visited[0] = true
	storages := []uint32{0}

	for len(storages) > 0 {
		parent := f.entries[storages[len(storages)-1]]
		storages = storages[:len(storages)-1]

		var stack []uint32
		cur := parent.child
		for cur != noStream || len(stack) > 0 {
			for cur != noStream {
				if int(cur) >= len(f.entries) {
					return eris.Wrapf(ErrCorrupt, "directory entry %d out of range", cur)
				}
				if visited[cur] {
					return eris.Wrapf(ErrCorrupt, "directory entry %d linked twice", cur)
				}
				visited[cur] = true
				stack = append(stack, cur)
				cur = f.entries[cur].left
			}
			id := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			e := f.entries[id]
			if e.Type == TypeStorage || e.Type == TypeStream {
				parent.children = append(parent.children, e)
				if e.Type == TypeStorage {
					storages = append(storages, id)
				}
			}
			cur = e.right
		}
	}
	return nil
}

func (f *File) loadMiniStream(miniFATStart uint32) error {
	root := f.Root()
	if root.Size == 0 || root.start >= maxRegSect {
		return nil
	}
	buf, err := f.readChain(root.start, "mini stream")
	if err != nil {
		return err
	}
	if uint64(len(buf)) < root.Size {
		return eris.Wrapf(ErrCorrupt, "mini stream holds %d bytes, root declares %d", len(buf), root.Size)
	}
	f.miniStream = buf[:root.Size]

	if miniFATStart >= maxRegSect {
		return nil
	}
	table, err := f.readChain(miniFATStart, "mini FAT")
	if err != nil {
		return err
	}
	f.miniFAT = make([]uint32, len(table)/4)
	for i := range f.miniFAT {
		f.miniFAT[i] = binary.LittleEndian.Uint32(table[4*i:])
	}
	return nil
}

// ReadStream returns the full contents of a stream entry. Streams smaller
// than the mini stream cutoff live in the mini stream.
func (f *File) ReadStream(e *Entry) ([]byte, error) {
	if e == nil || e.Type != TypeStream {
		return nil, eris.New("not a stream entry")
	}
	if e.Size == 0 {
		return []byte{}, nil
	}
	if e.Size > uint64(len(f.data)) {
		return nil, eris.Wrapf(ErrCorrupt, "stream %q declares %d bytes in a %d byte file", e.Name, e.Size, len(f.data))
	}

	var buf []byte
	if e.Size < f.miniCutoff {
		ids, err := chain(f.miniFAT, e.start, "mini stream "+e.Name)
		if err != nil {
			return nil, err
		}
		buf = make([]byte, 0, len(ids)*f.miniSectorSize)
		for _, id := range ids {
			off := int(id) * f.miniSectorSize
			if off >= len(f.miniStream) {
				return nil, eris.Wrapf(ErrCorrupt, "mini sector %d beyond mini stream", id)
			}
			end := min(off+f.miniSectorSize, len(f.miniStream))
			buf = append(buf, f.miniStream[off:end]...)
		}
	} else {
		var err error
		buf, err = f.readChain(e.start, "stream "+e.Name)
		if err != nil {
			return nil, err
		}
	}

	if uint64(len(buf)) < e.Size {
		return nil, eris.Wrapf(ErrCorrupt, "stream %q truncated: have %d of %d bytes", e.Name, len(buf), e.Size)
	}
	return buf[:e.Size], nil
}
