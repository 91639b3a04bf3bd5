// Package multiboot decodes the boot information blob that a multiboot2
// compliant boot loader hands to the kernel.
//
// The blob is never trusted: every header and payload is checked against the
// declared total size before it is dereferenced, so a corrupt blob stops
// iteration with an error instead of reading past its end.
package multiboot

import (
	"encoding/binary"
	"unsafe"

	"github.com/caelyx-os/caelyx/kernel"
)

var (
	// ErrTruncatedInfo is returned when the blob header or one of its tags
	// declares a size that does not fit in the available bytes.
	ErrTruncatedInfo = &kernel.Error{Module: "multiboot", Message: "boot information is truncated or corrupt"}

	// ErrMalformedMemoryMap is returned when the memory map tag declares an
	// entry size smaller than the entry layout it must contain.
	ErrMalformedMemoryMap = &kernel.Error{Module: "multiboot", Message: "malformed memory map tag"}

	errTagTypeMismatch = &kernel.Error{Module: "multiboot", Message: "tag does not have the requested type"}
	errShortTagPayload = &kernel.Error{Module: "multiboot", Message: "tag payload is shorter than its fixed layout"}
)

const (
	infoHeaderSize = 8
	tagHeaderSize  = 8
	tagAlignment   = 8

	mmapHeaderSize      = 8
	minMmapEntrySize    = 24
	framebufferInfoSize = 24
	rgbColorInfoSize    = 6
	basicMemInfoSize    = 8
)

// TagType identifies the payload carried by a boot information tag.
type TagType uint32

// nolint
const (
	TagEnd TagType = iota
	TagCmdLine
	TagBootLoaderName
	TagModule
	TagBasicMemInfo
	TagBootDev
	TagMemoryMap
	TagVBE
	TagFramebuffer
	TagElfSections
	TagAPM
	TagEFI32
	TagEFI64
	TagSMBIOS
	TagAcpiOld
	TagAcpiNew
	TagNetwork
	TagEFIMemoryMap
	TagEFIBootServices
	TagEFI32ImageHandle
	TagEFI64ImageHandle
	TagLoadBaseAddr

	tagTypeCount
)

var tagTypeNames = [tagTypeCount]string{
	"end", "command line", "boot loader name", "module", "basic memory info",
	"boot device", "memory map", "VBE info", "framebuffer info", "ELF sections",
	"APM table", "EFI32 system table", "EFI64 system table", "SMBIOS tables",
	"ACPI old RSDP", "ACPI new RSDP", "network info", "EFI memory map",
	"EFI boot services", "EFI32 image handle", "EFI64 image handle",
	"load base address",
}

// String implements fmt.Stringer for TagType.
func (t TagType) String() string {
	if t >= tagTypeCount {
		return "unknown"
	}
	return tagTypeNames[t]
}

// Tag is a single recognized boot information tag. The payload excludes the
// 8-byte tag header and any alignment padding.
type Tag struct {
	Type    TagType
	payload []byte
}

// Payload returns the raw tag contents.
func (t Tag) Payload() []byte {
	return t.payload
}

// Reader walks the tags of a boot information blob. It is used in the same
// way as a bufio.Scanner:
//
//	for r.Next() {
//		tag := r.Tag()
//	}
//	if err := r.Err(); err != nil { ... }
//
// Reset rewinds the reader so the blob can be walked any number of times.
type Reader struct {
	blob   []byte
	offset uint32
	tag    Tag
	err    *kernel.Error
	done   bool
}

// NewReader returns a Reader over the boot information blob located at
// infoPtr. The blob extent is taken from its declared total size.
func NewReader(infoPtr uintptr) (Reader, *kernel.Error) {
	if infoPtr == 0 {
		return Reader{}, ErrTruncatedInfo
	}

	totalSize := *(*uint32)(unsafe.Pointer(infoPtr))
	if totalSize < infoHeaderSize {
		return Reader{}, ErrTruncatedInfo
	}

	return ReaderFromBytes(unsafe.Slice((*byte)(unsafe.Pointer(infoPtr)), totalSize))
}

// ReaderFromBytes returns a Reader over a boot information blob held in a
// byte slice. Any bytes past the declared total size are ignored.
func ReaderFromBytes(blob []byte) (Reader, *kernel.Error) {
	if len(blob) < infoHeaderSize {
		return Reader{}, ErrTruncatedInfo
	}

	totalSize := binary.LittleEndian.Uint32(blob)
	if totalSize < infoHeaderSize || uint64(totalSize) > uint64(len(blob)) {
		return Reader{}, ErrTruncatedInfo
	}

	r := Reader{blob: blob[:totalSize]}
	r.Reset()
	return r, nil
}

// Reset rewinds the reader to the first tag and clears any error.
func (r *Reader) Reset() {
	r.offset = infoHeaderSize
	r.tag = Tag{}
	r.err = nil
	r.done = false
}

// Next advances to the next recognized tag and reports whether one was
// found. Tags with an unknown type are skipped using their declared size.
// Iteration stops at the end tag or at the first malformed tag header.
func (r *Reader) Next() bool {
	for !r.done {
		off := uint64(r.offset)
		if off+tagHeaderSize > uint64(len(r.blob)) {
			r.fail(ErrTruncatedInfo)
			return false
		}

		tagType := TagType(binary.LittleEndian.Uint32(r.blob[off:]))
		tagSize := uint64(binary.LittleEndian.Uint32(r.blob[off+4:]))
		if tagSize < tagHeaderSize || off+tagSize > uint64(len(r.blob)) {
			r.fail(ErrTruncatedInfo)
			return false
		}

		if tagType == TagEnd {
			r.done = true
			r.tag = Tag{}
			return false
		}

		// Tags start at 8-byte aligned offsets; the last tag may be
		// followed by padding that runs to the end of the blob.
		next := (off + tagSize + tagAlignment - 1) &^ (tagAlignment - 1)
		if next > uint64(len(r.blob)) {
			next = uint64(len(r.blob))
		}
		r.offset = uint32(next)

		if tagType >= tagTypeCount {
			continue
		}

		r.tag = Tag{Type: tagType, payload: r.blob[off+tagHeaderSize : off+tagSize]}
		return true
	}

	return false
}

// Tag returns the tag produced by the most recent successful call to Next.
func (r *Reader) Tag() Tag {
	return r.tag
}

// Err returns the error that stopped iteration, or nil if iteration ended at
// the end tag.
func (r *Reader) Err() *kernel.Error {
	return r.err
}

// FindTag rewinds the reader and returns the first tag of the given type.
func (r *Reader) FindTag(tagType TagType) (Tag, bool) {
	r.Reset()
	for r.Next() {
		if r.tag.Type == tagType {
			return r.tag, true
		}
	}

	return Tag{}, false
}

func (r *Reader) fail(err *kernel.Error) {
	r.err = err
	r.done = true
	r.tag = Tag{}
}

// CmdLine returns the kernel command line with its NUL terminator removed.
func (t Tag) CmdLine() ([]byte, *kernel.Error) {
	if t.Type != TagCmdLine {
		return nil, errTagTypeMismatch
	}

	return trimNUL(t.payload), nil
}

// BootLoaderName returns the name reported by the boot loader.
func (t Tag) BootLoaderName() ([]byte, *kernel.Error) {
	if t.Type != TagBootLoaderName {
		return nil, errTagTypeMismatch
	}

	return trimNUL(t.payload), nil
}

// BasicMemInfo returns the amount of lower and upper memory in KiB.
func (t Tag) BasicMemInfo() (lowerKb, upperKb uint32, err *kernel.Error) {
	if t.Type != TagBasicMemInfo {
		return 0, 0, errTagTypeMismatch
	}
	if len(t.payload) < basicMemInfoSize {
		return 0, 0, errShortTagPayload
	}

	return binary.LittleEndian.Uint32(t.payload), binary.LittleEndian.Uint32(t.payload[4:]), nil
}

// RSDP returns the copy of the ACPI root system description pointer that
// the boot loader embedded in the tag together with its address. Old tags
// carry a version 1 RSDP and new tags a version 2 one.
func (t Tag) RSDP() ([]byte, uintptr, *kernel.Error) {
	if t.Type != TagAcpiOld && t.Type != TagAcpiNew {
		return nil, 0, errTagTypeMismatch
	}
	if len(t.payload) == 0 {
		return nil, 0, errShortTagPayload
	}

	return t.payload, uintptr(unsafe.Pointer(&t.payload[0])), nil
}

func trimNUL(b []byte) []byte {
	for len(b) > 0 && b[len(b)-1] == 0 {
		b = b[:len(b)-1]
	}
	return b
}

// CmdLineValue looks up key in a space separated list of key=value pairs.
// A bare key is reported with its own name as the value. The returned value
// aliases cmdLine.
func CmdLineValue(cmdLine []byte, key string) ([]byte, bool) {
	for i := 0; i < len(cmdLine); {
		for i < len(cmdLine) && isSpace(cmdLine[i]) {
			i++
		}
		start := i
		for i < len(cmdLine) && !isSpace(cmdLine[i]) {
			i++
		}
		field := cmdLine[start:i]
		if len(field) == 0 {
			continue
		}

		eq := 0
		for eq < len(field) && field[eq] != '=' {
			eq++
		}

		if string(field[:eq]) != key {
			continue
		}

		if eq == len(field) {
			return field, true
		}
		return field[eq+1:], true
	}

	return nil, false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
