// Package multiboottest assembles boot information blobs for tests.
package multiboottest

import (
	"encoding/binary"

	"github.com/caelyx-os/caelyx/kernel/multiboot"
)

// Builder accumulates tags into a boot information blob. Tags are padded to
// 8-byte boundaries exactly as a boot loader lays them out.
type Builder struct {
	buf []byte
}

// NewBuilder returns a Builder holding only the blob header.
func NewBuilder() *Builder {
	return &Builder{buf: make([]byte, 8)}
}

// AddTag appends a tag with an arbitrary type and payload.
func (b *Builder) AddTag(tagType multiboot.TagType, payload []byte) *Builder {
	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:], uint32(tagType))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(8+len(payload)))
	b.buf = append(b.buf, hdr[:]...)
	b.buf = append(b.buf, payload...)
	for len(b.buf)%8 != 0 {
		b.buf = append(b.buf, 0)
	}
	return b
}

// AddMemoryMap appends a memory map tag with 24-byte entries.
func (b *Builder) AddMemoryMap(entries ...multiboot.MemoryMapEntry) *Builder {
	payload := make([]byte, 8, 8+24*len(entries))
	binary.LittleEndian.PutUint32(payload, 24)
	for _, e := range entries {
		payload = AppendMemoryMapEntry(payload, e.PhysAddress, e.Length, uint32(e.Type))
	}
	return b.AddTag(multiboot.TagMemoryMap, payload)
}

// AppendMemoryMapEntry appends a raw 24-byte memory map entry to dst.
func AppendMemoryMapEntry(dst []byte, addr, length uint64, entryType uint32) []byte {
	var raw [24]byte
	binary.LittleEndian.PutUint64(raw[:], addr)
	binary.LittleEndian.PutUint64(raw[8:], length)
	binary.LittleEndian.PutUint32(raw[16:], entryType)
	return append(dst, raw[:]...)
}

// AddCmdLine appends a NUL terminated command line tag.
func (b *Builder) AddCmdLine(cmdLine string) *Builder {
	return b.AddTag(multiboot.TagCmdLine, append([]byte(cmdLine), 0))
}

// AddFramebuffer appends a framebuffer info tag.
func (b *Builder) AddFramebuffer(fb multiboot.FramebufferInfo) *Builder {
	payload := make([]byte, 30)
	binary.LittleEndian.PutUint64(payload, fb.PhysAddr)
	binary.LittleEndian.PutUint32(payload[8:], fb.Pitch)
	binary.LittleEndian.PutUint32(payload[12:], fb.Width)
	binary.LittleEndian.PutUint32(payload[16:], fb.Height)
	payload[20] = fb.Bpp
	payload[21] = uint8(fb.Type)
	copy(payload[24:], []byte{
		fb.RGB.RedPosition, fb.RGB.RedMaskSize,
		fb.RGB.GreenPosition, fb.RGB.GreenMaskSize,
		fb.RGB.BluePosition, fb.RGB.BlueMaskSize,
	})
	return b.AddTag(multiboot.TagFramebuffer, payload)
}

// Bytes terminates the blob with an end tag, patches the total size and
// returns it. The result is backed by 8-byte aligned storage so its address
// can be handed to multiboot.NewReader.
func (b *Builder) Bytes() []byte {
	b.AddTag(multiboot.TagEnd, nil)
	binary.LittleEndian.PutUint32(b.buf, uint32(len(b.buf)))

	backing := make([]uint64, len(b.buf)/8)
	out := unsafeBytes(backing)
	copy(out, b.buf)
	return out
}
