package multiboot

import (
	"encoding/binary"

	"github.com/caelyx-os/caelyx/kernel"
)

// FramebufferType defines the type of the initialized framebuffer.
type FramebufferType uint8

const (
	// FramebufferTypeIndexed specifies a 256-color palette.
	FramebufferTypeIndexed FramebufferType = iota

	// FramebufferTypeRGB specifies direct RGB mode.
	FramebufferTypeRGB

	// FramebufferTypeEGA specifies EGA text mode.
	FramebufferTypeEGA
)

// FramebufferRGBColorInfo describes the order and width of each color component
// for a 15-, 16-, 24- or 32-bit framebuffer.
type FramebufferRGBColorInfo struct {
	// The position and width (in bits) of the red component.
	RedPosition uint8
	RedMaskSize uint8

	// The position and width (in bits) of the green component.
	GreenPosition uint8
	GreenMaskSize uint8

	// The position and width (in bits) of the blue component.
	BluePosition uint8
	BlueMaskSize uint8
}

// FramebufferInfo provides information about the framebuffer initialized by
// the boot loader.
type FramebufferInfo struct {
	// The framebuffer physical address.
	PhysAddr uint64

	// Row pitch in bytes.
	Pitch uint32

	// Width and height in pixels (or characters if Type = FramebufferTypeEGA)
	Width, Height uint32

	// Bits per pixel (non EGA modes only).
	Bpp uint8

	Type FramebufferType

	// Only populated when Type is FramebufferTypeRGB.
	RGB FramebufferRGBColorInfo
}

// Size returns the number of bytes covered by the framebuffer.
func (fb FramebufferInfo) Size() uint64 {
	return uint64(fb.Pitch) * uint64(fb.Height)
}

// Framebuffer decodes a framebuffer info tag.
func (t Tag) Framebuffer() (FramebufferInfo, *kernel.Error) {
	if t.Type != TagFramebuffer {
		return FramebufferInfo{}, errTagTypeMismatch
	}
	if len(t.payload) < framebufferInfoSize-2 {
		return FramebufferInfo{}, errShortTagPayload
	}

	p := t.payload
	fb := FramebufferInfo{
		PhysAddr: binary.LittleEndian.Uint64(p),
		Pitch:    binary.LittleEndian.Uint32(p[8:]),
		Width:    binary.LittleEndian.Uint32(p[12:]),
		Height:   binary.LittleEndian.Uint32(p[16:]),
		Bpp:      p[20],
		Type:     FramebufferType(p[21]),
	}

	// The colour layout follows the 2-byte reserved field.
	if fb.Type == FramebufferTypeRGB {
		if len(p) < framebufferInfoSize+rgbColorInfoSize {
			return FramebufferInfo{}, errShortTagPayload
		}
		c := p[framebufferInfoSize:]
		fb.RGB = FramebufferRGBColorInfo{
			RedPosition:   c[0],
			RedMaskSize:   c[1],
			GreenPosition: c[2],
			GreenMaskSize: c[3],
			BluePosition:  c[4],
			BlueMaskSize:  c[5],
		}
	}

	return fb, nil
}
