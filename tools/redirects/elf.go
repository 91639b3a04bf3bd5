package main

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	"golang.org/x/arch/x86/x86asm"
)

const redirectTableSection = ".goredirectstbl"

func resolveRedirectSymbols(f *elf.File, redirects []*redirect) error {
	symbols, err := f.Symbols()
	if err != nil {
		return err
	}

	for _, redirect := range redirects {
		for _, symbol := range symbols {
			if symbol.Name == redirect.src {
				redirect.srcVMA = symbol.Value
			}
			if symbol.Name == redirect.dst {
				redirect.dstVMA = symbol.Value
			}
		}

		switch {
		case redirect.srcVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.src)
		case redirect.dstVMA == 0:
			return fmt.Errorf("could not locate address of %q", redirect.dst)
		}
	}

	return nil
}

// encodeRedirectTable serializes the (src, dst) address pairs using the word
// size of the kernel image.
func encodeRedirectTable(w io.Writer, class elf.Class, redirects []*redirect) error {
	for _, redirect := range redirects {
		var pair interface{}
		if class == elf.ELFCLASS32 {
			pair = [2]uint32{uint32(redirect.srcVMA), uint32(redirect.dstVMA)}
		} else {
			pair = [2]uint64{redirect.srcVMA, redirect.dstVMA}
		}

		if err := binary.Write(w, binary.LittleEndian, pair); err != nil {
			return err
		}
	}

	return nil
}

func writeRedirectTable(img *elf.File, imgFile string, redirects []*redirect) error {
	section := img.Section(redirectTableSection)
	if section == nil {
		return fmt.Errorf("%s: missing %s section", imgFile, redirectTableSection)
	}

	var table bytes.Buffer
	if err := encodeRedirectTable(&table, img.Class, redirects); err != nil {
		return err
	}
	if uint64(table.Len()) > section.Size {
		return fmt.Errorf("%s: %d redirects do not fit in %s (%d bytes)", imgFile, len(redirects), redirectTableSection, section.Size)
	}

	f, err := os.OpenFile(imgFile, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.WriteAt(table.Bytes(), int64(section.Offset))
	return err
}

// readCode returns up to n bytes of the executable section that contains vma.
func readCode(img *elf.File, vma uint64, n int) ([]byte, error) {
	for _, section := range img.Sections {
		if section.Type != elf.SHT_PROGBITS || section.Flags&elf.SHF_EXECINSTR == 0 {
			continue
		}
		if vma < section.Addr || vma >= section.Addr+section.Size {
			continue
		}

		if remaining := section.Addr + section.Size - vma; uint64(n) > remaining {
			n = int(remaining)
		}

		code := make([]byte, n)
		if _, err := section.ReadAt(code, int64(vma-section.Addr)); err != nil {
			return nil, err
		}
		return code, nil
	}

	return nil, fmt.Errorf("address 0x%x is not inside an executable section", vma)
}

// decodeFirst disassembles the first instruction in code.
func decodeFirst(code []byte, mode int, vma uint64) string {
	inst, err := x86asm.Decode(code, mode)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	// A lone prefix or opcode byte decodes without error but carries no
	// operation.
	if inst.Op == 0 || inst.Len == 0 {
		return "<truncated instruction>"
	}
	return x86asm.GoSyntax(inst, vma, nil)
}

// dumpRedirects prints each redirect together with the first instruction at
// its source and destination so a patched image can be checked by eye.
func dumpRedirects(w io.Writer, img *elf.File, redirects []*redirect) error {
	mode := 64
	if img.Class == elf.ELFCLASS32 {
		mode = 32
	}

	for _, redirect := range redirects {
		srcCode, err := readCode(img, redirect.srcVMA, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", redirect.src, err)
		}
		dstCode, err := readCode(img, redirect.dstVMA, 16)
		if err != nil {
			return fmt.Errorf("%s: %w", redirect.dst, err)
		}

		fmt.Fprintf(w, "%s @ 0x%x: %s\n", redirect.src, redirect.srcVMA, decodeFirst(srcCode, mode, redirect.srcVMA))
		fmt.Fprintf(w, "  -> %s @ 0x%x: %s\n", redirect.dst, redirect.dstVMA, decodeFirst(dstCode, mode, redirect.dstVMA))
	}

	return nil
}
