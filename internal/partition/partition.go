// Package partition describes the dual-bank flash layout: which flash
// regions hold the two firmware images for each flash-size class, and
// what a firmware image header must look like before it may be written
// to (or booted from) the inactive bank.
package partition

import "fmt"

// Bank identifies one of the two firmware images.
type Bank int

const (
	BankA Bank = iota
	BankB
)

// Other returns the opposite bank.
func (b Bank) Other() Bank {
	if b == BankA {
		return BankB
	}
	return BankA
}

// Name is the image file name conventionally built for the bank.
func (b Bank) Name() string {
	if b == BankA {
		return "user1.bin"
	}
	return "user2.bin"
}

func (b Bank) String() string {
	if b == BankA {
		return "A"
	}
	return "B"
}

// ParseBank accepts "A", "B", "1", "2" or an image name.
func ParseBank(s string) (Bank, error) {
	switch s {
	case "A", "a", "1", "user1.bin":
		return BankA, nil
	case "B", "b", "2", "user2.bin":
		return BankB, nil
	}
	return BankA, fmt.Errorf("unknown bank %q", s)
}

const (
	// SectorSize is the flash erase unit.
	SectorSize = 4096

	// PrimaryBase is where bank A starts, right after the boot sector.
	PrimaryBase = 0x1000
)

// Descriptor is the layout for one flash-size class.
type Descriptor struct {
	Class         int
	Layout        string // e.g. "512+512"
	FlashSize     int    // total flash in bytes
	SecondaryBase uint32 // start of bank B
	MaxImageSize  int
}

// Base returns the first flash address of bank b.
func (d Descriptor) Base(b Bank) uint32 {
	if b == BankA {
		return PrimaryBase
	}
	return d.SecondaryBase
}

const kib = 1024

// Each half holds the boot sector (bank A) or its mirror gap (bank B),
// the image, 16 KiB of user parameters and 4 KiB reserved.
var descriptors = [...]Descriptor{
	{Class: 0, Layout: "256+256", FlashSize: 512 * kib, SecondaryBase: 0x41000, MaxImageSize: 0x3A000},
	{Class: 1, Layout: "128+128", FlashSize: 256 * kib, SecondaryBase: 0x21000, MaxImageSize: 0x1A000},
	{Class: 2, Layout: "512+512", FlashSize: 1024 * kib, SecondaryBase: 0x81000, MaxImageSize: 0x7A000},
	{Class: 3, Layout: "512+512", FlashSize: 2048 * kib, SecondaryBase: 0x81000, MaxImageSize: 0x7A000},
	{Class: 4, Layout: "512+512", FlashSize: 4096 * kib, SecondaryBase: 0x81000, MaxImageSize: 0x7A000},
	{Class: 5, Layout: "1024+1024", FlashSize: 2048 * kib, SecondaryBase: 0x101000, MaxImageSize: 0xFA000},
	{Class: 6, Layout: "1024+1024", FlashSize: 4096 * kib, SecondaryBase: 0x101000, MaxImageSize: 0xFA000},
}

// MaxClass is the highest known flash-size class.
const MaxClass = len(descriptors) - 1

// Lookup returns the layout for a flash-size class.
func Lookup(class int) (Descriptor, error) {
	if class < 0 || class > MaxClass {
		return Descriptor{}, fmt.Errorf("unknown flash size class %d", class)
	}
	return descriptors[class], nil
}
