// Package device defines the hardware collaborators the OTA service
// drives (flash, partition oracle, reboot primitive) and provides host
// implementations of them: an in-memory flash, a file-backed flash, and
// a simulated boot controller.
package device

import (
	"fmt"
	"time"

	"otad/internal/partition"
)

// Flash is the raw flash driver.
type Flash interface {
	// EraseSector sets every byte of sector index to 0xFF.
	EraseSector(index int) error
	// Write programs p at addr.  Bits can only be cleared, so the
	// target range must have been erased.
	Write(addr uint32, p []byte) error
	// Read returns n bytes starting at addr.
	Read(addr uint32, n int) ([]byte, error)
}

// Oracle reports which bank holds the running firmware.
type Oracle interface {
	ActiveBank() partition.Bank
}

// Rebooter is the boot-loader handshake: flag the new image and restart.
type Rebooter interface {
	SetUpgradePending()
	ArmReboot(delay time.Duration)
}

// RangeError reports an access outside the flash device.
type RangeError struct {
	Op   string
	Addr uint32
	Len  int
	Size int
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("flash %s %#x+%d outside device of %d bytes", e.Op, e.Addr, e.Len, e.Size)
}

func checkRange(op string, addr uint32, n, size int) error {
	if n < 0 || int(addr) > size || int(addr)+n > size {
		return &RangeError{Op: op, Addr: addr, Len: n, Size: size}
	}
	return nil
}

func sectorAddr(index, size int) (uint32, error) {
	addr := index * partition.SectorSize
	if index < 0 || addr+partition.SectorSize > size {
		return 0, &RangeError{Op: "erase", Addr: uint32(addr), Len: partition.SectorSize, Size: size}
	}
	return uint32(addr), nil
}
