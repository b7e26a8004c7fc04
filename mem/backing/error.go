package backing

import "fmt"

type constError string

// ErrOutOfRange is returned when an address is outside [0, N).
const ErrOutOfRange = constError("address out of range")

func (errStr constError) Error() string { return string(errStr) }

// OutOfRangeError returns an error that wraps ErrOutOfRange and records the
// offending address and the size of the address space.
func OutOfRangeError(addr, size uint64) error {
	return fmt.Errorf(
		"%w: 0x%x is not in [0, %d)",
		ErrOutOfRange, addr, size)
}
