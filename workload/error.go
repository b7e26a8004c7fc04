package workload

type constError string

func (e constError) Error() string { return string(e) }

// ErrIncoherent is returned when a worker observes, or the store ends up
// with, a value other than the one last written to an address.
const ErrIncoherent = constError("cache is not coherent")
