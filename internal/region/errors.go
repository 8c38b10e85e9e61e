package region

import "errors"

var (
	// ErrSizeTooLarge is returned when a payload size has no class that can hold it.
	ErrSizeTooLarge = errors.New("region: size exceeds largest class")
	// ErrArenaFull is returned when a class's block table has no empty slot left.
	ErrArenaFull = errors.New("region: arena block table full")
)
