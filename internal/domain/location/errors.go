package location

import "errors"

var (
	ErrInvalidInput     = errors.New("invalid lat/lon")
	ErrStorageWrite     = errors.New("location record could not be written")
	ErrNotFound         = errors.New("location record not found")
	ErrMalformedRecord  = errors.New("malformed location record")
	ErrWatchUnavailable = errors.New("change notification unavailable")
)
