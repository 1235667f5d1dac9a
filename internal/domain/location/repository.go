package location

import "context"

// Backend persists one LocationRecord per device id. Save must publish the
// whole record atomically: a concurrent Load or List sees either the previous
// version or the new one, never a partial write.
type Backend interface {
	// Load returns ErrNotFound for an unknown id and ErrMalformedRecord when
	// the stored document cannot be decoded.
	Load(ctx context.Context, id DeviceID) (*LocationRecord, error)
	Save(ctx context.Context, record *LocationRecord) error
	// List returns every readable record. Records that vanish or fail to
	// decode mid-scan are skipped.
	List(ctx context.Context) ([]*LocationRecord, error)
	// Revisions maps each stored id to a value that changes whenever the
	// record is rewritten.
	Revisions(ctx context.Context) (map[DeviceID]int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Notifier is implemented by backends that can push change notifications.
// Watch calls notify after every mutation and blocks until ctx is done or the
// notification source fails; a failure is returned as an error wrapping
// ErrWatchUnavailable.
type Notifier interface {
	Watch(ctx context.Context, notify func()) error
}
