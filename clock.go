package configstore

import "time"

// Clock supplies the current time as milliseconds since epoch. Injected so
// that timestamp-dependent tests stay deterministic.
type Clock func() int64

// SystemClock is the default Clock, backed by time.Now.
func SystemClock() int64 {
	return time.Now().UTC().UnixMilli()
}
