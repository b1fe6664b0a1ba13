package backend

import (
	"fmt"
	"sort"

	"github.com/hutchdns/hutch/pkg/name"
	"github.com/hutchdns/hutch/pkg/store"
)

// Driver constructs a RecordStore for a zone from backend-specific
// settings. Drivers validate their settings eagerly: a missing or
// malformed setting fails construction, never a later store call.
type Driver func(zone name.Name, settings map[string]string) (store.RecordStore, error)

// drivers is the static registration table mapping driver names to
// constructors. Adapter packages register themselves from init, so the
// set of available drivers is fixed at link time by what the binary
// imports.
var drivers = map[string]Driver{}

// RegisterDriver adds a store driver under the given name. Registering
// the same name twice is a programming error.
func RegisterDriver(driverName string, d Driver) {
	if _, dup := drivers[driverName]; dup {
		panic(fmt.Sprintf("backend driver %q registered twice", driverName))
	}
	drivers[driverName] = d
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	out := make([]string, 0, len(drivers))
	for d := range drivers {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// SettingError reports a missing required backend setting. It is a
// configuration error: construction fails and the process does not
// start.
type SettingError struct {
	Driver string
	Key    string
}

func (e *SettingError) Error() string {
	return fmt.Sprintf("backend driver %s: missing required setting %q", e.Driver, e.Key)
}

// RequireSetting fetches a mandatory key from a settings map.
func RequireSetting(driverName string, settings map[string]string, key string) (string, error) {
	v, ok := settings[key]
	if !ok || v == "" {
		return "", &SettingError{Driver: driverName, Key: key}
	}
	return v, nil
}
