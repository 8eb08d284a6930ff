// Package router maps ksysguardd request paths onto cached device records.
package router

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/eddielth/ksysguardd-nvidia/fields"
)

// device indexes are written without leading zeros, as "monitors" lists them
var requestPattern = regexp.MustCompile(`^device(0|[1-9]\d*)/([A-Za-z0-9_-]+(?:/[A-Za-z0-9_-]+)*)$`)

// InvalidRequestError reports input that is not a device field path.
type InvalidRequestError struct {
	Input string
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request %q", e.Input)
}

// UnknownDeviceError reports a device index outside the snapshot.
type UnknownDeviceError struct {
	Device  int
	Devices int
}

func (e *UnknownDeviceError) Error() string {
	if e.Device < 0 {
		return fmt.Sprintf("unknown device (%d device(s) present)", e.Devices)
	}
	return fmt.Sprintf("unknown device %d (%d device(s) present)", e.Device, e.Devices)
}

// Monitor is one entry of the "monitors" listing.
type Monitor struct {
	Path string
	Type fields.Type
}

// Query is a parsed request.
type Query struct {
	Device   int
	Field    fields.Identifier
	Metadata bool
}

// Router resolves request paths against the fields of a registry.
type Router struct {
	registry *fields.Registry
	paths    map[string]fields.Identifier
}

// New creates a Router for registry.
func New(registry *fields.Registry) *Router {
	r := &Router{
		registry: registry,
		paths:    make(map[string]fields.Identifier, registry.Len()),
	}
	for _, id := range registry.All() {
		r.paths[ToPath(id)] = id
	}
	return r
}

// ToPath renders an identifier in protocol form, with '/' between segments.
func ToPath(id fields.Identifier) string {
	return strings.ReplaceAll(string(id), ".", "/")
}

// DevicePath returns the fully qualified protocol path of a device field.
func DevicePath(device int, id fields.Identifier) string {
	return "device" + strconv.Itoa(device) + "/" + ToPath(id)
}

// ListMonitors enumerates every field of every device, by device index and
// then by identifier.
func (r *Router) ListMonitors(snapshot *fields.Snapshot) []Monitor {
	var monitors []Monitor
	for _, rec := range snapshot.Records() {
		for _, id := range rec.Identifiers() {
			f, err := rec.Field(id)
			if err != nil {
				continue
			}
			monitors = append(monitors, Monitor{
				Path: DevicePath(rec.Index(), id),
				Type: f.Type(),
			})
		}
	}
	return monitors
}

// Resolve parses a request of the form device<N>/<path>[?].
func (r *Router) Resolve(input string) (Query, error) {
	q := Query{}
	path := input
	if strings.HasSuffix(path, "?") {
		q.Metadata = true
		path = strings.TrimSuffix(path, "?")
	}

	m := requestPattern.FindStringSubmatch(path)
	if m == nil {
		return Query{}, &InvalidRequestError{Input: input}
	}

	device, err := strconv.Atoi(m[1])
	if err != nil {
		// too large for an int, so certainly not a present device
		device = -1
	}
	q.Device = device

	if id, ok := r.paths[m[2]]; ok {
		q.Field = id
	} else {
		q.Field = fields.Identifier(strings.ReplaceAll(m[2], "/", "."))
	}
	return q, nil
}

// Render answers q from snapshot.
func (r *Router) Render(snapshot *fields.Snapshot, q Query) (string, error) {
	rec, ok := snapshot.Device(q.Device)
	if !ok {
		return "", &UnknownDeviceError{Device: q.Device, Devices: snapshot.Len()}
	}
	if q.Metadata {
		return rec.Metadata(q.Field)
	}
	return rec.Value(q.Field)
}
