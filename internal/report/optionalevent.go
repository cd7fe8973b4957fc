package report

import (
	"github.com/rs/zerolog"
)

// optionalEvent collects fields into a nested dictionary that is only added
// to its parent when at least one field was set.
type optionalEvent struct {
	ev       *zerolog.Event
	modified bool
}

func (oe *optionalEvent) event() *zerolog.Event {
	if oe.ev == nil {
		oe.ev = zerolog.Dict()
		oe.modified = false
	}
	return oe.ev
}

// Set adds the collected fields to parent under key, if any were set.
func (oe *optionalEvent) Set(parent *zerolog.Event, key string) bool {
	if oe.modified {
		parent.Dict(key, oe.event())
		return true
	}
	return false
}

func (oe *optionalEvent) Str(key, val string) *optionalEvent {
	if val == "" {
		return oe
	}
	oe.event().Str(key, val)
	oe.modified = true
	return oe
}

func (oe *optionalEvent) Strs(key string, vals []string) *optionalEvent {
	if len(vals) == 0 {
		return oe
	}
	oe.event().Strs(key, vals)
	oe.modified = true
	return oe
}

func (oe *optionalEvent) Int(key string, val int) *optionalEvent {
	if val == 0 {
		return oe
	}
	oe.event().Int(key, val)
	oe.modified = true
	return oe
}
