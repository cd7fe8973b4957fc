package server

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// ShutdownHooks releases resources when the process stops. Hooks run in
// reverse registration order, so a resource is released before the
// resources it was built from. A failing hook does not stop the others.
type ShutdownHooks struct {
	hooks []hook
}

// Add registers fn under name. Nil hooks are ignored.
func (s *ShutdownHooks) Add(name string, fn func(context.Context) error) {
	if fn == nil {
		log.Warn().Str("hook", name).Msg("ignoring nil shutdown hook")
		return
	}

	s.hooks = append(s.hooks, hook{name: name, fn: fn})
}

// Len is the number of registered hooks.
func (s *ShutdownHooks) Len() int {
	return len(s.hooks)
}

// Execute runs every hook, most recently added first, and returns the
// failures joined together.
func (s *ShutdownHooks) Execute(ctx context.Context) error {
	logger := log.Ctx(ctx)

	var errs []error
	for i := len(s.hooks) - 1; i >= 0; i-- {
		h := s.hooks[i]
		start := time.Now()

		err := h.fn(ctx)
		if err != nil {
			logger.Warn().Str("hook", h.name).Err(err).Msg("shutdown: hook failed")
			errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
			continue
		}

		logger.Info().Str("hook", h.name).Dur("duration", time.Since(start)).Msg("shutdown: hook complete")
	}

	return errors.Join(errs...)
}
