package report

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/chinmina/imagedrift/internal/checker"
	"github.com/chinmina/imagedrift/internal/config"
	"github.com/rs/zerolog"
)

// TagFailure describes a tag whose check failed.
type TagFailure struct {
	Tag   string `json:"tag"`
	Error string `json:"error"`
}

// Target summarizes the check of one image pair.
type Target struct {
	Name      string          `json:"name"`
	Image     string          `json:"image"`
	BaseImage string          `json:"base_image"`
	Summary   checker.Summary `json:"summary"`

	// Error is set when the tag list could not be retrieved; no tags were
	// checked in that case.
	Error string `json:"error,omitempty"`

	Triggered []string     `json:"triggered,omitempty"`
	Failures  []TagFailure `json:"failures,omitempty"`
}

// Failed reports whether the target or any of its tags failed.
func (t Target) Failed() bool {
	return t.Error != "" || len(t.Failures) > 0
}

// NewTarget builds the summary for target from the outcome of
// checker.CheckAll. Tag lists are sorted so reports are stable.
func NewTarget(target config.Target, results []checker.Result, err error) Target {
	t := Target{
		Name:      target.Name,
		Image:     target.Image,
		BaseImage: target.BaseImage,
		Summary:   checker.Summarize(results),
	}

	if err != nil {
		t.Error = err.Error()
		return t
	}

	for _, r := range results {
		switch r.Outcome {
		case checker.OutcomeTriggered:
			t.Triggered = append(t.Triggered, r.Tag)
		case checker.OutcomeFailed:
			t.Failures = append(t.Failures, TagFailure{Tag: r.Tag, Error: r.Err.Error()})
		}
	}

	slices.Sort(t.Triggered)
	slices.SortFunc(t.Failures, func(a, b TagFailure) int {
		switch {
		case a.Tag < b.Tag:
			return -1
		case a.Tag > b.Tag:
			return 1
		}
		return 0
	})

	return t
}

// Run is the summary of one pass over every configured target.
type Run struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Targets  []Target  `json:"targets"`
}

// Failed reports whether any target in the run failed.
func (r Run) Failed() bool {
	return slices.ContainsFunc(r.Targets, Target.Failed)
}

// Summary totals the tag outcomes over all targets.
func (r Run) Summary() checker.Summary {
	var s checker.Summary
	for _, t := range r.Targets {
		s.Unchanged += t.Summary.Unchanged
		s.Triggered += t.Summary.Triggered
		s.Failed += t.Summary.Failed
	}
	return s
}

// Log writes one line per target followed by a line for the run as a whole.
func (r Run) Log(ctx context.Context) {
	logger := zerolog.Ctx(ctx)

	for _, t := range r.Targets {
		ev := logger.Info()
		if t.Failed() {
			ev = logger.Warn()
		}

		ev = ev.Str("target", t.Name).
			Str("image", t.Image).
			Str("base_image", t.BaseImage).
			Int("tags", t.Summary.Total())

		outcome := &optionalEvent{}
		outcome.Int("unchanged", t.Summary.Unchanged).
			Strs("triggered", t.Triggered).
			Strs("failed", failedTags(t.Failures)).
			Str("error", t.Error)
		outcome.Set(ev, "outcome")

		ev.Msg("target checked")
	}

	s := r.Summary()
	ev := logger.Info()
	if r.Failed() {
		ev = logger.Warn()
	}
	ev.Int("targets", len(r.Targets)).
		Int("unchanged", s.Unchanged).
		Int("triggered", s.Triggered).
		Int("failed", s.Failed).
		Dur("duration", r.Finished.Sub(r.Started)).
		Msg("drift check complete")
}

func failedTags(failures []TagFailure) []string {
	if len(failures) == 0 {
		return nil
	}
	tags := make([]string, len(failures))
	for i, f := range failures {
		tags[i] = f.Tag
	}
	return tags
}

// Store holds the most recent run for concurrent readers.
type Store struct {
	mu     sync.RWMutex
	latest *Run
}

func (s *Store) Update(run Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest = &run
}

// Latest returns the most recent run, if one has completed.
func (s *Store) Latest() (Run, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Run{}, false
	}
	return *s.latest, true
}
