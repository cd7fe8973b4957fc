package checker

import (
	"fmt"

	"github.com/opencontainers/go-digest"
)

// Outcome classifies the result of checking a single tag.
type Outcome int

const (
	// OutcomeUnchanged means the base and derived digests matched; nothing
	// was triggered.
	OutcomeUnchanged Outcome = iota
	// OutcomeTriggered means the digests differed and the build trigger
	// accepted the rebuild request.
	OutcomeTriggered
	// OutcomeFailed means a digest could not be fetched or the trigger call
	// failed.
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeTriggered:
		return "triggered"
	case OutcomeFailed:
		return "failed"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is the outcome of checking one tag.
type Result struct {
	Tag     string
	Outcome Outcome

	// BaseDigest and Digest are set when they were fetched successfully.
	BaseDigest digest.Digest
	Digest     digest.Digest

	// Response holds the trigger response body for OutcomeTriggered.
	Response string

	// Err holds the failure for OutcomeFailed: a *registry.RegistryError or a
	// *trigger.TriggerError.
	Err error
}

// Summary counts results by outcome.
type Summary struct {
	Unchanged int `json:"unchanged"`
	Triggered int `json:"triggered"`
	Failed    int `json:"failed"`
}

// Total is the number of tags counted.
func (s Summary) Total() int {
	return s.Unchanged + s.Triggered + s.Failed
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Outcome {
		case OutcomeUnchanged:
			s.Unchanged++
		case OutcomeTriggered:
			s.Triggered++
		case OutcomeFailed:
			s.Failed++
		}
	}
	return s
}
