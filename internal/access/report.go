package access

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Outcome is the result of one category within a run.
type Outcome struct {
	Key     string
	Rows    int
	Elapsed time.Duration
	Err     error
}

// Report lists every category outcome in configuration order.
type Report struct {
	Outcomes []Outcome
}

// Succeeded returns the keys of categories that completed.
func (r Report) Succeeded() []string {
	var out []string
	for _, o := range r.Outcomes {
		if o.Err == nil {
			out = append(out, o.Key)
		}
	}
	return out
}

// Failed returns the outcomes that carry an error.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Err != nil {
			out = append(out, o)
		}
	}
	return out
}

// OK reports whether every category succeeded.
func (r Report) OK() bool {
	return len(r.Failed()) == 0
}

// Err summarises the failed categories, or returns nil.
func (r Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	parts := make([]string, len(failed))
	for i, o := range failed {
		parts[i] = o.Key + ": " + o.Err.Error()
	}
	return eris.Errorf("access: %d of %d categories failed (%s)", len(failed), len(r.Outcomes), strings.Join(parts, "; "))
}
