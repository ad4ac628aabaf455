package sched

import (
	"time"

	"github.com/google/pprof/profile"

	"proc"
)

// Snapshot builds a pprof profile.Profile recording each environment's
// accumulated Runs as a sample, letting `pprof -top` report which
// environments the scheduler has favored — useful for spotting a runaway
// process starving the rest of the round-robin rotation.
func Snapshot() *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "scheduled", Unit: "count"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	fn := &profile.Function{ID: 1, Name: "env", SystemName: "env"}
	loc := &profile.Location{ID: 1, Line: []profile.Line{{Function: fn}}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	for i := 0; i < proc.NENV; i++ {
		e := proc.EnvAt(i)
		if e.Status == proc.EnvFree || e.Runs == 0 {
			continue
		}
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{int64(e.Runs)},
			Label:    map[string][]string{"env": {e.Status.String()}},
		})
	}
	return p
}
