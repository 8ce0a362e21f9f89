package htcore

import "github.com/jonboulle/clockwork"

// Clock is the module's time source. Production code defaults to
// clockwork.NewRealClock(); tests inject clockwork.NewFakeClock() so the
// idle-expiration and reaper-cadence invariants in spec.md §8 can be
// exercised deterministically instead of with real sleeps, matching how
// docker/compose uses clockwork elsewhere in the pack.
type Clock = clockwork.Clock

func defaultClock() Clock { return clockwork.NewRealClock() }
