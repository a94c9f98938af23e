package health

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/MrWong99/scribe/internal/resilience"
)

// Pinger is implemented by dependencies that can be probed, such as the
// transcript archive.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping returns a checker that calls p.Ping.
func Ping(name string, p Pinger) Checker {
	return Checker{Name: name, Check: p.Ping}
}

// Flag returns a checker that fails with reason while ok reports false.
func Flag(name string, ok func() bool, reason string) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		if !ok() {
			return errors.New(reason)
		}
		return nil
	}}
}

// Breakers returns a checker that fails when every circuit breaker reported
// by states is open, meaning no backend can serve requests.
func Breakers(name string, states func() map[string]resilience.State) Checker {
	return Checker{Name: name, Check: func(context.Context) error {
		s := states()
		if len(s) == 0 {
			return nil
		}
		var open []string
		for _, n := range slices.Sorted(maps.Keys(s)) {
			if s[n] == resilience.StateOpen {
				open = append(open, n)
			}
		}
		if len(open) == len(s) {
			return fmt.Errorf("all circuits open: %s", strings.Join(open, ", "))
		}
		return nil
	}}
}
