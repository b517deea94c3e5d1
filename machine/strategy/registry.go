package strategy

import (
	"fmt"
	"sort"
	"strings"
)

// Names lists the strategies ByName accepts.
func Names() []string {
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var constructors = map[string]func(seed int64, bound int) Strategy{
	"random":     func(seed int64, _ int) Strategy { return NewRandom(seed) },
	"coinflip":   func(seed int64, bound int) Strategy { return NewCoinFlip(seed, bound) },
	"dfs":        func(int64, int) Strategy { return NewDFS() },
	"roundrobin": func(seed int64, bound int) Strategy { return NewRoundRobin(seed, bound) },
	"pct":        func(seed int64, bound int) Strategy { return NewPCT(seed, bound) },
}

// ByName builds a strategy from its configuration name. bound is the
// strategy's tuning knob: coin flips for coinflip, delays for roundrobin
// and priority change points for pct. Other strategies ignore it.
func ByName(name string, seed int64, bound int) (Strategy, error) {
	ctor, ok := constructors[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q (want one of %s)", name, strings.Join(Names(), ", "))
	}
	if bound < 0 {
		return nil, fmt.Errorf("strategy bound cannot be negative: %d", bound)
	}
	return ctor(seed, bound), nil
}
