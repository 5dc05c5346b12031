package session

import (
	"chronicles/pkg/schema"
)

// TokenCounter reports how many tokens a piece of text costs.
type TokenCounter func(text string) int

type WindowOptions struct {
	// MaxTurns caps the number of turns sent, pinned system turns included.
	// <= 0 means no cap.
	MaxTurns int
	// TokenBudget caps the summed token count of the window. <= 0 disables it.
	TokenBudget int
	Counter     TokenCounter
}

// Window selects the turns sent to the completion endpoint. System turns stay
// pinned in front, then the newest conversation turns that fit. The newest
// turn is always kept. The input is never modified.
func Window(turns []schema.Turn, opts WindowOptions) []schema.Turn {
	var pinned, rest []schema.Turn
	for _, t := range turns {
		if t.Role == schema.RoleSystem {
			pinned = append(pinned, t)
		} else {
			rest = append(rest, t)
		}
	}

	if opts.MaxTurns > 0 {
		keep := max(opts.MaxTurns-len(pinned), 1)
		if len(rest) > keep {
			rest = rest[len(rest)-keep:]
		}
	}

	if opts.TokenBudget > 0 && opts.Counter != nil {
		used := 0
		for _, t := range pinned {
			used += opts.Counter(t.Content)
		}
		costs := make([]int, len(rest))
		for i, t := range rest {
			costs[i] = opts.Counter(t.Content)
			used += costs[i]
		}
		drop := 0
		for used > opts.TokenBudget && drop < len(rest)-1 {
			used -= costs[drop]
			drop++
		}
		rest = rest[drop:]
	}

	out := make([]schema.Turn, 0, len(pinned)+len(rest))
	out = append(out, pinned...)
	return append(out, rest...)
}
