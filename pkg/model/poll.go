package model

import "sort"

// Poll is the single active poll. Votes maps a voter to the option they chose;
// voting again replaces the earlier choice.
type Poll struct {
	Question  string
	CreatedBy string
	Votes     map[string]string
}

// NewPoll creates an empty poll.
func NewPoll(question, createdBy string) *Poll {
	return &Poll{
		Question:  question,
		CreatedBy: createdBy,
		Votes:     make(map[string]string),
	}
}

// Vote records (or replaces) a voter's option. It reports whether the voter
// had already voted.
func (p *Poll) Vote(voter, option string) (changed bool) {
	_, changed = p.Votes[voter]
	p.Votes[voter] = option
	return changed
}

// OptionCount is one row of a poll tally.
type OptionCount struct {
	Option string
	Count  int
}

// Tally counts votes per option, highest count first, ties by option name.
func (p *Poll) Tally() []OptionCount {
	counts := make(map[string]int)
	for _, opt := range p.Votes {
		counts[opt]++
	}
	result := make([]OptionCount, 0, len(counts))
	for opt, n := range counts {
		result = append(result, OptionCount{Option: opt, Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Option < result[j].Option
	})
	return result
}
