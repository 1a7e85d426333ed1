package appointments

import (
	"sort"
	"strings"
	"time"
)

// Rule is a recurrence frequency.
type Rule string

const (
	RuleWeekly   Rule = "WEEKLY"
	RuleBiweekly Rule = "BIWEEKLY"
	RuleMonthly  Rule = "MONTHLY"
)

// MaxOccurrences caps a single series.
const MaxOccurrences = 104

// ParseRule normalizes r, defaulting to WEEKLY.
func ParseRule(r string) (Rule, error) {
	switch Rule(strings.ToUpper(strings.TrimSpace(r))) {
	case "", RuleWeekly:
		return RuleWeekly, nil
	case RuleBiweekly:
		return RuleBiweekly, nil
	case RuleMonthly:
		return RuleMonthly, nil
	default:
		return "", ErrInvalidRule
	}
}

// GenerateDates expands a start date into count occurrences of rule.
func GenerateDates(start string, count int, rule Rule) ([]string, error) {
	first, err := time.Parse(DateLayout, start)
	if err != nil {
		return nil, ErrInvalidDate
	}
	if count <= 0 {
		return nil, ErrNoDates
	}
	if count > MaxOccurrences {
		return nil, ErrTooManyDates
	}
	dates := make([]string, 0, count)
	for i := 0; i < count; i++ {
		var d time.Time
		switch rule {
		case RuleBiweekly:
			d = first.AddDate(0, 0, 14*i)
		case RuleMonthly:
			d = first.AddDate(0, i, 0)
		default:
			d = first.AddDate(0, 0, 7*i)
		}
		dates = append(dates, d.Format(DateLayout))
	}
	return dates, nil
}

// normalizeDates validates, dedupes and sorts explicit series dates.
func normalizeDates(dates []string) ([]string, error) {
	if len(dates) == 0 {
		return nil, ErrNoDates
	}
	seen := make(map[string]struct{}, len(dates))
	out := make([]string, 0, len(dates))
	for _, d := range dates {
		d = strings.TrimSpace(d)
		if err := ValidateDate(d); err != nil {
			return nil, err
		}
		if _, dup := seen[d]; dup {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	if len(out) > MaxOccurrences {
		return nil, ErrTooManyDates
	}
	sort.Strings(out)
	return out, nil
}
