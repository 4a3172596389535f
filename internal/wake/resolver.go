package wake

import (
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const lastResortDelay = 6 * time.Hour

// Rule is a single recurrence entry considered during wake computation.
type Rule struct {
	Expression string
	Active     bool
}

// Parser accepts standard five-field cron expressions (minute, hour,
// day-of-month, month, day-of-week) with *, ranges, steps and lists.
var Parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Resolver computes the next wake instant for a device from its recurrence
// rules. It is total: every input, including an empty or fully malformed
// rule set, resolves to an instant strictly after now.
type Resolver struct {
	logger *zap.Logger
}

// NewResolver constructs a Resolver. A nil logger is replaced with a no-op.
func NewResolver(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// NextWake returns the earliest next occurrence across the active rules,
// strictly after now. A rule that fails to parse, or that has no future
// occurrence at all, is skipped so one bad expression never blocks wake
// computation for the rest. With no usable
// rule the resolver falls back to the daily default time (today at HH:MM
// UTC if still ahead, otherwise tomorrow), and if the default itself is
// malformed, to now plus six hours.
func (r *Resolver) NextWake(rules []Rule, defaultTime string, now time.Time) time.Time {
	now = now.UTC()

	var earliest time.Time
	for _, rule := range rules {
		if !rule.Active {
			continue
		}
		schedule, err := Parser.Parse(rule.Expression)
		if err != nil {
			r.logger.Warn("skipping unparseable recurrence rule",
				zap.String("expression", rule.Expression),
				zap.Error(err))
			continue
		}
		occurrence := schedule.Next(now)
		if occurrence.IsZero() {
			// Parseable but never fires, e.g. "0 0 30 2 *".
			r.logger.Warn("skipping recurrence rule with no future occurrence",
				zap.String("expression", rule.Expression))
			continue
		}
		if earliest.IsZero() || occurrence.Before(earliest) {
			earliest = occurrence
		}
	}
	if !earliest.IsZero() {
		return earliest
	}

	return r.nextDailyDefault(defaultTime, now)
}

func (r *Resolver) nextDailyDefault(defaultTime string, now time.Time) time.Time {
	clock, err := time.Parse("15:04", defaultTime)
	if err != nil {
		r.logger.Warn("malformed default wake time",
			zap.String("default_time", defaultTime),
			zap.Error(err))
		return now.Add(lastResortDelay)
	}

	candidate := time.Date(now.Year(), now.Month(), now.Day(),
		clock.Hour(), clock.Minute(), 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	return candidate
}
