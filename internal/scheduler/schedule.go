package scheduler

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	gocron "github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"

	"github.com/govdl/govdl/internal/model"
)

// defaultEvery is the poll interval when the config leaves the poll block
// out entirely.
const defaultEvery = 30 * time.Second

// minEvery keeps a typo like "1s" from hammering the platforms.
const minEvery = time.Second

// ParseCron validates a 5-field cron expression or an @macro.
func ParseCron(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}

	// Macros / @every handled by ParseStandard (it also supports plain 5-field specs).
	if strings.HasPrefix(e, "@") {
		_, err := cron.ParseStandard(e)
		return err
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	// len == 5
	_, err := parser5.Parse(e)
	return err
}

var everyRx = regexp.MustCompile(`^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$`)

// ParseEvery parses strings matching ^(\d+d)?(\d+h)?(\d+m)?(\d+s)?$ into
// time.Duration. Supports ordered day/hour/minute/second segments. Empty
// string rejected.
func ParseEvery(s string) (time.Duration, error) {
	if s == "" {
		return 0, errors.New("empty duration")
	}
	m := everyRx.FindStringSubmatch(s)
	if m == nil {
		return 0, errors.New("invalid duration format")
	}
	var total time.Duration
	for _, seg := range m[1:] { // groups 1..4
		if seg == "" {
			continue
		}
		// seg like "12d"
		numStr := seg[:len(seg)-1]
		val, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			return 0, errors.New("invalid number in " + seg)
		}
		var add time.Duration
		switch last := seg[len(seg)-1]; last {
		case 'd':
			add = time.Hour * 24 * time.Duration(val)
		case 'h':
			add = time.Hour * time.Duration(val)
		case 'm':
			add = time.Minute * time.Duration(val)
		case 's':
			add = time.Second * time.Duration(val)
		default:
			return 0, errors.New("unknown unit in " + seg)
		}
		if (add > 0 && total > time.Duration(math.MaxInt64)-add) ||
			(add < 0 && total < time.Duration(math.MinInt64)-add) {
			return 0, errors.New("duration overflow")
		}
		total += add
	}
	return total, nil
}

// newTimer builds the gocron scheduler that fires task on the configured
// cadence. A nil or empty poll block means the default interval.
func newTimer(poll *model.Poll, task func()) (gocron.Scheduler, error) {
	var job gocron.JobDefinition
	switch {
	case poll != nil && poll.Cron != "":
		if err := ParseCron(poll.Cron); err != nil {
			return nil, fmt.Errorf("parsing poll.cron: %w", err)
		}
		job = gocron.CronJob(poll.Cron, false)
	case poll != nil && poll.Every != "":
		d, err := ParseEvery(poll.Every)
		if err != nil {
			return nil, fmt.Errorf("parsing poll.every: %w", err)
		}
		if d < minEvery {
			return nil, fmt.Errorf("poll.every %s is below the minimum of %s", d, minEvery)
		}
		job = gocron.DurationJob(d)
	default:
		job = gocron.DurationJob(defaultEvery)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("initializing gocron scheduler: %w", err)
	}
	_, err = s.NewJob(
		job,
		gocron.NewTask(task),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing gocron job: %w", err)
	}
	return s, nil
}
