package selector

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MOVE contracts settle at 15:30 IST regardless of venue server timezone,
// so expiry codes resolve against the Kolkata calendar.
const (
	settlementHour   = 15
	settlementMinute = 30
)

var istLocation = loadIST()

func loadIST() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		// Containers without tzdata still need correct wall times.
		return time.FixedZone("IST", 5*3600+30*60)
	}
	return loc
}

// ResolveExpiry converts an expiry code into the settlement instant it
// names, relative to now. Supported codes:
//
//	D, D+n    daily settlement today / n days out
//	W, W+n    the upcoming Friday (exclusive of today) / n weeks beyond it
//	M, M+n    last Friday of this month, rolling to next month once this
//	          month's has settled / last Friday of the month n months out
//
// Codes are case-insensitive. An unrecognized code is an error.
func ResolveExpiry(code string, now time.Time) (time.Time, error) {
	normalized := strings.ToUpper(strings.TrimSpace(code))
	ist := now.In(istLocation)

	switch {
	case normalized == "D":
		return atSettlement(ist), nil

	case strings.HasPrefix(normalized, "D+"):
		n, err := parseOffsetDigits(normalized[2:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expiry code %q", code)
		}
		return atSettlement(ist.AddDate(0, 0, n)), nil

	case normalized == "W":
		return atSettlement(nextFriday(ist)), nil

	case strings.HasPrefix(normalized, "W+"):
		n, err := parseOffsetDigits(normalized[2:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expiry code %q", code)
		}
		return atSettlement(nextFriday(ist).AddDate(0, 0, 7*n)), nil

	case normalized == "M":
		expiry := atSettlement(lastFridayOfMonth(ist.Year(), ist.Month()))
		if ist.After(expiry) {
			next := time.Date(ist.Year(), ist.Month(), 1, 0, 0, 0, 0, istLocation).AddDate(0, 1, 0)
			expiry = atSettlement(lastFridayOfMonth(next.Year(), next.Month()))
		}
		return expiry, nil

	case strings.HasPrefix(normalized, "M+"):
		n, err := parseOffsetDigits(normalized[2:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid expiry code %q", code)
		}
		target := time.Date(ist.Year(), ist.Month(), 1, 0, 0, 0, 0, istLocation).AddDate(0, n, 0)
		return atSettlement(lastFridayOfMonth(target.Year(), target.Month())), nil
	}

	return time.Time{}, fmt.Errorf("invalid expiry code %q", code)
}

func parseOffsetDigits(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative offset %d", n)
	}
	return n, nil
}

func atSettlement(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), settlementHour, settlementMinute, 0, 0, istLocation)
}

// nextFriday returns the first Friday strictly after from. Asking on a
// Friday yields the following week's Friday, matching how the venue rolls
// its weekly listings on settlement day.
func nextFriday(from time.Time) time.Time {
	ahead := (int(time.Friday) - int(from.Weekday()) + 7) % 7
	if ahead == 0 {
		ahead = 7
	}
	return from.AddDate(0, 0, ahead)
}

func lastFridayOfMonth(year int, month time.Month) time.Time {
	day := time.Date(year, month, 1, 0, 0, 0, 0, istLocation).AddDate(0, 1, -1)
	for day.Weekday() != time.Friday {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

// sameSettlementDay reports whether two instants fall on the same IST
// calendar date. Contract settlement timestamps arrive as UTC instants, so
// matching an expiry code to a contract happens at day granularity.
func sameSettlementDay(a, b time.Time) bool {
	ay, am, ad := a.In(istLocation).Date()
	by, bm, bd := b.In(istLocation).Date()
	return ay == by && am == bm && ad == bd
}
