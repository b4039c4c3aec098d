package engine

import "time"

// marketOpenHour is the trading-day open, 1:00 PM Pacific.
const marketOpenHour = 13

var pacific *time.Location

func init() {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		loc = time.FixedZone("PST", -8*3600)
	}
	pacific = loc
}

// MarketOpen reports whether the market is open at t: weekdays from
// 1:00 PM Pacific. Orders still execute off-hours (fills are against the
// cached quote either way) but the fill is tagged so downstream consumers
// can tell simulated off-hours executions apart.
func MarketOpen(t time.Time) bool {
	local := t.In(pacific)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	return local.Hour() >= marketOpenHour
}
