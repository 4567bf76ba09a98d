package textutil

import (
	"fmt"
	"time"
)

// TimeAgo renders a unix-seconds timestamp as a coarse relative label
// ("just now", "5 minutes ago", "2 days ago") for the video list pane.
// A zero or future timestamp renders as "just now".
func TimeAgo(unixSeconds int64, now time.Time) string {
	if unixSeconds <= 0 {
		return "just now"
	}
	d := now.Sub(time.Unix(unixSeconds, 0))
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d.Minutes()), "minute")
	case d < 24*time.Hour:
		return plural(int(d.Hours()), "hour")
	case d < 30*24*time.Hour:
		return plural(int(d.Hours()/24), "day")
	case d < 365*24*time.Hour:
		return plural(int(d.Hours()/(24*30)), "month")
	default:
		return plural(int(d.Hours()/(24*365)), "year")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}
