package order

import "time"

// warehouseTZ is where the cutoff clock runs.
const warehouseTZ = "America/New_York"

// cutoffHour is when the warehouse closes.
const cutoffHour = 17

// ShipDate returns the next date the warehouse ships, formatted
// YYYY-MM-DD. Shipments go out Monday, Wednesday and Friday; after the
// cutoff the current day no longer counts.
func ShipDate(now time.Time) string {

	loc, err := time.LoadLocation(warehouseTZ)
	if err != nil {
		loc = time.UTC
	}
	t := now.In(loc)

	if t.Hour() >= cutoffHour {
		t = t.AddDate(0, 0, 1)
	}
	for !shipDay(t.Weekday()) {
		t = t.AddDate(0, 0, 1)
	}
	return t.Format("2006-01-02")
}

func shipDay(d time.Weekday) bool {
	return d == time.Monday || d == time.Wednesday || d == time.Friday
}
