package breadcrumb

import (
	"sort"
	"time"

	"github.com/rs/zerolog"
)

// Derive computes timestamps, speeds and defaulted coordinates for one batch.
// Records whose OPD_DATE does not parse are dropped and counted in skipped.
// The result is sorted by (trip, tstamp, vehicle).
func Derive(raws []Raw, loc *time.Location, logger zerolog.Logger) (rows []Breadcrumb, skipped int) {
	if loc == nil {
		loc = time.Local
	}
	rows = make([]Breadcrumb, 0, len(raws))
	for _, r := range raws {
		opd, err := time.ParseInLocation(OPDDateLayout, r.OPDDate, loc)
		if err != nil {
			logger.Warn().
				Int64("trip", r.EventNoTrip).
				Int64("vehicle", r.VehicleID).
				Str("opd_date", r.OPDDate).
				Err(err).
				Msg("unparseable OPD_DATE, record excluded")
			skipped++
			continue
		}
		rows = append(rows, Breadcrumb{
			Raw:       r,
			Tstamp:    Timestamp(opd, r.ActTime),
			DayOfWeek: mondayBased(opd.Weekday()),
			Latitude:  orZero(r.GPSLatitude),
			Longitude: orZero(r.GPSLongitude),
		})
	}

	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.EventNoTrip != b.EventNoTrip {
			return a.EventNoTrip < b.EventNoTrip
		}
		if !a.Tstamp.Equal(b.Tstamp) {
			return a.Tstamp.Before(b.Tstamp)
		}
		return a.VehicleID < b.VehicleID
	})

	for start := 0; start < len(rows); {
		end := start + 1
		for end < len(rows) && rows[end].EventNoTrip == rows[start].EventNoTrip {
			end++
		}
		fillSpeeds(rows[start:end])
		start = end
	}
	return rows, skipped
}

// Timestamp is the operating day's midnight plus actTime seconds, with
// actTime capped at the last second of the day.
func Timestamp(opd time.Time, actTime int64) time.Time {
	y, m, d := opd.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, opd.Location())
	return midnight.Add(time.Duration(min(actTime, MaxActTime)) * time.Second)
}

// fillSpeeds computes speeds for one trip group, already sorted. Rows with no
// usable predecessor take the next defined speed in the same group, or 0.
func fillSpeeds(group []Breadcrumb) {
	defined := make([]bool, len(group))
	for i := 1; i < len(group); i++ {
		dt := group[i].ActTime - group[i-1].ActTime
		if dt == 0 {
			continue
		}
		group[i].Speed = (group[i].Meters - group[i-1].Meters) / float64(dt)
		defined[i] = true
	}

	next, haveNext := 0.0, false
	for i := len(group) - 1; i >= 0; i-- {
		if defined[i] {
			next, haveNext = group[i].Speed, true
		} else if haveNext {
			group[i].Speed = next
		} else {
			group[i].Speed = 0
		}
		if group[i].Speed < 0 {
			group[i].Speed = 0
		}
	}
}

// DeriveTrips emits one Trip per distinct EVENT_NO_TRIP, taken from the first
// row of each trip in rows' order.
func DeriveTrips(rows []Breadcrumb) []Trip {
	seen := make(map[int64]struct{})
	var trips []Trip
	for _, b := range rows {
		if _, ok := seen[b.EventNoTrip]; ok {
			continue
		}
		seen[b.EventNoTrip] = struct{}{}
		trips = append(trips, Trip{
			TripID:     b.EventNoTrip,
			RouteID:    UnmodeledRouteID,
			VehicleID:  b.VehicleID,
			ServiceKey: ServiceKeyFor(b.DayOfWeek),
			Direction:  UnmodeledDirection,
		})
	}
	return trips
}

func mondayBased(d time.Weekday) int {
	return (int(d) + 6) % 7
}

func orZero(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
