package breadcrumb

import (
	"fmt"

	"trimet-pipeline/internal/validate"
)

// Key identifies a breadcrumb in rejection logs.
func Key(b Breadcrumb) string {
	return fmt.Sprintf("trip=%d vehicle=%d act_time=%d", b.EventNoTrip, b.VehicleID, b.ActTime)
}

func Rules() []validate.Rule[Breadcrumb] {
	return []validate.Rule[Breadcrumb]{
		{Name: "opd_date_present", Field: "OPD_DATE", Tag: "required", Value: func(b Breadcrumb) any { return b.OPDDate }},
		{Name: "vehicle_id_positive", Field: "VEHICLE_ID", Tag: "gt=0", Value: func(b Breadcrumb) any { return b.VehicleID }},
		{Name: "act_time_in_day", Field: "ACT_TIME", Tag: "gte=0,lte=86399", Value: func(b Breadcrumb) any { return b.ActTime }},
		{Name: "latitude_range", Field: "GPS_LATITUDE", Tag: "gte=-90,lte=90", Value: func(b Breadcrumb) any { return b.Latitude }},
		{Name: "longitude_range", Field: "GPS_LONGITUDE", Tag: "gte=-180,lte=180", Value: func(b Breadcrumb) any { return b.Longitude }},
		{Name: "event_no_trip_positive", Field: "EVENT_NO_TRIP", Tag: "gt=0", Value: func(b Breadcrumb) any { return b.EventNoTrip }},
		{Name: "meters_non_negative", Field: "METERS", Tag: "gte=0", Value: func(b Breadcrumb) any { return b.Meters }},
		{Name: "speed_non_negative", Field: "SPEED", Tag: "gte=0", Value: func(b Breadcrumb) any { return b.Speed }},
		{
			Name:  "tstamp_present",
			Field: "TSTAMP",
			Value: func(b Breadcrumb) any { return b.Tstamp },
			Check: func(b Breadcrumb) bool { return !b.Tstamp.IsZero() },
		},
		{Name: "day_of_week_range", Field: "DAY_OF_WEEK", Tag: "gte=0,lte=6", Value: func(b Breadcrumb) any { return b.DayOfWeek }},
	}
}

func NewGate(opts ...validate.Option) *validate.Gate[Breadcrumb] {
	return validate.NewGate(Rules(), Key, opts...)
}
