package stopevent

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"trimet-pipeline/internal/validate"
)

var estimatedLoads = []string{"", "low", "medium", "high"}

func Key(r Raw) string {
	return fmt.Sprintf("vehicle=%s trip=%s location=%s", r.VehicleNumber, r.TripNumber, r.LocationID)
}

func Rules() []validate.Rule[Raw] {
	return []validate.Rule[Raw]{
		{Name: "vehicle_number_digits", Field: "vehicle_number", Tag: "number", Value: func(r Raw) any { return r.VehicleNumber }},
		{Name: "stop_time_present", Field: "stop_time", Tag: "notblank", Value: func(r Raw) any { return r.StopTime }},
		{Name: "maximum_speed_range", Field: "maximum_speed", Tag: "gte=0,lte=70", Value: func(r Raw) any { return parseFloat(r.MaximumSpeed) }},
		{Name: "direction_known", Field: "direction", Tag: "oneof=0 1", Value: func(r Raw) any { return r.Direction }},
		{Name: "trip_number_digits", Field: "trip_number", Tag: "number", Value: func(r Raw) any { return r.TripNumber }},
		{Name: "service_key_known", Field: "service_key", Tag: "oneof=W S U", Value: func(r Raw) any { return r.ServiceKey }},
		{
			Name:  "arrive_before_leave",
			Field: "arrive_time",
			Value: func(r Raw) any { return r.ArriveTime + "/" + r.LeaveTime },
			Check: func(r Raw) bool { return arriveNotAfterLeave(r.ArriveTime, r.LeaveTime) },
		},
		{
			Name:  "estimated_load_known",
			Field: "estimated_load",
			Value: func(r Raw) any { return r.EstimatedLoad },
			Check: func(r Raw) bool { return slices.Contains(estimatedLoads, r.EstimatedLoad) },
		},
		{Name: "dwell_non_negative", Field: "dwell", Tag: "gte=0", Value: func(r Raw) any { return parseInt(r.Dwell) }},
		{Name: "location_id_digits", Field: "location_id", Tag: "number", Value: func(r Raw) any { return r.LocationID }},
	}
}

func NewGate(opts ...validate.Option) *validate.Gate[Raw] {
	return validate.NewGate(Rules(), Key, opts...)
}

// arriveNotAfterLeave compares numerically when both sides are integers
// (seconds since midnight in the feed) and as text otherwise.
func arriveNotAfterLeave(arrive, leave string) bool {
	a, errA := strconv.ParseInt(strings.TrimSpace(arrive), 10, 64)
	l, errL := strconv.ParseInt(strings.TrimSpace(leave), 10, 64)
	if errA == nil && errL == nil {
		return a <= l
	}
	return arrive <= leave
}

// parseFloat returns NaN for unparseable text so range tags reject it.
func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func parseInt(s string) float64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return math.NaN()
	}
	return float64(n)
}
