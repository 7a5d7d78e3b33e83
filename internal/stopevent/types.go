package stopevent

import (
	"encoding/json"
	"fmt"
)

// Columns is the stop_events column order used by the bulk load.
var Columns = []string{
	"vehicle_number", "leave_time", "train", "route_number", "direction",
	"service_key", "trip_number", "stop_time", "arrive_time", "dwell",
	"location_id", "door", "lift", "ons", "offs", "estimated_load",
	"maximum_speed", "train_mileage", "pattern_distance", "location_distance",
	"x_coordinate", "y_coordinate", "data_source", "schedule_status",
}

// Raw is one scraped stop-event row. Every field is kept as the text that
// appeared in the source table.
type Raw struct {
	VehicleNumber    string `json:"vehicle_number"`
	LeaveTime        string `json:"leave_time"`
	Train            string `json:"train"`
	RouteNumber      string `json:"route_number"`
	Direction        string `json:"direction"`
	ServiceKey       string `json:"service_key"`
	TripNumber       string `json:"trip_number"`
	StopTime         string `json:"stop_time"`
	ArriveTime       string `json:"arrive_time"`
	Dwell            string `json:"dwell"`
	LocationID       string `json:"location_id"`
	Door             string `json:"door"`
	Lift             string `json:"lift"`
	Ons              string `json:"ons"`
	Offs             string `json:"offs"`
	EstimatedLoad    string `json:"estimated_load"`
	MaximumSpeed     string `json:"maximum_speed"`
	TrainMileage     string `json:"train_mileage"`
	PatternDistance  string `json:"pattern_distance"`
	LocationDistance string `json:"location_distance"`
	XCoordinate      string `json:"x_coordinate"`
	YCoordinate      string `json:"y_coordinate"`
	DataSource       string `json:"data_source"`
	ScheduleStatus   string `json:"schedule_status"`
}

// Row returns the values in Columns order.
func (r Raw) Row() []any {
	return []any{
		r.VehicleNumber, r.LeaveTime, r.Train, r.RouteNumber, r.Direction,
		r.ServiceKey, r.TripNumber, r.StopTime, r.ArriveTime, r.Dwell,
		r.LocationID, r.Door, r.Lift, r.Ons, r.Offs, r.EstimatedLoad,
		r.MaximumSpeed, r.TrainMileage, r.PatternDistance, r.LocationDistance,
		r.XCoordinate, r.YCoordinate, r.DataSource, r.ScheduleStatus,
	}
}

// FromMap builds a Raw from a header → cell mapping. Unknown headers are
// ignored and missing ones stay empty.
func FromMap(m map[string]string) Raw {
	return Raw{
		VehicleNumber:    m["vehicle_number"],
		LeaveTime:        m["leave_time"],
		Train:            m["train"],
		RouteNumber:      m["route_number"],
		Direction:        m["direction"],
		ServiceKey:       m["service_key"],
		TripNumber:       m["trip_number"],
		StopTime:         m["stop_time"],
		ArriveTime:       m["arrive_time"],
		Dwell:            m["dwell"],
		LocationID:       m["location_id"],
		Door:             m["door"],
		Lift:             m["lift"],
		Ons:              m["ons"],
		Offs:             m["offs"],
		EstimatedLoad:    m["estimated_load"],
		MaximumSpeed:     m["maximum_speed"],
		TrainMileage:     m["train_mileage"],
		PatternDistance:  m["pattern_distance"],
		LocationDistance: m["location_distance"],
		XCoordinate:      m["x_coordinate"],
		YCoordinate:      m["y_coordinate"],
		DataSource:       m["data_source"],
		ScheduleStatus:   m["schedule_status"],
	}
}

func Decode(data []byte) (Raw, error) {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return Raw{}, fmt.Errorf("decode stop event: %w", err)
	}
	return r, nil
}
