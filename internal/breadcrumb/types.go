package breadcrumb

import (
	"encoding/json"
	"fmt"
	"time"
)

// OPDDateLayout is the operating-day format used by the breadcrumb feed,
// e.g. "08MAR2023:00:00:00".
const OPDDateLayout = "02Jan2006:15:04:05"

// MaxActTime is the last second of an operating day.
const MaxActTime = 86399

// The breadcrumb feed carries no route or direction. These constants stand in
// for them on every Trip row until an upstream source is modelled; they are
// not observed values.
const (
	UnmodeledRouteID   int64 = 0
	UnmodeledDirection       = "Out"
)

type ServiceKey string

const (
	Weekday  ServiceKey = "Weekday"
	Saturday ServiceKey = "Saturday"
	Sunday   ServiceKey = "Sunday"
)

// Raw is one GPS ping as published by the feed.
type Raw struct {
	EventNoTrip   int64    `json:"EVENT_NO_TRIP"`
	EventNoStop   int64    `json:"EVENT_NO_STOP"`
	OPDDate       string   `json:"OPD_DATE"`
	VehicleID     int64    `json:"VEHICLE_ID"`
	Meters        float64  `json:"METERS"`
	ActTime       int64    `json:"ACT_TIME"`
	GPSLongitude  *float64 `json:"GPS_LONGITUDE"`
	GPSLatitude   *float64 `json:"GPS_LATITUDE"`
	GPSSatellites *float64 `json:"GPS_SATELLITES,omitempty"`
	GPSHDOP       *float64 `json:"GPS_HDOP,omitempty"`
}

// Decode is the consumer-side decoder for one channel payload.
func Decode(data []byte) (Raw, error) {
	var r Raw
	if err := json.Unmarshal(data, &r); err != nil {
		return Raw{}, fmt.Errorf("decode breadcrumb: %w", err)
	}
	return r, nil
}

// Breadcrumb is a Raw record with its derived fields.
type Breadcrumb struct {
	Raw

	Tstamp    time.Time
	DayOfWeek int // 0 = Monday
	Latitude  float64
	Longitude float64
	Speed     float64 // meters per second
}

// Row is the breadcrumb table column order.
func (b Breadcrumb) Row() []any {
	return []any{b.Tstamp, b.Latitude, b.Longitude, b.Speed, b.EventNoTrip}
}

var Columns = []string{"tstamp", "latitude", "longitude", "speed", "trip_id"}

type Trip struct {
	TripID     int64
	RouteID    int64
	VehicleID  int64
	ServiceKey ServiceKey
	Direction  string
}

func (t Trip) Row() []any {
	return []any{t.TripID, t.RouteID, t.VehicleID, string(t.ServiceKey), t.Direction}
}

var TripColumns = []string{"trip_id", "route_id", "vehicle_id", "service_key", "direction"}

// ServiceKeyFor maps a Monday-based day of week to its service key.
func ServiceKeyFor(dayOfWeek int) ServiceKey {
	switch dayOfWeek {
	case 5:
		return Saturday
	case 6:
		return Sunday
	default:
		return Weekday
	}
}
