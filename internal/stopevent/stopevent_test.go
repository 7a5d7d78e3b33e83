package stopevent

import (
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trimet-pipeline/internal/validate"
)

const page = `<!DOCTYPE html>
<html><body>
<h1>Trimet CAD/AVL stop data for 2023-03-08</h1>
<table border="1">
  <tr><th>vehicle_number</th><th>leave_time</th><th>direction</th><th>stop_time</th></tr>
  <tr><td> 3401 </td><td>31400</td><td>1</td><td>31320</td></tr>
  <tr><td>3401</td><td>31500</td></tr>
  <tr><td>3402</td><td>32000</td><td>0</td><td>31990</td></tr>
</table>
<table><tr><th>other</th></tr><tr><td>x</td></tr></table>
</body></html>`

func TestParseHTMLTable(t *testing.T) {
	recs, err := ParseHTMLTable(strings.NewReader(page))
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, "3401", recs[0].VehicleNumber)
	assert.Equal(t, "31400", recs[0].LeaveTime)
	assert.Equal(t, "1", recs[0].Direction)
	assert.Equal(t, "31320", recs[0].StopTime)
	assert.Empty(t, recs[0].Train)

	assert.Equal(t, "3402", recs[1].VehicleNumber)
}

func TestParseHTMLTableWithoutTable(t *testing.T) {
	recs, err := ParseHTMLTable(strings.NewReader("<html><body>no data</body></html>"))
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRowFollowsColumnOrder(t *testing.T) {
	m := make(map[string]string, len(Columns))
	for _, c := range Columns {
		m[c] = c
	}
	row := FromMap(m).Row()
	require.Len(t, row, 24)
	for i, c := range Columns {
		assert.Equal(t, c, row[i])
	}
}

func valid() Raw {
	return Raw{
		VehicleNumber: "3401",
		LeaveTime:     "31400",
		Direction:     "1",
		ServiceKey:    "W",
		TripNumber:    "220",
		StopTime:      "31320",
		ArriveTime:    "31300",
		Dwell:         "5",
		LocationID:    "1234",
		EstimatedLoad: "",
		MaximumSpeed:  "30",
	}
}

func TestRulesAdmitValidRow(t *testing.T) {
	g := NewGate(validate.WithLogger(zerolog.Nop()))
	_, ok := g.Check(valid())
	assert.True(t, ok)
}

func TestRulesEachRejectsOneViolation(t *testing.T) {
	tests := []struct {
		name   string
		rule   string
		mutate func(*Raw)
	}{
		{"vehicle not digits", "vehicle_number_digits", func(r *Raw) { r.VehicleNumber = "34A1" }},
		{"blank stop time", "stop_time_present", func(r *Raw) { r.StopTime = "   " }},
		{"speed too high", "maximum_speed_range", func(r *Raw) { r.MaximumSpeed = "71" }},
		{"speed not a number", "maximum_speed_range", func(r *Raw) { r.MaximumSpeed = "fast" }},
		{"direction 2", "direction_known", func(r *Raw) { r.Direction = "2" }},
		{"trip empty", "trip_number_digits", func(r *Raw) { r.TripNumber = "" }},
		{"service key X", "service_key_known", func(r *Raw) { r.ServiceKey = "X" }},
		{"arrive after leave", "arrive_before_leave", func(r *Raw) { r.ArriveTime = "31500" }},
		{"unknown load", "estimated_load_known", func(r *Raw) { r.EstimatedLoad = "full" }},
		{"negative dwell", "dwell_non_negative", func(r *Raw) { r.Dwell = "-3" }},
		{"fractional dwell", "dwell_non_negative", func(r *Raw) { r.Dwell = "1.5" }},
		{"location not digits", "location_id_digits", func(r *Raw) { r.LocationID = "12-4" }},
	}
	g := NewGate(validate.WithLogger(zerolog.Nop()))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid()
			tt.mutate(&r)
			rej, ok := g.Check(r)
			require.False(t, ok)
			assert.Equal(t, tt.rule, rej.Rule)
			assert.Equal(t, Key(r), rej.Key)
		})
	}
}

func TestArriveNotAfterLeave(t *testing.T) {
	assert.True(t, arriveNotAfterLeave("900", "10000"))
	assert.False(t, arriveNotAfterLeave("10000", "900"))
	assert.True(t, arriveNotAfterLeave("31300", "31300"))
	assert.True(t, arriveNotAfterLeave("08:00", "09:00"))
}

func TestDecode(t *testing.T) {
	r, err := Decode([]byte(`{"vehicle_number":"3401","direction":"0"}`))
	require.NoError(t, err)
	assert.Equal(t, "3401", r.VehicleNumber)
	assert.Equal(t, "0", r.Direction)

	_, err = Decode([]byte(`[`))
	assert.Error(t, err)
}
