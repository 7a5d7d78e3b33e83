package fetcher

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trimet-pipeline/internal/stopevent"
)

const stopPage = `<html><body><h2>Stop events</h2><table>
<tr><th>vehicle_number</th><th>trip_number</th><th>stop_time</th></tr>
<tr><td>3401</td><td>220</td><td>31320</td></tr>
<tr><td>3401</td><td>220</td></tr>
</table></body></html>`

func feed(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/breadcrumbs", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("vehicle_id") {
		case "3401":
			_, _ = w.Write([]byte(`[{"EVENT_NO_TRIP":1,"ACT_TIME":10},{"EVENT_NO_TRIP":1,"ACT_TIME":20}]`))
		case "9999":
			_, _ = w.Write([]byte(`<html>oops</html>`))
		default:
			http.NotFound(w, r)
		}
	})
	mux.HandleFunc("/stops", func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		if r.URL.Query().Get("vehicle_num") == "3401" {
			_, _ = w.Write([]byte(stopPage))
			return
		}
		_, _ = w.Write([]byte("<html>no events</html>"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestReadVehicleIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vehicle_ids.csv")
	require.NoError(t, os.WriteFile(path, []byte("3401\n 3402 \n\n4010\n"), 0o644))

	ids, err := ReadVehicleIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"3401", "3402", "4010"}, ids)
}

func TestReadVehicleIDsMissingFile(t *testing.T) {
	_, err := ReadVehicleIDs(filepath.Join(t.TempDir(), "nope.csv"))
	require.Error(t, err)
}

func TestClientBreadcrumbs(t *testing.T) {
	srv := feed(t)
	c := NewClient(time.Second)
	ctx := context.Background()

	recs, err := c.Breadcrumbs(ctx, srv.URL+"/breadcrumbs", "3401")
	require.NoError(t, err)
	assert.Len(t, recs, 2)

	_, err = c.Breadcrumbs(ctx, srv.URL+"/breadcrumbs", "1")
	assert.ErrorIs(t, err, ErrNoData)

	_, err = c.Breadcrumbs(ctx, srv.URL+"/breadcrumbs", "9999")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestClientStopEvents(t *testing.T) {
	srv := feed(t)
	c := NewClient(time.Second)

	recs, err := c.StopEvents(context.Background(), srv.URL+"/stops", "3401")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "3401", recs[0].VehicleNumber)
	assert.Equal(t, "31320", recs[0].StopTime)

	_, err = c.StopEvents(context.Background(), srv.URL+"/stops", "1")
	assert.ErrorIs(t, err, ErrNoData)
}

func TestGatherWritesOneFilePerVehicle(t *testing.T) {
	srv := feed(t)
	dir := t.TempDir()

	g := NewGatherer(NewClient(time.Second), srv.URL+"/breadcrumbs", srv.URL+"/stops")
	g.Log = zerolog.Nop()
	g.Now = func() time.Time { return time.Date(2023, 1, 5, 0, 0, 0, 0, time.UTC) }

	res := g.Breadcrumbs(context.Background(), []string{"3401", "1", "9999"}, Spool{Dir: dir})
	assert.Equal(t, Result{Vehicles: 3, Files: 1, Records: 2}, res)

	data, err := os.ReadFile(filepath.Join(dir, "bus_3401_2023-01-05.json"))
	require.NoError(t, err)
	var recs []json.RawMessage
	require.NoError(t, json.Unmarshal(data, &recs))
	assert.Len(t, recs, 2)

	res = g.StopEvents(context.Background(), []string{"3401", "1"}, Spool{Dir: dir})
	assert.Equal(t, Result{Vehicles: 2, Files: 1, Records: 1}, res)

	data, err = os.ReadFile(filepath.Join(dir, "stop_3401_2023-01-05.json"))
	require.NoError(t, err)
	var stops []stopevent.Raw
	require.NoError(t, json.Unmarshal(data, &stops))
	require.Len(t, stops, 1)
	assert.Equal(t, "220", stops[0].TripNumber)
}
