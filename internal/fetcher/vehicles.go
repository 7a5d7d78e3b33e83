package fetcher

import (
	"fmt"
	"os"
	"strings"

	"github.com/gocarina/gocsv"
)

type vehicleRow struct {
	ID string `csv:"vehicle_id"`
}

// ReadVehicleIDs reads a headerless single-column CSV of vehicle ids.
func ReadVehicleIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vehicle ids: %w", err)
	}
	defer f.Close()

	var rows []vehicleRow
	if err := gocsv.UnmarshalWithoutHeaders(f, &rows); err != nil {
		return nil, fmt.Errorf("parse vehicle ids %s: %w", path, err)
	}
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if id := strings.TrimSpace(r.ID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
