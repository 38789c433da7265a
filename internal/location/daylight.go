package location

import (
	"fmt"
	"time"

	"github.com/sj14/astral/pkg/astral"
)

// Daylight describes the sun at a reading's position on a given day.
type Daylight struct {
	Sunrise time.Time `json:"sunrise"`
	Sunset  time.Time `json:"sunset"`
	Dark    bool      `json:"dark"` // before civil dawn or after civil dusk
}

// DaylightAt computes sun events for r's position on t's date.
// Polar day/night makes astral fail; callers treat that as "no hint".
func DaylightAt(r Reading, t time.Time) (Daylight, error) {
	obs := astral.Observer{Latitude: r.Latitude, Longitude: r.Longitude}
	date := t.UTC()

	dawn, err := astral.Dawn(obs, date, astral.DepressionCivil)
	if err != nil {
		return Daylight{}, fmt.Errorf("failed to calculate civil dawn: %w", err)
	}
	sunrise, err := astral.Sunrise(obs, date)
	if err != nil {
		return Daylight{}, fmt.Errorf("failed to calculate sunrise: %w", err)
	}
	sunset, err := astral.Sunset(obs, date)
	if err != nil {
		return Daylight{}, fmt.Errorf("failed to calculate sunset: %w", err)
	}
	dusk, err := astral.Dusk(obs, date, astral.DepressionCivil)
	if err != nil {
		return Daylight{}, fmt.Errorf("failed to calculate civil dusk: %w", err)
	}

	return Daylight{
		Sunrise: sunrise,
		Sunset:  sunset,
		Dark:    t.Before(dawn) || t.After(dusk),
	}, nil
}
