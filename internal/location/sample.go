package location

import (
	"time"

	"github.com/pkg/errors"

	"github.com/iliyamo/repair-sync/internal/model"
)

// Sample is one position fix from the device.
type Sample struct {
	Lat      float64   `json:"lat"`
	Lng      float64   `json:"lng"`
	Heading  float64   `json:"heading"`
	Speed    float64   `json:"speed"`
	Accuracy float64   `json:"accuracy"`
	At       time.Time `json:"at"`
}

// Validate checks the coordinate ranges.
func (s Sample) Validate() error {
	if s.Lat < -90 || s.Lat > 90 {
		return errors.Wrapf(model.ErrInvalidInput, "latitude %f out of range", s.Lat)
	}
	if s.Lng < -180 || s.Lng > 180 {
		return errors.Wrapf(model.ErrInvalidInput, "longitude %f out of range", s.Lng)
	}
	if s.Speed < 0 || s.Accuracy < 0 {
		return errors.Wrap(model.ErrInvalidInput, "speed and accuracy must not be negative")
	}
	return nil
}

// Row converts the sample into the stored location of a repair.
func (s Sample) Row(repairID string, technicianID uint64) model.TechLocation {
	at := s.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	return model.TechLocation{
		RepairID:     repairID,
		TechnicianID: technicianID,
		Lat:          s.Lat,
		Lng:          s.Lng,
		Heading:      s.Heading,
		Speed:        s.Speed,
		Accuracy:     s.Accuracy,
		UpdatedAt:    at,
	}
}
