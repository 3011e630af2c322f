package model

import "time"

// TechLocation mirrors tech_locations. There is at most one row per
// repair and it is overwritten on every publish.
type TechLocation struct {
	RepairID     string    `db:"repair_id" json:"repair_id"`
	TechnicianID uint64    `db:"technician_id" json:"technician_id"`
	Lat          float64   `db:"lat" json:"lat"`
	Lng          float64   `db:"lng" json:"lng"`
	Heading      float64   `db:"heading" json:"heading"`
	Speed        float64   `db:"speed" json:"speed"`
	Accuracy     float64   `db:"accuracy" json:"accuracy"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}
