package location

import (
	"math"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
)

// DefaultSpeed is used when the device reports no useful speed, roughly
// 30 km/h of city driving.
const DefaultSpeed = 8.33

// Estimate is the consumer-side arrival estimate.
type Estimate struct {
	DistanceMeters float64       `json:"distance_meters"`
	ETA            time.Duration `json:"eta"`
}

// EstimateArrival returns the great-circle distance between the
// technician and the destination and the time to cover it at speed
// meters per second.
func EstimateArrival(from, to orb.Point, speed float64) Estimate {
	d := geo.DistanceHaversine(from, to)
	if speed < 0.5 || math.IsNaN(speed) {
		speed = DefaultSpeed
	}
	eta := time.Duration(d / speed * float64(time.Second))
	return Estimate{DistanceMeters: d, ETA: eta.Round(time.Second)}
}

// Point builds an orb point from latitude and longitude.
func Point(lat, lng float64) orb.Point {
	return orb.Point{lng, lat}
}

// Interpolate returns n+1 evenly spaced points from a to b, both ends
// included. It is used to drive a simulated route.
func Interpolate(a, b orb.Point, n int) []orb.Point {
	if n < 1 {
		n = 1
	}
	out := make([]orb.Point, 0, n+1)
	for i := 0; i <= n; i++ {
		f := float64(i) / float64(n)
		out = append(out, orb.Point{a[0] + (b[0]-a[0])*f, a[1] + (b[1]-a[1])*f})
	}
	return out
}

// Bearing is the initial heading in degrees from a to b.
func Bearing(a, b orb.Point) float64 {
	return math.Mod(geo.Bearing(a, b)+360, 360)
}
