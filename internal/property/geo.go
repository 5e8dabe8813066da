package property

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
)

const earthRadiusMiles = 3958.8

// Point returns a WGS84 point for the coordinates.
func Point(lat, lng float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lng, lat}).SetSRID(4326)
}

// EncodePoint returns the EWKB encoding of the coordinates with SRID 4326.
func EncodePoint(lat, lng float64) ([]byte, error) {
	data, err := ewkb.Marshal(Point(lat, lng), ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "property: encode point")
	}
	return data, nil
}

// DistanceMiles returns the great-circle distance between two points.
func DistanceMiles(a, b *geom.Point) float64 {
	if a == nil || b == nil {
		return 0
	}
	lat1, lat2 := radians(a.Y()), radians(b.Y())
	dLat := lat2 - lat1
	dLng := radians(b.X() - a.X())

	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusMiles * math.Asin(math.Min(1, math.Sqrt(h)))
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
