package codec

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Geo is the boundary form of a geographic coordinate pair.
type Geo struct {
	Lat float64
	Lng float64
}

// Geo precisions. The stored width selects the precision: 4 bytes holds two
// 16 bit fixed point values at 2 decimal places (~1.1km), 8 bytes two 32 bit
// values at 7 decimal places (~11mm), 16 bytes two raw float64 values.
const (
	Geo4Bytes  = 4
	Geo8Bytes  = 8
	Geo16Bytes = 16

	geo4Scale = 100
	geo8Scale = 1e7
)

// PutGeo writes g into b. The precision is taken from len(b), which must be
// one of the three geo widths. Coordinates outside lat [-90,90] or
// lng [-180,180] are rejected.
func PutGeo(b []byte, g Geo) error {
	if g.Lat < -90 || g.Lat > 90 || g.Lng < -180 || g.Lng > 180 {
		return fmt.Errorf("lat %v lng %v: %w", g.Lat, g.Lng, ErrOutOfRange)
	}
	switch len(b) {
	case Geo4Bytes:
		PutInt(b[0:2], int64(math.Round(g.Lat*geo4Scale)))
		PutInt(b[2:4], int64(math.Round(g.Lng*geo4Scale)))
	case Geo8Bytes:
		PutInt(b[0:4], int64(math.Round(g.Lat*geo8Scale)))
		PutInt(b[4:8], int64(math.Round(g.Lng*geo8Scale)))
	case Geo16Bytes:
		binary.BigEndian.PutUint64(b[0:8], math.Float64bits(g.Lat))
		binary.BigEndian.PutUint64(b[8:16], math.Float64bits(g.Lng))
	default:
		return ErrBadGeoSize
	}
	return nil
}

// GeoValue reads a coordinate pair from b, with the precision selected by
// len(b).
func GeoValue(b []byte) (Geo, error) {
	switch len(b) {
	case Geo4Bytes:
		return Geo{
			Lat: float64(Int(b[0:2])) / geo4Scale,
			Lng: float64(Int(b[2:4])) / geo4Scale,
		}, nil
	case Geo8Bytes:
		return Geo{
			Lat: float64(Int(b[0:4])) / geo8Scale,
			Lng: float64(Int(b[4:8])) / geo8Scale,
		}, nil
	case Geo16Bytes:
		return Geo{
			Lat: math.Float64frombits(binary.BigEndian.Uint64(b[0:8])),
			Lng: math.Float64frombits(binary.BigEndian.Uint64(b[8:16])),
		}, nil
	default:
		return Geo{}, ErrBadGeoSize
	}
}
