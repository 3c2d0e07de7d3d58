// Package geocode resolves free-text addresses to coordinates.
//
// A Geocoder is a single backend lookup. Resolver layers the address
// normalization and retry chain on top of one.
package geocode

import (
	"context"
	"fmt"

	"granix/internal/model"
)

// Geocoder looks up one query. A nil point with a nil error means no match.
type Geocoder interface {
	Geocode(ctx context.Context, query string, opts Options) (*model.GeoPoint, error)
}

// ViewBox is a lat/lon bounding box used to bias or restrict results.
type ViewBox struct {
	South float64 `yaml:"south"`
	West  float64 `yaml:"west"`
	North float64 `yaml:"north"`
	East  float64 `yaml:"east"`
}

// RosarioViewBox covers Rosario, Santa Fe.
var RosarioViewBox = ViewBox{South: -33.016, West: -60.75, North: -32.85, East: -60.6}

func (v ViewBox) IsZero() bool { return v == ViewBox{} }

// Contains reports whether p lies inside the box.
func (v ViewBox) Contains(p model.GeoPoint) bool {
	return p.Lat >= v.South && p.Lat <= v.North && p.Lon >= v.West && p.Lon <= v.East
}

type Options struct {
	CountryCodes string
	ViewBox      *ViewBox
	// Bounded restricts results to ViewBox instead of only preferring it.
	Bounded bool
}

func (o Options) key() string {
	if o.ViewBox == nil {
		return fmt.Sprintf("%s|-", o.CountryCodes)
	}
	v := o.ViewBox
	return fmt.Sprintf("%s|%.4f,%.4f,%.4f,%.4f|%t", o.CountryCodes, v.South, v.West, v.North, v.East, o.Bounded)
}
