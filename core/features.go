package core

import (
	"fmt"

	geojson "github.com/paulmach/go.geojson"

	"github.com/signalsfoundry/orbit-tracker/model"
)

// Feature property keys.
const (
	PropName   = "name"
	PropIndex  = "index"
	PropHeight = "height"
)

// BuildFeatures turns a catalog and a matching sample batch into point
// features at [lon, lat]. Entries whose sample failed are left out.
func BuildFeatures(cat *Catalog, samples []Sample) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, s := range samples {
		if !s.OK {
			continue
		}
		e, ok := cat.Entry(s.Index)
		if !ok {
			continue
		}
		fc.AddFeature(NewPointFeature(e, s.State))
	}
	return fc
}

// NewPointFeature builds the render feature for one object.
func NewPointFeature(e CatalogEntry, geo model.GeodeticState) *geojson.Feature {
	f := geojson.NewPointFeature([]float64{geo.Longitude, geo.Latitude})
	f.SetProperty(PropName, e.Record.Name)
	f.SetProperty(PropIndex, e.Index)
	f.SetProperty(PropHeight, geo.Height)
	return f
}

// UpdatePointFeature moves a point feature and refreshes its height.
func UpdatePointFeature(f *geojson.Feature, geo model.GeodeticState) {
	if f.Geometry == nil || !f.Geometry.IsPoint() {
		f.Geometry = geojson.NewPointGeometry([]float64{geo.Longitude, geo.Latitude})
	} else {
		f.Geometry.Point = []float64{geo.Longitude, geo.Latitude}
	}
	f.SetProperty(PropHeight, geo.Height)
}

// FeatureIndex reads the index property, accepting the float form produced by
// a JSON round trip.
func FeatureIndex(f *geojson.Feature) (int, bool) {
	switch v := f.Properties[PropIndex].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}

// PopupText renders the marker popup, e.g. "ISS (ZARYA) (415.23 km)".
func PopupText(f *geojson.Feature) string {
	name, _ := f.PropertyString(PropName)
	height, _ := f.PropertyFloat64(PropHeight)
	return fmt.Sprintf("%s (%.2f km)", name, height)
}
