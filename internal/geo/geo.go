// internal/geo/geo.go
// Package geo validates report coordinates and groups them into S2 cells.
package geo

import (
	"math"
	"sort"

	"github.com/golang/geo/s2"
)

// HotspotLevel is the S2 level used to bucket cases (cells of roughly 1 km).
const HotspotLevel = 13

// Valid reports whether lat/lon are finite and inside the WGS84 range.
func Valid(lat, lon float64) bool {
	if math.IsNaN(lat) || math.IsNaN(lon) || math.IsInf(lat, 0) || math.IsInf(lon, 0) {
		return false
	}
	return lat >= -90 && lat <= 90 && lon >= -180 && lon <= 180
}

// CellToken returns the token of the level-13 cell containing lat/lon.
func CellToken(lat, lon float64) string {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon)).Parent(HotspotLevel).ToToken()
}

// CellCenter returns the centre of the cell named by token.
func CellCenter(token string) (lat, lon float64, ok bool) {
	id := s2.CellIDFromToken(token)
	if !id.IsValid() {
		return 0, 0, false
	}
	ll := id.LatLng()
	return ll.Lat.Degrees(), ll.Lng.Degrees(), true
}

type aggrUnit struct {
	cnt      int
	open     int
	origCell s2.CellID
}

// Aggregator counts points per cell at a fixed level.
type Aggregator struct {
	level int
	aggrs map[s2.CellID]*aggrUnit
}

// Cell is one aggregated bucket.
type Cell struct {
	Token     string
	Latitude  float64
	Longitude float64
	Count     int
	Open      int
}

func NewAggregator(level int) *Aggregator {
	return &Aggregator{level: level, aggrs: make(map[s2.CellID]*aggrUnit)}
}

// Add counts one point; open marks points still awaiting repair.
func (a *Aggregator) Add(lat, lon float64, open bool) {
	pc := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon))
	parent := pc.Parent(a.level)
	u, ok := a.aggrs[parent]
	if !ok {
		u = &aggrUnit{}
		a.aggrs[parent] = u
	}
	u.cnt++
	if open {
		u.open++
	}
	u.origCell = pc
}

// Top returns the n busiest cells, ties broken by token.
// A cell holding a single point reports that point's position.
func (a *Aggregator) Top(n int) []Cell {
	out := make([]Cell, 0, len(a.aggrs))
	for c, u := range a.aggrs {
		ll := c.LatLng()
		if u.cnt == 1 {
			ll = u.origCell.LatLng()
		}
		out = append(out, Cell{
			Token:     c.ToToken(),
			Latitude:  ll.Lat.Degrees(),
			Longitude: ll.Lng.Degrees(),
			Count:     u.cnt,
			Open:      u.open,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Token < out[j].Token
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
