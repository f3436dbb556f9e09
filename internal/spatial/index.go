// Package spatial provides an immutable spatial index over planar geometries.
//
// Queries use an R-tree of bounding boxes as a pre-filter and GEOS for the exact
// predicate. All coordinates are assumed to share one linear unit, so distances
// and radii are directly comparable.
package spatial

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/tidwall/rtree"
	"github.com/twpayne/go-geos"
)

// Item is one indexed geometry.
type Item struct {
	Geometry *geos.Geom
	ID       string
}

// Index is a read-only spatial index. It is safe for concurrent queries once
// NewIndex has returned.
type Index struct {
	items []Item
	tree  rtree.RTreeG[int]
}

// NewIndex builds an index. Items with a missing or empty geometry are skipped.
func NewIndex(items []Item) *Index {
	ix := &Index{items: make([]Item, 0, len(items))}
	for _, item := range items {
		if item.Geometry == nil || item.Geometry.IsEmpty() {
			continue
		}
		b := item.Geometry.Bounds()
		ix.tree.Insert([2]float64{b.MinX, b.MinY}, [2]float64{b.MaxX, b.MaxY}, len(ix.items))
		ix.items = append(ix.items, item)
	}
	return ix
}

// Len returns the number of indexed geometries.
func (ix *Index) Len() int {
	return len(ix.items)
}

// Nearby returns every indexed item whose minimum distance to g is at most
// radius, ordered by ID. An empty query returns no items.
func (ix *Index) Nearby(g *geos.Geom, radius float64) []Item {
	if g == nil || g.IsEmpty() || radius < 0 || len(ix.items) == 0 {
		return []Item{}
	}

	b := g.Bounds()
	candidates := ix.search(b.MinX-radius, b.MinY-radius, b.MaxX+radius, b.MaxY+radius)

	result := make([]Item, 0, len(candidates))
	for _, i := range candidates {
		item := ix.items[i]
		if item.Geometry.Distance(g) <= radius {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result
}

// WithinDistance returns the ids of every indexed geometry whose minimum
// distance to g is at most radius.
func (ix *Index) WithinDistance(g *geos.Geom, radius float64) []string {
	items := ix.Nearby(g, radius)
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}

// ContainingOrMostOverlapping returns the id of the indexed geometry that
// contains g. When none does (data imprecision), it returns the one sharing the
// largest area with g, and for non-areal g the first one it touches. Ties go
// to the lowest id.
func (ix *Index) ContainingOrMostOverlapping(g *geos.Geom) (string, bool) {
	if g == nil || g.IsEmpty() || len(ix.items) == 0 {
		return "", false
	}

	b := g.Bounds()
	candidates := ix.search(b.MinX, b.MinY, b.MaxX, b.MaxY)
	items := make([]Item, 0, len(candidates))
	for _, i := range candidates {
		items = append(items, ix.items[i])
	}
	sortItems(items)

	for _, item := range items {
		if relate(item.Geometry, g, (*geos.Geom).Contains) {
			return item.ID, true
		}
	}

	bestID := ""
	bestArea := 0.0
	for _, item := range items {
		area := overlapArea(item.Geometry, g)
		if area > bestArea {
			bestID, bestArea = item.ID, area
		}
	}
	if bestID != "" {
		return bestID, true
	}

	for _, item := range items {
		if relate(item.Geometry, g, (*geos.Geom).Intersects) {
			return item.ID, true
		}
	}
	return "", false
}

// ContainingPoint returns the id of the indexed geometry covering (x, y).
// Points on a shared boundary go to the lowest id.
func (ix *Index) ContainingPoint(x, y float64) (string, bool) {
	if len(ix.items) == 0 {
		return "", false
	}

	candidates := ix.search(x, y, x, y)
	if len(candidates) == 0 {
		return "", false
	}

	point, err := geos.NewGeomFromWKT(pointWKT(x, y))
	if err != nil {
		return "", false
	}

	items := make([]Item, 0, len(candidates))
	for _, i := range candidates {
		items = append(items, ix.items[i])
	}
	sortItems(items)

	for _, item := range items {
		if relate(item.Geometry, point, (*geos.Geom).Intersects) {
			return item.ID, true
		}
	}
	return "", false
}

// search returns candidate positions whose bounding box meets the query box,
// in insertion order.
func (ix *Index) search(minX, minY, maxX, maxY float64) []int {
	var found []int
	ix.tree.Search([2]float64{minX, minY}, [2]float64{maxX, maxY},
		func(_, _ [2]float64, i int) bool {
			found = append(found, i)
			return true
		})
	sort.Ints(found)
	return found
}

// overlapArea returns the area shared by a and b, or 0 when GEOS cannot
// compute it for invalid input.
func overlapArea(a, b *geos.Geom) (area float64) {
	defer func() {
		if r := recover(); r != nil {
			area = 0
		}
	}()
	if !a.Intersects(b) {
		return 0
	}
	return a.Intersection(b).Area()
}

// relate evaluates a GEOS predicate, treating a topology failure on invalid
// input as false so one bad geometry only drops out as a candidate.
func relate(a, b *geos.Geom, pred func(*geos.Geom, *geos.Geom) bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()
	return pred(a, b)
}

func sortItems(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID < items[j].ID
	})
}

func pointWKT(x, y float64) string {
	return fmt.Sprintf("POINT (%s %s)",
		strconv.FormatFloat(x, 'f', -1, 64),
		strconv.FormatFloat(y, 'f', -1, 64))
}
