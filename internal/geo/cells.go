package geo

import (
	"math"

	"github.com/mmcloughlin/geohash"
)

// Cell returns the fixed-precision geohash cell containing a point.
func Cell(lat, lon float64, precision uint) string {
	return geohash.EncodeWithPrecision(lat, lon, precision)
}

// CoverRadius returns the set of geohash cells whose union covers the disc
// of radiusKm around (lat, lon). It starts from the center cell and expands
// outward through neighbors, keeping every cell that could intersect the
// disc. The result over-includes rather than risk missing a true candidate;
// exact haversine filtering happens downstream in the scorer.
func CoverRadius(lat, lon, radiusKm float64, precision uint) []string {
	center := geohash.EncodeWithPrecision(lat, lon, precision)
	seen := map[string]bool{center: true}
	cover := []string{center}
	frontier := []string{center}

	for len(frontier) > 0 {
		next := frontier[:0:0]
		for _, cell := range frontier {
			for _, nb := range geohash.Neighbors(cell) {
				if seen[nb] {
					continue
				}
				seen[nb] = true
				if cellMinDistanceKm(nb, lat, lon) > radiusKm {
					continue
				}
				cover = append(cover, nb)
				next = append(next, nb)
			}
		}
		frontier = next
	}
	return cover
}

// cellMinDistanceKm is the distance from a point to the nearest point of a
// cell's bounding box; zero when the point is inside the box.
func cellMinDistanceKm(cell string, lat, lon float64) float64 {
	box := geohash.BoundingBox(cell)
	closestLat := math.Min(math.Max(lat, box.MinLat), box.MaxLat)
	closestLon := math.Min(math.Max(lon, box.MinLng), box.MaxLng)
	return HaversineKm(lat, lon, closestLat, closestLon)
}
