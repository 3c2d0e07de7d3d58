package opt

import "math"

const earthRadiusM = 6371000.0

// HaversineMeters is the great-circle distance between two lat/lon points.
func HaversineMeters(lat1, lon1, lat2, lon2 float64) float64 {
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadiusM * c
}

// TourCost sums matrix arcs along tour.
func TourCost(m [][]int, tour []int) int {
	total := 0
	for i := 0; i+1 < len(tour); i++ {
		total += m[tour[i]][tour[i+1]]
	}
	return total
}

// cheapestArc builds a closed tour from the depot (node 0) by always
// extending the path with the cheapest arc to an unvisited node.
func cheapestArc(m [][]int) []int {
	n := len(m)
	tour := make([]int, 0, n+1)
	tour = append(tour, 0)
	visited := make([]bool, n)
	visited[0] = true
	cur := 0
	for len(tour) < n {
		next := -1
		for j := 1; j < n; j++ {
			if visited[j] {
				continue
			}
			if next < 0 || m[cur][j] < m[cur][next] {
				next = j
			}
		}
		visited[next] = true
		tour = append(tour, next)
		cur = next
	}
	return append(tour, 0)
}

func twoOptSwap(ord []int, i, k int) []int {
	out := make([]int, len(ord))
	copy(out, ord[:i])
	// reverse i..k
	pos := i
	for j := k; j >= i; j-- {
		out[pos] = ord[j]
		pos++
	}
	copy(out[pos:], ord[k+1:])
	return out
}

// relocate moves the node at position i so it ends up at position j.
func relocate(ord []int, i, j int) []int {
	out := make([]int, 0, len(ord))
	node := ord[i]
	for p, v := range ord {
		if p == i {
			continue
		}
		out = append(out, v)
	}
	out = append(out[:j], append([]int{node}, out[j:]...)...)
	return out
}
