// Package opt solves the single-vehicle closed tour rooted at a depot.
//
// Construction is path-cheapest-arc; improvement is guided local search
// over 2-opt and relocate moves on a penalty-augmented cost. The search is
// time boxed and returns the best tour seen by true cost.
package opt

import (
	"context"
	"time"
)

const (
	DefaultTimeBudget = 5 * time.Second
	DefaultLambda     = 0.1
)

type Problem struct {
	// Matrix[i][j] is the cost of travelling from i to j. Node 0 is the
	// depot. The matrix need not be symmetric.
	Matrix [][]int
	// TimeBudget caps wall time; <= 0 means DefaultTimeBudget.
	TimeBudget time.Duration
	// MaxIterations caps guided local search rounds; 0 means no cap.
	MaxIterations int
	// MaxStall stops after this many rounds without a new best; 0 disables.
	MaxStall int
	// Lambda scales penalties relative to the mean arc cost of the first
	// tour; <= 0 means DefaultLambda.
	Lambda float64
}

// Solution.Tour starts and ends at 0 and visits every other node once.
type Solution struct {
	Tour []int
	Cost int
}

// Order returns the visited nodes without the depot.
func (s Solution) Order() []int {
	if len(s.Tour) <= 2 {
		return []int{}
	}
	return append([]int(nil), s.Tour[1:len(s.Tour)-1]...)
}

type Metrics struct {
	Iterations   int
	Improvements int
	Penalties    int
	InitialCost  int
	BestCost     int
	Elapsed      time.Duration
	StopReason   string
}

// Solve returns the best tour found before the earlier of ctx's deadline
// and the time budget. It never returns an invalid tour: on immediate
// cancellation the construction tour is returned.
func Solve(ctx context.Context, p Problem) (Solution, Metrics) {
	start := time.Now()
	n := len(p.Matrix)
	var m Metrics
	if n == 0 {
		m.StopReason = "empty"
		return Solution{Tour: []int{}}, m
	}

	budget := p.TimeBudget
	if budget <= 0 {
		budget = DefaultTimeBudget
	}
	deadline := start.Add(budget)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	tour := cheapestArc(p.Matrix)
	cost := TourCost(p.Matrix, tour)
	best := append([]int(nil), tour...)
	bestCost := cost
	m.InitialCost = cost

	finish := func(reason string) (Solution, Metrics) {
		m.BestCost = bestCost
		m.Elapsed = time.Since(start)
		m.StopReason = reason
		return Solution{Tour: best, Cost: bestCost}, m
	}
	if n <= 2 {
		return finish("trivial")
	}

	lambda := p.Lambda
	if lambda <= 0 {
		lambda = DefaultLambda
	}
	s := &search{
		m:        p.Matrix,
		pen:      make([][]int, n),
		lambda:   lambda * float64(cost) / float64(n),
		deadline: deadline,
		ctx:      ctx,
	}
	for i := range s.pen {
		s.pen[i] = make([]int, n)
	}

	stall := 0
	for {
		switch {
		case s.expired():
			if ctx.Err() != nil {
				return finish("cancelled")
			}
			return finish("deadline")
		case p.MaxIterations > 0 && m.Iterations >= p.MaxIterations:
			return finish("iterations")
		case p.MaxStall > 0 && stall >= p.MaxStall:
			return finish("stalled")
		}
		m.Iterations++
		tour = s.localSearch(tour)
		if c := TourCost(p.Matrix, tour); c < bestCost {
			best = append(best[:0], tour...)
			bestCost = c
			m.Improvements++
			stall = 0
		} else {
			stall++
		}
		k := s.penalize(tour)
		if k == 0 {
			return finish("converged")
		}
		m.Penalties += k
	}
}

type search struct {
	m        [][]int
	pen      [][]int
	lambda   float64
	deadline time.Time
	ctx      context.Context
}

func (s *search) expired() bool {
	return s.ctx.Err() != nil || !time.Now().Before(s.deadline)
}

func (s *search) augmented(tour []int) float64 {
	total := 0.0
	for i := 0; i+1 < len(tour); i++ {
		a, b := tour[i], tour[i+1]
		total += float64(s.m[a][b]) + s.lambda*float64(s.pen[a][b])
	}
	return total
}

// localSearch applies first-improvement 2-opt and relocate moves until
// none improves the augmented cost or time runs out. Positions 0 and
// len-1 hold the depot and never move.
func (s *search) localSearch(tour []int) []int {
	cur := tour
	curCost := s.augmented(cur)
	last := len(cur) - 2
	for improved := true; improved; {
		improved = false
		for i := 1; i <= last && !improved; i++ {
			if s.expired() {
				return cur
			}
			for k := i + 1; k <= last; k++ {
				cand := twoOptSwap(cur, i, k)
				if c := s.augmented(cand); c+1e-9 < curCost {
					cur, curCost, improved = cand, c, true
					break
				}
			}
			if improved {
				break
			}
			for j := 1; j <= last; j++ {
				if j == i {
					continue
				}
				cand := relocate(cur, i, j)
				if c := s.augmented(cand); c+1e-9 < curCost {
					cur, curCost, improved = cand, c, true
					break
				}
			}
		}
	}
	return cur
}

// penalize bumps the penalty of the arcs with the highest utility
// cost/(1+penalty) and reports how many were bumped.
func (s *search) penalize(tour []int) int {
	maxUtil := 0.0
	for i := 0; i+1 < len(tour); i++ {
		a, b := tour[i], tour[i+1]
		if u := float64(s.m[a][b]) / float64(1+s.pen[a][b]); u > maxUtil {
			maxUtil = u
		}
	}
	if maxUtil == 0 {
		return 0
	}
	bumped := 0
	for i := 0; i+1 < len(tour); i++ {
		a, b := tour[i], tour[i+1]
		if float64(s.m[a][b])/float64(1+s.pen[a][b]) == maxUtil {
			s.pen[a][b]++
			bumped++
		}
	}
	return bumped
}
