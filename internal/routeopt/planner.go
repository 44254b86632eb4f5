// Package routeopt orders visit targets for field reps. Ordering is a
// heuristic (nearest neighbor, optional 2-opt pass), not an optimal TSP
// solve, and is deterministic for a given input.
package routeopt

import (
	"context"

	"fieldtrack/internal/config"
	"fieldtrack/internal/geo"
	"fieldtrack/internal/model"
	"fieldtrack/internal/track"
)

const (
	algoNearestNeighbor = "nearest_neighbor"
	algoTwoOpt          = "nearest_neighbor_2opt"
)

// Planner computes per-user visit orders from each user's current position.
type Planner struct {
	cfg     config.Config
	tracker *track.Tracker
}

func NewPlanner(cfg config.Config, tr *track.Tracker) *Planner {
	return &Planner{cfg: cfg, tracker: tr}
}

// Plan orders the targets for every requested user. Zero targets is a valid
// request and yields empty routes; more than the configured cap is rejected
// up front. A user with no known position starts from the first target.
func (p *Planner) Plan(ctx context.Context, userIDs []string, targets []model.GeoPoint) ([]model.RouteOptimizationResult, error) {
	if len(userIDs) == 0 {
		return nil, model.Invalid("user_ids", "required")
	}
	if len(targets) > p.cfg.MaxTargets {
		return nil, model.Invalid("target_locations", "too many targets")
	}
	for _, t := range targets {
		if !geo.ValidPoint(t) {
			return nil, model.Invalid("target_locations", "coordinate out of range")
		}
	}

	out := make([]model.RouteOptimizationResult, 0, len(userIDs))
	for _, uid := range userIDs {
		start := p.startFor(ctx, uid, targets)
		out = append(out, p.planOne(uid, start, targets))
	}
	return out, nil
}

func (p *Planner) startFor(ctx context.Context, userID string, targets []model.GeoPoint) model.GeoPoint {
	if last, ok := p.tracker.LastKnown(ctx, userID); ok {
		return last.Point()
	}
	if len(targets) > 0 {
		return targets[0]
	}
	return model.GeoPoint{}
}

func (p *Planner) planOne(userID string, start model.GeoPoint, targets []model.GeoPoint) model.RouteOptimizationResult {
	res := model.RouteOptimizationResult{
		UserID:            userID,
		RouteOrder:        []int{},
		DistancesM:        []float64{},
		EstimatedTimesMin: []float64{},
		AlgorithmUsed:     algoNearestNeighbor,
	}
	if len(targets) == 0 {
		return res
	}

	order := nearestNeighborOrder(start, targets)
	if p.cfg.RouteTwoOpt && len(order) > 2 {
		if improved := twoOptPass(start, targets, order); improved {
			res.AlgorithmUsed = algoTwoOpt
		}
	}

	res.RouteOrder = order
	at := start
	for _, idx := range order {
		leg := geo.DistanceM(at, targets[idx])
		res.DistancesM = append(res.DistancesM, leg)
		res.EstimatedTimesMin = append(res.EstimatedTimesMin, leg/p.cfg.AvgTravelSpeedMps/60)
		res.TotalDistanceM += leg
		at = targets[idx]
	}
	res.EstimatedTimeMin = res.TotalDistanceM / p.cfg.AvgTravelSpeedMps / 60
	return res
}

// nearestNeighborOrder greedily picks the closest unvisited target. Ties
// break toward the lower index, which keeps the output deterministic.
func nearestNeighborOrder(start model.GeoPoint, targets []model.GeoPoint) []int {
	visited := make([]bool, len(targets))
	order := make([]int, 0, len(targets))
	at := start
	for len(order) < len(targets) {
		best := -1
		bestDist := 0.0
		for i, t := range targets {
			if visited[i] {
				continue
			}
			d := geo.DistanceM(at, t)
			if best == -1 || d < bestDist {
				best = i
				bestDist = d
			}
		}
		visited[best] = true
		order = append(order, best)
		at = targets[best]
	}
	return order
}

// twoOptPass runs one deterministic sweep of 2-opt segment reversals over
// the order in place. Reports whether any reversal shortened the route.
func twoOptPass(start model.GeoPoint, targets []model.GeoPoint, order []int) bool {
	at := func(i int) model.GeoPoint {
		if i < 0 {
			return start
		}
		return targets[order[i]]
	}
	improved := false
	for i := 0; i < len(order)-1; i++ {
		for j := i + 1; j < len(order); j++ {
			before := geo.DistanceM(at(i-1), at(i)) + segmentTail(at, j, len(order))
			reverse(order, i, j)
			after := geo.DistanceM(at(i-1), at(i)) + segmentTail(at, j, len(order))
			if after < before-1e-9 {
				improved = true
			} else {
				reverse(order, i, j)
			}
		}
	}
	return improved
}

func segmentTail(at func(int) model.GeoPoint, j, n int) float64 {
	if j+1 >= n {
		return 0
	}
	return geo.DistanceM(at(j), at(j+1))
}

func reverse(order []int, i, j int) {
	for i < j {
		order[i], order[j] = order[j], order[i]
		i++
		j--
	}
}
