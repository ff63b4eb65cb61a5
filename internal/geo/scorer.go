package geo

import (
	"time"

	"github.com/example/job-dispatch/internal/models"
)

// Scoring weights. Distance and fare carry 40 points each, recency 20, for a
// composite in [0,100].
const (
	distanceMaxPoints = 40.0
	fareMaxPoints     = 40.0
	recencyMaxPoints  = 20.0

	fullScoreDistanceKm = 1.0
	zeroScoreDistanceKm = 10.0

	fareFloor   = 30.0
	fareCeiling = 200.0

	fullScoreAge = time.Minute
	zeroScoreAge = 30 * time.Minute
)

type ScoreResult struct {
	DistanceKm float64 `json:"distance_km"`
	Score      float64 `json:"score"`
}

// Scorer computes a composite desirability score for a job as seen from a
// provider's position. It is pure: the clock is an input, not ambient state.
type Scorer struct{}

func (Scorer) Score(providerLoc models.Coord, job models.Job, now time.Time) ScoreResult {
	dist := HaversineKm(providerLoc, job.Pickup)
	score := distanceScore(dist) + fareScore(job.Fare) + recencyScore(now.Sub(job.CreatedAt))
	return ScoreResult{DistanceKm: dist, Score: score}
}

func distanceScore(km float64) float64 {
	switch {
	case km <= fullScoreDistanceKm:
		return distanceMaxPoints
	case km >= zeroScoreDistanceKm:
		return 0
	default:
		frac := (zeroScoreDistanceKm - km) / (zeroScoreDistanceKm - fullScoreDistanceKm)
		return distanceMaxPoints * frac
	}
}

func fareScore(fare float64) float64 {
	switch {
	case fare <= fareFloor:
		return 0
	case fare >= fareCeiling:
		return fareMaxPoints
	default:
		return fareMaxPoints * (fare - fareFloor) / (fareCeiling - fareFloor)
	}
}

func recencyScore(age time.Duration) float64 {
	switch {
	case age < fullScoreAge:
		return recencyMaxPoints
	case age >= zeroScoreAge:
		return 0
	default:
		frac := float64(zeroScoreAge-age) / float64(zeroScoreAge-fullScoreAge)
		return recencyMaxPoints * frac
	}
}
