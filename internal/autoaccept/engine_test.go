package autoaccept

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/job-dispatch/internal/models"
)

func fixedEngine(hhmm string) *Engine {
	t, _ := time.Parse("15:04", hhmm)
	at := time.Date(2026, 3, 10, t.Hour(), t.Minute(), 0, 0, time.Local)
	return &Engine{Now: func() time.Time { return at }}
}

func f(v float64) *float64 { return &v }

func TestDecideFirstMatchingRuleByPriority(t *testing.T) {
	e := NewEngine()
	job := models.Job{ServiceType: models.ServiceDelivery, Fare: 100, DistanceKm: 2}
	rules := []models.AutoAcceptRule{
		{ID: "low", Enabled: true, Priority: 1},
		{ID: "high", Enabled: true, Priority: 10, MinFare: f(50)},
	}
	dec := e.Decide(job, rules)
	require.True(t, dec.Accept)
	assert.Equal(t, "high", dec.Matched.ID)
}

func TestDecideLowerPriorityRuleCannotOverride(t *testing.T) {
	// Only the strict high-priority rule matches nothing here; the loose
	// low-priority rule would match, but priority ordering is respected and
	// the decision is reject.
	e := NewEngine()
	job := models.Job{ServiceType: models.ServiceRide, Fare: 100, DistanceKm: 2}
	rules := []models.AutoAcceptRule{
		{ID: "strict", Enabled: true, Priority: 10, MinFare: f(500)},
		{ID: "loose", Enabled: true, Priority: 1},
	}
	dec := e.Decide(job, rules)
	assert.False(t, dec.Accept)
	assert.Nil(t, dec.Matched)
}

func TestDecideDisabledHighPriorityRuleIsSkipped(t *testing.T) {
	e := NewEngine()
	job := models.Job{Fare: 100}
	rules := []models.AutoAcceptRule{
		{ID: "off", Enabled: false, Priority: 10, MinFare: f(500)},
		{ID: "on", Enabled: true, Priority: 1, MinFare: f(50)},
	}
	dec := e.Decide(job, rules)
	require.True(t, dec.Accept)
	assert.Equal(t, "on", dec.Matched.ID)
}

func TestDecideDisabledRulesIgnored(t *testing.T) {
	e := NewEngine()
	job := models.Job{Fare: 100}
	dec := e.Decide(job, []models.AutoAcceptRule{{ID: "r", Enabled: false, Priority: 5}})
	assert.False(t, dec.Accept)
}

func TestDecideConditions(t *testing.T) {
	e := NewEngine()
	base := models.AutoAcceptRule{ID: "r", Enabled: true}

	t.Run("max distance", func(t *testing.T) {
		r := base
		r.MaxDistanceKm = f(5)
		assert.True(t, e.Decide(models.Job{DistanceKm: 4}, []models.AutoAcceptRule{r}).Accept)
		assert.False(t, e.Decide(models.Job{DistanceKm: 6}, []models.AutoAcceptRule{r}).Accept)
	})

	t.Run("min fare", func(t *testing.T) {
		r := base
		r.MinFare = f(50)
		assert.True(t, e.Decide(models.Job{Fare: 50}, []models.AutoAcceptRule{r}).Accept)
		assert.False(t, e.Decide(models.Job{Fare: 49}, []models.AutoAcceptRule{r}).Accept)
	})

	t.Run("service types", func(t *testing.T) {
		r := base
		r.ServiceTypes = []models.ServiceType{models.ServiceRide, models.ServiceMoving}
		assert.True(t, e.Decide(models.Job{ServiceType: models.ServiceMoving}, []models.AutoAcceptRule{r}).Accept)
		assert.False(t, e.Decide(models.Job{ServiceType: models.ServiceShopping}, []models.AutoAcceptRule{r}).Accept)
	})
}

func TestTimeWindow(t *testing.T) {
	r := models.AutoAcceptRule{ID: "r", Enabled: true, TimeStart: "09:00", TimeEnd: "17:00"}
	job := models.Job{Fare: 10}

	assert.True(t, fixedEngine("09:00").Decide(job, []models.AutoAcceptRule{r}).Accept)
	assert.True(t, fixedEngine("16:59").Decide(job, []models.AutoAcceptRule{r}).Accept)
	// end is exclusive
	assert.False(t, fixedEngine("17:00").Decide(job, []models.AutoAcceptRule{r}).Accept)
	assert.False(t, fixedEngine("08:59").Decide(job, []models.AutoAcceptRule{r}).Accept)
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	r := models.AutoAcceptRule{ID: "night", Enabled: true, TimeStart: "22:00", TimeEnd: "06:00"}
	job := models.Job{}

	assert.True(t, fixedEngine("23:30").Decide(job, []models.AutoAcceptRule{r}).Accept)
	assert.True(t, fixedEngine("05:59").Decide(job, []models.AutoAcceptRule{r}).Accept)
	assert.False(t, fixedEngine("12:00").Decide(job, []models.AutoAcceptRule{r}).Accept)
	assert.False(t, fixedEngine("06:00").Decide(job, []models.AutoAcceptRule{r}).Accept)
}
