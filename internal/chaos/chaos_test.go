package chaos_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"libracirc/internal/chaos"
	"libracirc/internal/store/storetest"
)

func constant(v float64) func(context.Context) (float64, error) {
	return func(context.Context) (float64, error) { return v, nil }
}

func Test_Threshold_Holds(t *testing.T) {
	tests := []struct {
		op    string
		value float64
		want  bool
	}{
		{">", 2, true},
		{">", 1, false},
		{"<", 0, true},
		{">=", 1, true},
		{"<=", 2, false},
		{"==", 1, true},
		{"!=", 1, false},
	}

	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			assert.Equal(t, tt.want, chaos.Threshold{Operator: tt.op, Value: 1}.Holds(tt.value))
		})
	}
}

func Test_RunExperiment_Phases(t *testing.T) {
	// setup
	var calls []string
	engine := chaos.NewEngine(chaos.WithSampleInterval(5 * time.Millisecond))
	exp := chaos.Experiment{
		Name:        "phases",
		SteadyState: []chaos.Metric{{Name: "ok", Query: constant(0), Threshold: chaos.Threshold{Operator: "==", Value: 0}}},
		Observe:     []chaos.Metric{{Name: "observed", Query: constant(3)}},
		Method: []chaos.Action{
			{Target: "inject", Execute: func(context.Context) error { calls = append(calls, "method"); return nil }},
			{Target: "broken", Execute: func(context.Context) error { return errors.New("boom") }},
		},
		Rollback: []chaos.Action{
			{Target: "restore", Execute: func(context.Context) error { calls = append(calls, "rollback"); return nil }},
		},
		Validation: []chaos.Assertion{
			{Metric: "observed", Condition: func(v float64) bool { return v == 3 }, Message: "observed is three"},
		},
		Duration: 20 * time.Millisecond,
	}

	// act
	result, err := engine.RunExperiment(context.Background(), exp)

	// assert
	require.NoError(t, err)
	assert.True(t, result.SteadyStateValid)
	assert.True(t, result.HypothesisHeld)
	assert.Equal(t, []string{"method", "rollback"}, calls)
	require.Len(t, result.ErrorEvents, 1)
	assert.Equal(t, "broken", result.ErrorEvents[0].Component)
	assert.GreaterOrEqual(t, len(result.Observations["ok"]), 2, "sampled while observing plus the final sample")
	assert.Len(t, result.Observations["observed"], 1)
	assert.Len(t, engine.Results(), 1)
}

func Test_RunExperiment_Aborts_On_Invalid_Steady_State(t *testing.T) {
	engine := chaos.NewEngine()
	ran := false
	exp := chaos.Experiment{
		Name:        "unsteady",
		SteadyState: []chaos.Metric{{Name: "bad", Query: constant(5), Threshold: chaos.Threshold{Operator: "<", Value: 1}}},
		Method:      []chaos.Action{{Execute: func(context.Context) error { ran = true; return nil }}},
	}

	result, err := engine.RunExperiment(context.Background(), exp)

	assert.ErrorIs(t, err, chaos.ErrSteadyStateInvalid)
	assert.False(t, ran)
	require.Len(t, result.Violations, 1)
	assert.Equal(t, float64(5), result.Violations[0].Actual)
}

func Test_RunExperiment_Reports_Failed_Assertions(t *testing.T) {
	engine := chaos.NewEngine()
	exp := chaos.Experiment{
		Name:    "failing",
		Observe: []chaos.Metric{{Name: "errors", Query: constant(2)}},
		Validation: []chaos.Assertion{
			{Metric: "errors", Condition: func(v float64) bool { return v == 0 }, Message: "no errors"},
			{Metric: "missing", Condition: func(float64) bool { return true }, Message: "never sampled"},
		},
	}

	result, err := engine.RunExperiment(context.Background(), exp)

	require.NoError(t, err)
	assert.False(t, result.HypothesisHeld)
	assert.Len(t, result.FailedAssertions, 2)
}

func Test_Circulation_Experiments_Hold(t *testing.T) {
	// setup
	s := storetest.Open(t)
	suite, err := chaos.NewSuite(s, 8, nil)
	require.NoError(t, err)
	engine := chaos.NewEngine()
	suite.Register(engine)

	// act
	results, allHeld := engine.RunAll(context.Background())

	// assert
	require.Len(t, results, 3)
	for _, r := range results {
		assert.True(t, r.HypothesisHeld, "%s: %v %v", r.ExperimentName, r.FailedAssertions, r.ErrorEvents)
	}
	assert.True(t, allHeld)

	n, err := s.InvariantViolations(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func Test_NewSuite_Rejects_Low_Concurrency(t *testing.T) {
	_, err := chaos.NewSuite(storetest.Open(t), 1, nil)

	assert.Error(t, err)
}
