// internal/chaos/engine.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultSampleInterval = time.Second

var ErrSteadyStateInvalid = errors.New("steady state invalid - aborting experiment")

// Experiment defines a chaos engineering test
type Experiment struct {
	Name        string
	Hypothesis  string
	SteadyState []Metric
	// Observe are metrics only sampled after the method ran; they feed Validation but have no steady state.
	Observe    []Metric
	Method     []Action
	Rollback   []Action
	Validation []Assertion
	// Duration is how long metrics are sampled after the method ran. A final sample is always taken.
	Duration time.Duration
}

// Metric defines a measurable system property
type Metric struct {
	Name      string
	Query     func(context.Context) (float64, error)
	Threshold Threshold
}

type Threshold struct {
	Operator string // >, <, >=, <=, ==
	Value    float64
}

// Holds reports whether value satisfies the threshold.
func (t Threshold) Holds(value float64) bool {
	switch t.Operator {
	case ">":
		return value > t.Value
	case "<":
		return value < t.Value
	case ">=":
		return value >= t.Value
	case "<=":
		return value <= t.Value
	case "==":
		return value == t.Value
	default:
		return false
	}
}

// Action represents a fault injection or recovery action
type Action struct {
	Type    string // concurrent-requests, clock-shift, ...
	Target  string
	Execute func(context.Context) error
}

// Assertion validates experiment outcome against the last observation of a metric.
type Assertion struct {
	Metric    string
	Condition func(float64) bool
	Message   string
}

// Result captures experiment execution data
type Result struct {
	ExperimentName   string                 `json:"experiment_name"`
	StartTime        time.Time              `json:"start_time"`
	EndTime          time.Time              `json:"end_time"`
	Duration         time.Duration          `json:"duration"`
	HypothesisHeld   bool                   `json:"hypothesis_held"`
	SteadyStateValid bool                   `json:"steady_state_valid"`
	Violations       []MetricViolation      `json:"violations"`
	FailedAssertions []string               `json:"failed_assertions,omitempty"`
	Observations     map[string][]DataPoint `json:"observations"`
	ErrorEvents      []ErrorEvent           `json:"error_events"`
}

type MetricViolation struct {
	MetricName string    `json:"metric_name"`
	Expected   float64   `json:"expected"`
	Actual     float64   `json:"actual"`
	Timestamp  time.Time `json:"timestamp"`
}

type DataPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

type ErrorEvent struct {
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	Component string    `json:"component"`
}

// Engine orchestrates chaos experiments
type Engine struct {
	tracer         trace.Tracer
	logger         *slog.Logger
	sampleInterval time.Duration

	mu          sync.Mutex
	experiments []Experiment
	results     []Result
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithSampleInterval sets how often metrics are sampled while an experiment is observed.
func WithSampleInterval(d time.Duration) EngineOption {
	return func(e *Engine) {
		if d > 0 {
			e.sampleInterval = d
		}
	}
}

func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		tracer:         otel.Tracer("libracirc/chaos"),
		logger:         slog.New(slog.DiscardHandler),
		sampleInterval: defaultSampleInterval,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Register adds experiments to the suite
func (e *Engine) Register(exps ...Experiment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.experiments = append(e.experiments, exps...)
}

// Experiments returns the registered experiments.
func (e *Engine) Experiments() []Experiment {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Experiment(nil), e.experiments...)
}

// Results returns the results of every experiment run so far.
func (e *Engine) Results() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Result(nil), e.results...)
}

// RunExperiment executes a single chaos experiment. An error means the experiment could not run; a hypothesis
// that did not hold is reported through the result.
func (e *Engine) RunExperiment(ctx context.Context, exp Experiment) (*Result, error) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_experiment",
		trace.WithAttributes(
			attribute.String("experiment.name", exp.Name),
		),
	)
	defer span.End()

	result := &Result{
		ExperimentName: exp.Name,
		StartTime:      time.Now(),
		Observations:   make(map[string][]DataPoint),
		ErrorEvents:    make([]ErrorEvent, 0),
	}

	// Phase 1: Validate steady state
	span.AddEvent("validating_steady_state")
	if violations := e.validateSteadyState(ctx, exp.SteadyState); len(violations) > 0 {
		result.Violations = violations
		return result, ErrSteadyStateInvalid
	}
	result.SteadyStateValid = true

	// Phase 2: Inject chaos
	span.AddEvent("injecting_chaos")
	for _, action := range exp.Method {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 3: Observe system behavior
	span.AddEvent("observing_system")
	e.observe(ctx, exp, result)

	// Phase 4: Rollback chaos injection
	span.AddEvent("rolling_back")
	for _, action := range exp.Rollback {
		if err := action.Execute(ctx); err != nil {
			result.recordError(action.Target, err)
			span.RecordError(err)
		}
	}

	// Phase 5: Validate assertions
	span.AddEvent("validating_assertions")
	result.FailedAssertions = validateAssertions(exp.Validation, result)
	result.HypothesisHeld = len(result.FailedAssertions) == 0 && len(result.Violations) == 0
	result.EndTime = time.Now()
	result.Duration = result.EndTime.Sub(result.StartTime)

	e.mu.Lock()
	e.results = append(e.results, *result)
	e.mu.Unlock()

	span.SetAttributes(
		attribute.Bool("hypothesis_held", result.HypothesisHeld),
		attribute.Int("violations", len(result.Violations)),
	)
	e.logger.Info("experiment finished",
		"experiment", exp.Name,
		"hypothesis_held", result.HypothesisHeld,
		"violations", len(result.Violations),
		"errors", len(result.ErrorEvents),
	)

	return result, nil
}

// RunAll executes every registered experiment in order and reports whether all hypotheses held.
func (e *Engine) RunAll(ctx context.Context) ([]Result, bool) {
	ctx, span := e.tracer.Start(ctx, "chaos.run_all")
	defer span.End()

	var (
		results []Result
		allHeld = true
	)
	for i, exp := range e.Experiments() {
		e.logger.Info("running experiment",
			"n", i+1,
			"experiment", exp.Name,
			"hypothesis", exp.Hypothesis,
		)

		result, err := e.RunExperiment(ctx, exp)
		if err != nil {
			e.logger.Error("experiment aborted", "experiment", exp.Name, "error", err)
			allHeld = false
			if result != nil {
				results = append(results, *result)
			}
			continue
		}
		results = append(results, *result)
		allHeld = allHeld && result.HypothesisHeld
	}

	span.SetAttributes(attribute.Bool("all_held", allHeld))
	return results, allHeld
}

func (e *Engine) observe(ctx context.Context, exp Experiment, result *Result) {
	if exp.Duration > 0 {
		observationCtx, cancel := context.WithTimeout(ctx, exp.Duration)
		defer cancel()

		ticker := time.NewTicker(e.sampleInterval)
		defer ticker.Stop()

	sampling:
		for {
			select {
			case <-observationCtx.Done():
				break sampling
			case <-ticker.C:
				e.sample(ctx, exp.SteadyState, true, result)
			}
		}
	}
	e.sample(ctx, exp.SteadyState, true, result)
	e.sample(ctx, exp.Observe, false, result)
}

func (e *Engine) sample(ctx context.Context, metrics []Metric, checkThreshold bool, result *Result) {
	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			result.recordError(metric.Name, err)
			continue
		}

		now := time.Now()
		result.Observations[metric.Name] = append(result.Observations[metric.Name], DataPoint{Timestamp: now, Value: value})

		if checkThreshold && !metric.Threshold.Holds(value) {
			result.Violations = append(result.Violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  now,
			})
		}
	}
}

func (e *Engine) validateSteadyState(ctx context.Context, metrics []Metric) []MetricViolation {
	var violations []MetricViolation

	for _, metric := range metrics {
		value, err := metric.Query(ctx)
		if err != nil {
			e.logger.Warn("steady state metric failed", "metric", metric.Name, "error", err)
			value = -1
		}

		if err != nil || !metric.Threshold.Holds(value) {
			violations = append(violations, MetricViolation{
				MetricName: metric.Name,
				Expected:   metric.Threshold.Value,
				Actual:     value,
				Timestamp:  time.Now(),
			})
		}
	}

	return violations
}

func validateAssertions(assertions []Assertion, result *Result) []string {
	var failed []string
	for _, a := range assertions {
		observations := result.Observations[a.Metric]
		if len(observations) == 0 {
			failed = append(failed, fmt.Sprintf("%s: no observation of %s", a.Message, a.Metric))
			continue
		}

		final := observations[len(observations)-1].Value
		if !a.Condition(final) {
			failed = append(failed, fmt.Sprintf("%s: %s was %v", a.Message, a.Metric, final))
		}
	}
	return failed
}

func (r *Result) recordError(component string, err error) {
	r.ErrorEvents = append(r.ErrorEvents, ErrorEvent{
		Timestamp: time.Now(),
		Error:     err.Error(),
		Component: component,
	})
}
