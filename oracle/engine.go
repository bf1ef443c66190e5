// Package oracle detects behavioral oracles: it plays a family of crafted
// vectors against a target, fingerprints each response and decides whether
// the responses can be told apart.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dshills/handshake-go/metrics"
	"github.com/dshills/handshake-go/oracle/store"
	"github.com/dshills/handshake-go/parallel"
	"github.com/dshills/handshake-go/workflow"
	"github.com/dshills/handshake-go/workflow/emit"
)

// Engine runs differential scans for one attack class.
//
// Example:
//
//	exec, _ := parallel.New(8, 2)
//	engine, err := oracle.NewEngine(cfg, generator, builder, exec,
//	    oracle.WithIterations(3),
//	    oracle.WithAttackName("padding-oracle"),
//	)
//	report, err := engine.ExecuteAttack(ctx)
type Engine struct {
	config    workflow.Config
	generator VectorGenerator
	builder   TraceBuilder
	executor  *parallel.Executor

	iterations int
	extractor  Extractor
	comparator Comparator
	precedence []EqualityError
	store      store.Store[ResponseFingerprint]
	logger     zerolog.Logger
	metrics    *metrics.PrometheusMetrics
	emitter    emit.Emitter
	attack     string
	target     string
}

// NewEngine validates its collaborators and applies opts.
func NewEngine(cfg workflow.Config, gen VectorGenerator, builder TraceBuilder, exec *parallel.Executor, opts ...Option) (*Engine, error) {
	switch {
	case gen == nil:
		return nil, &ConfigError{Field: "generator", Message: "vector generator is required"}
	case builder == nil:
		return nil, &ConfigError{Field: "builder", Message: "trace builder is required"}
	case exec == nil:
		return nil, &ConfigError{Field: "executor", Message: "parallel executor is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		config:     cfg,
		generator:  gen,
		builder:    builder,
		executor:   exec,
		iterations: 1,
		extractor:  DefaultExtractor{},
		precedence: DefaultPrecedence,
		logger:     zerolog.Nop(),
		emitter:    emit.NewNullEmitter(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	if e.comparator == nil {
		e.comparator = DefaultComparator{Precedence: e.precedence}
	}
	e.logger = e.logger.With().Str("attack", e.attack).Logger()
	return e, nil
}

// vectorTask times one StateTask attempt.
type vectorTask struct {
	*parallel.StateTask
	vector  Vector
	elapsed time.Duration
}

func (t *vectorTask) Execute(ctx context.Context) error {
	start := time.Now()
	err := t.StateTask.Execute(ctx)
	t.elapsed = time.Since(start)
	return err
}

// ExecuteAttack runs the full scan and returns its report.
//
// Missing public material yields an UNKNOWN report and no error. A target
// whose negotiated parameters change mid-scan yields an UNKNOWN report
// together with an error wrapping ErrInconsistentTarget.
func (e *Engine) ExecuteAttack(ctx context.Context) (*Report, error) {
	report := &Report{
		ScanID:   uuid.NewString(),
		Attack:   e.attack,
		Target:   e.target,
		Verdict:  VerdictUnknown,
		Equality: EqualityNone,
	}
	log := e.logger.With().Str("scan", report.ScanID).Logger()

	vectors, err := e.generator.Generate(ctx)
	if errors.Is(err, ErrMaterialUnavailable) {
		log.Warn().Err(err).Msg("cannot build vectors")
		report.Reason = err.Error()
		return report, e.finish(ctx, report)
	}
	if err != nil {
		return nil, fmt.Errorf("generate vectors: %w", err)
	}
	if len(vectors) == 0 {
		return nil, ErrNoVectors
	}

	ref := &negotiated{}
	for iteration := 0; iteration < e.iterations; iteration++ {
		responses, erroneous, err := e.runBatch(ctx, vectors, iteration, ref)
		report.ErroneousScans = append(report.ErroneousScans, erroneous...)
		if errors.Is(err, ErrInconsistentTarget) {
			log.Error().Err(err).Int("iteration", iteration).Msg("aborting scan")
			report.Reason = err.Error()
			if ferr := e.finish(ctx, report); ferr != nil {
				log.Error().Err(ferr).Msg("persisting aborted scan")
			}
			return report, err
		}
		if err != nil {
			return nil, err
		}
		report.Responses = append(report.Responses, responses...)
		if err := e.save(ctx, report.ScanID, responses); err != nil {
			return nil, err
		}
	}

	if len(report.Responses) < 2 {
		report.Reason = fmt.Sprintf("only %d comparable responses, %d erroneous", len(report.Responses), len(report.ErroneousScans))
		return report, e.finish(ctx, report)
	}

	eq, pair := e.compareAll(report.Responses)
	report.Equality = eq
	report.Verdict = verdictFor(eq)
	if pair != nil {
		report.Differing = []string{pair[0].Vector.Name(), pair[1].Vector.Name()}
	}
	return report, e.finish(ctx, report)
}

// IsVulnerable runs ExecuteAttack and returns only the verdict.
func (e *Engine) IsVulnerable(ctx context.Context) (Verdict, error) {
	report, err := e.ExecuteAttack(ctx)
	if report == nil {
		return VerdictUnknown, err
	}
	return report.Verdict, err
}

// Baseline executes the generator's control vector once and returns its
// fingerprint.
func (e *Engine) Baseline(ctx context.Context) (VectorResponse, error) {
	control, err := e.generator.Control(ctx)
	if err != nil {
		return VectorResponse{}, err
	}

	responses, erroneous, err := e.runBatch(ctx, []Vector{control}, 0, &negotiated{})
	if err != nil {
		return VectorResponse{}, err
	}
	if len(erroneous) > 0 {
		return VectorResponse{}, fmt.Errorf("baseline vector %q: %w", control.Name(), erroneous[0].Err)
	}
	return responses[0], nil
}

// runBatch executes one task per vector and splits the results into
// comparable responses and erroneous scans. Every comparable task must match
// ref, which is taken from the first comparable task of the scan.
func (e *Engine) runBatch(ctx context.Context, vectors []Vector, iteration int, ref *negotiated) ([]VectorResponse, []ErroneousScan, error) {
	tasks := make([]parallel.Task, len(vectors))
	vtasks := make([]*vectorTask, len(vectors))
	for i, v := range vectors {
		cfg, err := e.config.Copy()
		if err != nil {
			return nil, nil, err
		}
		trace, err := e.builder.Build(v)
		if err != nil {
			return nil, nil, fmt.Errorf("build trace for %q: %w", v.Name(), err)
		}
		if e.target != "" {
			trace.SetConnectionAddr(e.target)
		}
		vtasks[i] = &vectorTask{StateTask: parallel.NewStateTask(workflow.NewState(cfg, trace)), vector: v}
		tasks[i] = vtasks[i]
	}

	results, err := e.executor.BulkExecute(ctx, tasks)
	if err != nil {
		return nil, nil, err
	}

	var ok []*vectorTask
	var erroneous []ErroneousScan
	for _, r := range results {
		vt := vtasks[r.Index]
		if r.HasError {
			erroneous = append(erroneous, ErroneousScan{Vector: vt.vector.Name(), Iteration: iteration, Err: r.Err})
			continue
		}
		ok = append(ok, vt)
	}

	if err := ref.check(ok); err != nil {
		return nil, erroneous, err
	}

	responses := make([]VectorResponse, 0, len(ok))
	for _, vt := range ok {
		fp, err := e.extractor.Extract(Observation{State: vt.State, Elapsed: vt.elapsed})
		if err != nil {
			erroneous = append(erroneous, ErroneousScan{Vector: vt.vector.Name(), Iteration: iteration, Err: fmt.Errorf("extract: %w", err)})
			continue
		}
		responses = append(responses, VectorResponse{Vector: vt.vector, Iteration: iteration, Fingerprint: fp})
	}

	e.logger.Debug().
		Int("iteration", iteration).
		Int("responses", len(responses)).
		Int("erroneous", len(erroneous)).
		Msg("batch complete")
	return responses, erroneous, nil
}

// negotiated holds the parameters every connection agreed on in the first
// comparable task of a scan.
type negotiated struct {
	vector string
	params []negotiatedParams
}

type negotiatedParams struct {
	Version     string
	CipherSuite string
}

// check verifies that every task negotiated the reference parameters on
// every connection. The first task seen becomes the reference.
func (n *negotiated) check(tasks []*vectorTask) error {
	for _, t := range tasks {
		contexts := t.State.Contexts()
		if n.params == nil {
			n.vector = t.vector.Name()
			n.params = make([]negotiatedParams, len(contexts))
			for i, c := range contexts {
				n.params[i] = negotiatedParams{Version: c.Version, CipherSuite: c.CipherSuite}
			}
			continue
		}
		for i, c := range contexts {
			if i >= len(n.params) {
				break
			}
			ref := n.params[i]
			if c.Version != ref.Version || c.CipherSuite != ref.CipherSuite {
				return fmt.Errorf("%w: vector %q negotiated %s/%s, vector %q negotiated %s/%s",
					ErrInconsistentTarget,
					n.vector, ref.Version, ref.CipherSuite,
					t.vector.Name(), c.Version, c.CipherSuite)
			}
		}
	}
	return nil
}

// compareAll compares every pair of responses and returns the highest-ranked
// difference found together with the pair that produced it.
func (e *Engine) compareAll(responses []VectorResponse) (EqualityError, []VectorResponse) {
	best := EqualityNone
	var pair []VectorResponse
	for i := 0; i < len(responses); i++ {
		for j := i + 1; j < len(responses); j++ {
			eq := e.comparator.Compare(responses[i].Fingerprint, responses[j].Fingerprint)
			if eq == EqualityNone {
				continue
			}
			if best == EqualityNone || rank(e.precedence, eq) < rank(e.precedence, best) {
				best = eq
				pair = []VectorResponse{responses[i], responses[j]}
			}
		}
	}
	return best, pair
}

func (e *Engine) save(ctx context.Context, scanID string, responses []VectorResponse) error {
	if e.store == nil || len(responses) == 0 {
		return nil
	}
	records := make([]store.ResponseRecord[ResponseFingerprint], len(responses))
	for i, r := range responses {
		records[i] = store.ResponseRecord[ResponseFingerprint]{
			Iteration:   r.Iteration,
			Vector:      r.Vector.Name(),
			Fingerprint: r.Fingerprint,
		}
	}
	if err := e.store.SaveResponses(ctx, scanID, records); err != nil {
		return fmt.Errorf("save responses: %w", err)
	}
	return nil
}

// finish records the verdict in metrics, events and the store.
func (e *Engine) finish(ctx context.Context, report *Report) error {
	e.metrics.RecordVerdict(report.Attack, string(report.Verdict))
	e.emitter.Emit(emit.Event{
		TraceID: report.ScanID,
		Msg:     emit.MsgVerdict,
		Meta: map[string]interface{}{
			"verdict":   string(report.Verdict),
			"equality":  report.Equality.String(),
			"responses": len(report.Responses),
			"erroneous": len(report.ErroneousScans),
		},
	})
	e.logger.Info().
		Str("scan", report.ScanID).
		Str("verdict", string(report.Verdict)).
		Stringer("equality", report.Equality).
		Int("responses", len(report.Responses)).
		Int("erroneous", len(report.ErroneousScans)).
		Msg("scan complete")

	if e.store == nil {
		return nil
	}
	err := e.store.SaveReport(ctx, store.ReportRecord{
		ScanID:         report.ScanID,
		Attack:         report.Attack,
		Target:         report.Target,
		Verdict:        string(report.Verdict),
		Equality:       report.Equality.String(),
		Reason:         report.Reason,
		Responses:      len(report.Responses),
		ErroneousScans: len(report.ErroneousScans),
		CreatedAt:      time.Now(),
	})
	if err != nil {
		return fmt.Errorf("save report: %w", err)
	}
	return nil
}
