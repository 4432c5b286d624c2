package rules

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/liamcoop/txrules/internal/logger"
)

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithCache replaces the default in-memory cache.
func WithCache(c RulesCache) EngineOption {
	return func(en *Engine) { en.cache = c }
}

// WithEvaluator shares an existing evaluator (and its pattern memo). The
// engine does not close a shared evaluator.
func WithEvaluator(ev *Evaluator) EngineOption {
	return func(en *Engine) { en.eval = ev }
}

// WithEvaluationCategoryChecker makes set_category fault when the target
// category no longer exists at evaluation time.
func WithEvaluationCategoryChecker(c CategoryChecker) EngineOption {
	return func(en *Engine) { en.categories = c }
}

// Engine evaluates the active rules of a scope against transactions.
// Safe for concurrent use: cached rule sets are immutable and replaced whole.
type Engine struct {
	loader     RuleLoader
	cache      RulesCache
	eval       *Evaluator
	ownsEval   bool
	exec       Executor
	categories CategoryChecker
	loads      singleflight.Group
}

// NewEngine creates a rules engine that loads rules from loader on a cache miss
func NewEngine(loader RuleLoader, opts ...EngineOption) (*Engine, error) {
	en := &Engine{loader: loader}
	for _, opt := range opts {
		opt(en)
	}
	if en.cache == nil {
		en.cache = NewInMemoryRulesCache(DefaultCacheConfig())
	}
	if en.eval == nil {
		ev, err := NewEvaluator(DefaultEvaluatorConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to create evaluator: %w", err)
		}
		en.eval = ev
		en.ownsEval = true
	}
	return en, nil
}

// Evaluator returns the condition evaluator used by the engine.
func (en *Engine) Evaluator() *Evaluator {
	return en.eval
}

// Close releases the engine's own evaluator.
func (en *Engine) Close() {
	if en.ownsEval {
		en.eval.Close()
	}
}

// Evaluate runs the active rules of scope against tx. A rule that faults is
// skipped and reported in the result; only a failure to load the rule set
// fails the call.
func (en *Engine) Evaluate(ctx context.Context, scope int64, tx Transaction) (*EvaluationResult, error) {
	rs, err := en.RuleSet(ctx, scope)
	if err != nil {
		return nil, err
	}
	res := en.run(ctx, scope, rs.Rules, tx)
	res.Generation = rs.Generation
	return res, nil
}

// EvaluateRules runs an explicit rule list against tx without touching the
// cache. Inactive rules are skipped.
func (en *Engine) EvaluateRules(ctx context.Context, rules []*Rule, tx Transaction) *EvaluationResult {
	var scope int64
	if len(rules) > 0 {
		scope = rules[0].ScopeID
	}
	return en.run(ctx, scope, en.compile(rules), tx)
}

// RuleSet returns the cached rule set for scope, loading it on a miss.
// Concurrent misses for the same scope and generation share one load, which
// is not cancelled when the caller that started it goes away.
func (en *Engine) RuleSet(ctx context.Context, scope int64) (*RuleSet, error) {
	if rs := en.cache.Get(scope); rs != nil {
		return rs, nil
	}
	logger.CacheMiss()

	gen := en.cache.Generation(scope)
	key := strconv.FormatInt(scope, 10) + "/" + strconv.FormatUint(gen, 10)
	v, err, _ := en.loads.Do(key, func() (any, error) {
		// a flight for this generation may have finished since the miss above
		if rs := en.cache.Get(scope); rs != nil {
			return rs, nil
		}
		start := time.Now()
		// the result is shared by every caller waiting on this key
		loaded, err := en.loader.LoadActiveRules(context.WithoutCancel(ctx), scope)
		if err != nil {
			return nil, fmt.Errorf("failed to load rules for scope %d: %w", scope, err)
		}
		rs := &RuleSet{
			Scope:      scope,
			Generation: gen,
			Rules:      en.compile(loaded),
			LoadedAt:   time.Now(),
		}
		stored := en.cache.Store(rs)
		logger.Debug("loaded rule set",
			"scope", scope,
			"generation", gen,
			"rules", len(rs.Rules),
			"stored", stored,
			"duration_ms", time.Since(start).Milliseconds())
		return rs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*RuleSet), nil
}

// IsStale reports whether rs has been invalidated since it was loaded.
func (en *Engine) IsStale(rs *RuleSet) bool {
	return rs.Generation != en.cache.Generation(rs.Scope)
}

// InvalidateCache drops the cached rule set of scope. The next Evaluate for
// the scope reloads from the store.
func (en *Engine) InvalidateCache(scope int64) {
	en.cache.Invalidate(scope)
}

// InvalidateAll drops every cached rule set.
func (en *Engine) InvalidateAll() {
	en.cache.InvalidateAll()
}

// SortRules orders rules for evaluation: priority descending, then ID
// ascending.
func SortRules(rules []*Rule) {
	slices.SortStableFunc(rules, func(a, b *Rule) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// compile keeps the active rules, sorts them and parses their trees.
func (en *Engine) compile(rules []*Rule) []*CompiledRule {
	active := make([]*Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil && r.IsActive {
			active = append(active, r)
		}
	}
	SortRules(active)

	out := make([]*CompiledRule, len(active))
	for i, r := range active {
		out[i] = &CompiledRule{
			Rule:      r,
			Condition: compileCondition(r.Condition, "condition", en.eval),
			Action:    compileAction(r.Action, "action"),
		}
	}
	return out
}

func (en *Engine) run(ctx context.Context, scope int64, compiled []*CompiledRule, tx Transaction) *EvaluationResult {
	res := &EvaluationResult{
		PassID:      uuid.NewString(),
		Scope:       scope,
		Transaction: tx.Clone(),
		Trace:       []TraceEntry{},
		Advisories:  []Advisory{},
	}

	for _, cr := range compiled {
		if !cr.Rule.IsActive {
			continue
		}
		step, err := en.apply(ctx, cr, res.Transaction)
		if err != nil {
			fault := asFault(err)
			fault.RuleID = cr.Rule.ID
			res.Faults = append(res.Faults, RuleFault{
				RuleID:   cr.Rule.ID,
				RuleName: cr.Rule.Name,
				Code:     fault.Code,
				Message:  fault.Message,
			})
			logger.WarnRuleFault()
			logger.Warn("rule skipped",
				"pass_id", res.PassID,
				"scope", scope,
				"rule_id", cr.Rule.ID,
				"code", string(fault.Code),
				"error", fault.Message)
			continue
		}
		if !step.matched {
			continue
		}

		res.Transaction = step.tx
		res.Advisories = append(res.Advisories, step.advisories...)
		res.Trace = append(res.Trace, TraceEntry{
			RuleID:      cr.Rule.ID,
			RuleName:    cr.Rule.Name,
			Explanation: step.explanation,
		})
		if step.stop {
			res.Halted = true
			break
		}
	}
	return res
}

type ruleStep struct {
	matched     bool
	tx          Transaction
	explanation string
	advisories  []Advisory
	stop        bool
}

// apply evaluates one rule. Nothing it produces reaches the result unless it
// returns without error.
func (en *Engine) apply(ctx context.Context, cr *CompiledRule, tx Transaction) (step ruleStep, err error) {
	defer func() {
		if r := recover(); r != nil {
			step = ruleStep{}
			err = faultf(FaultPanic, "panic during evaluation: %v", r)
		}
	}()

	matched, why, err := en.eval.Evaluate(cr.Condition, tx)
	if err != nil || !matched {
		return ruleStep{}, err
	}

	if sc, ok := cr.Action.(*SetCategory); ok && en.categories != nil {
		exists, err := en.categories.CategoryExists(ctx, cr.Rule.ScopeID, sc.CategoryID)
		if err != nil {
			return ruleStep{}, faultf(FaultReferenceCheck, "category %d: %v", sc.CategoryID, err)
		}
		if !exists {
			return ruleStep{}, faultf(FaultCategoryMissing, "category %d no longer exists", sc.CategoryID)
		}
	}

	var staged AdvisoryBuffer
	out, actionWhy, stop, err := en.exec.Execute(cr.Action, tx, &staged)
	if err != nil {
		return ruleStep{}, err
	}
	for i := range staged {
		staged[i].RuleID = cr.Rule.ID
	}
	return ruleStep{
		matched:     true,
		tx:          out,
		explanation: why + "; " + actionWhy,
		advisories:  staged,
		stop:        stop,
	}, nil
}

func asFault(err error) *EvaluationFault {
	var f *EvaluationFault
	if errors.As(err, &f) {
		c := *f
		return &c
	}
	return faultf(FaultUnknownNode, "%v", err)
}
