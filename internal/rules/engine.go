// Package rules provides the CEL-Go based program rule engine. Program rules
// are tenant-configured checks layered on top of the built-in requirements.
package rules

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine is the CEL-based rule evaluation engine.
type Engine struct {
	mu            sync.RWMutex
	env           *cel.Env
	compiledRules map[string]*CompiledRule
	maxWorkers    int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Rule    *domain.ProgramRule
	Program cel.Program
}

// NewEngine creates a new rule evaluation engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("coi", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("project_type", cel.StringType),
		cel.Variable("trades", cel.ListType(cel.StringType)),
		cel.Variable("tier", cel.IntType),
		cel.Variable("hazardous_materials", cel.BoolType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:           env,
		compiledRules: make(map[string]*CompiledRule),
		maxWorkers:    maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(rule *domain.ProgramRule) error {
	if rule == nil {
		return fmt.Errorf("rule is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(rule)
	return err
}

// LoadRule compiles and loads a rule into the engine.
func (e *Engine) LoadRule(rule *domain.ProgramRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	compiled, err := e.compileRule(rule)
	if err != nil {
		return err
	}

	e.compiledRules[rule.ID] = compiled
	return nil
}

// LoadRules compiles and loads multiple rules. Disabled rules are skipped.
func (e *Engine) LoadRules(rules []*domain.ProgramRule) error {
	for _, r := range rules {
		if r.Enabled {
			if err := e.LoadRule(r); err != nil {
				return err
			}
		}
	}
	return nil
}

// UnloadRule removes a rule from the engine.
func (e *Engine) UnloadRule(ruleID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.compiledRules, ruleID)
}

// EvaluateInput is the certificate context rules are evaluated against.
type EvaluateInput struct {
	COI                *domain.COI
	ProjectType        string
	Trades             []string
	Tier               int
	HazardousMaterials bool
}

// EvaluateAll evaluates all loaded rules in parallel. Results are ordered by
// rule ID.
func (e *Engine) EvaluateAll(ctx context.Context, input *EvaluateInput) ([]domain.RuleResult, error) {
	e.mu.RLock()
	rules := make([]*CompiledRule, 0, len(e.compiledRules))
	for _, rule := range e.compiledRules {
		rules = append(rules, rule)
	}
	e.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].Rule.ID < rules[j].Rule.ID })

	trades := input.Trades
	if trades == nil {
		trades = []string{}
	}
	activation := map[string]any{
		"coi":                 COIActivation(input.COI),
		"project_type":        input.ProjectType,
		"trades":              trades,
		"tier":                int64(input.Tier),
		"hazardous_materials": input.HazardousMaterials,
	}

	results := make([]domain.RuleResult, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = e.evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) domain.RuleResult {
	start := time.Now()

	result := domain.RuleResult{
		RuleID:   rule.Rule.ID,
		Code:     rule.Rule.Code,
		Field:    rule.Rule.Field,
		Severity: rule.Rule.Severity,
		Message:  rule.Rule.Message,
	}
	if result.Severity == "" {
		result.Severity = domain.SeverityError
	}

	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		result.Error = fmt.Sprintf("evaluation error: %v", err)
		result.ProcessMs = time.Since(start).Milliseconds()
		return result
	}

	passed, ok := out.(types.Bool)
	if !ok {
		result.Error = fmt.Sprintf("expression returned %s, not bool", out.Type().TypeName())
	} else {
		result.Passed = bool(passed)
	}
	result.ProcessMs = time.Since(start).Milliseconds()
	return result
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.compiledRules)
}

// ReloadRules clears all existing rules and loads new ones.
// The loaded set is unchanged if any enabled rule fails to compile.
func (e *Engine) ReloadRules(rules []*domain.ProgramRule) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	newRules := make(map[string]*CompiledRule)
	for _, r := range rules {
		if !r.Enabled {
			continue
		}

		compiled, err := e.compileRule(r)
		if err != nil {
			return err
		}
		newRules[r.ID] = compiled
	}

	e.compiledRules = newRules
	return nil
}

// GetLoadedRules returns the currently loaded rules, ordered by ID.
func (e *Engine) GetLoadedRules() []*domain.ProgramRule {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.ProgramRule, 0, len(e.compiledRules))
	for _, compiled := range e.compiledRules {
		rules = append(rules, compiled.Rule)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].ID < rules[j].ID })
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compiledRules = make(map[string]*CompiledRule)
	return nil
}

func (e *Engine) compileRule(rule *domain.ProgramRule) (*CompiledRule, error) {
	ast, issues := e.env.Compile(rule.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
	}

	if outputType := ast.OutputType(); outputType != cel.BoolType && outputType != cel.DynType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", rule.ID, outputType)
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
	}

	return &CompiledRule{
		Rule:    rule,
		Program: program,
	}, nil
}
