package policy

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/rs/zerolog"
)

// Engine evaluates admission policies before lifecycle operations.
type Engine struct {
	mu              sync.RWMutex
	policies        map[string]*compiledPolicy
	logger          zerolog.Logger
	builtinPolicies []Policy
	environment     string

	// disabled names policies switched off by the operator. It survives
	// SetPolicies so a reload cannot re-enable them.
	disabled map[string]bool
}

// compiledPolicy is a policy with its deny query prepared for reuse.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a new policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies:        make(map[string]*compiledPolicy),
		disabled:        make(map[string]bool),
		logger:          logger.With().Str("component", "policy-engine").Logger(),
		builtinPolicies: GetBuiltinPolicies(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// SetEnvironment sets the environment reported to policies in input.context.
func (e *Engine) SetEnvironment(env string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.environment = env
}

// Admit evaluates every enabled policy against input. A policy that fails
// to evaluate is logged and reported as a warning; it never blocks.
func (e *Engine) Admit(ctx context.Context, input Input) (*Decision, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	if input.Context == nil {
		input.Context = &Context{Environment: e.environment, Timestamp: startTime.UTC()}
	}

	decision := &Decision{Allowed: true}
	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("operation", input.Operation).
				Msg("Policy evaluation failed")
			decision.Warnings = append(decision.Warnings, Violation{
				Policy:   name,
				Message:  fmt.Sprintf("policy %s evaluation failed: %v", name, err),
				Severity: SeverityWarning,
			})
			continue
		}

		for _, v := range violations {
			if v.Severity.Blocking() {
				decision.Allowed = false
				decision.Violations = append(decision.Violations, v)
			} else {
				decision.Warnings = append(decision.Warnings, v)
			}
		}
	}

	decision.EvaluatedAt = time.Now()
	decision.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("operation", input.Operation).
		Str("project", input.Project.Name).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Admission evaluated")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input Input) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		// deny is a set, which evaluates to a slice.
		if denySet, ok := result.Expressions[0].Value.([]interface{}); ok {
			for _, d := range denySet {
				violations = append(violations, createViolation(cp.policy, d))
			}
		}
	}

	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(module string) string {
	for _, line := range strings.Split(module, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "pilot.policies"
}

// createViolation converts one element of a deny set into a Violation.
func createViolation(policy *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   policy.Name,
		Severity: policy.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		for k, val := range v {
			if k == "message" || k == "severity" {
				continue
			}
			if violation.Details == nil {
				violation.Details = make(map[string]interface{})
			}
			violation.Details[k] = val
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}

	return violation
}

// compile prepares the deny query of a policy.
func compile(ctx context.Context, policy *Policy) (*compiledPolicy, error) {
	query, err := rego.New(
		rego.Module(policy.Name+".rego", policy.Rego),
		rego.Query(fmt.Sprintf("data.%s.deny", extractPackageName(policy.Rego))),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare policy %s: %w", policy.Name, err)
	}

	return &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}, nil
}

// loadBuiltinPolicies compiles the built-in policies. Callers hold e.mu or
// have exclusive access.
func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	for i := range e.builtinPolicies {
		cp, err := compile(ctx, &e.builtinPolicies[i])
		if err != nil {
			return err
		}
		e.policies[cp.policy.Name] = cp
	}

	e.logger.Debug().
		Int("count", len(e.builtinPolicies)).
		Msg("Built-in policies loaded")

	return nil
}

// SetPolicies replaces every non-built-in policy with policies. Either all
// of them compile and are installed, or nothing changes.
func (e *Engine) SetPolicies(ctx context.Context, policies []Policy) error {
	compiled := make(map[string]*compiledPolicy, len(policies))
	for i := range policies {
		p := policies[i]
		cp, err := compile(ctx, &p)
		if err != nil {
			return err
		}
		compiled[p.Name] = cp
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for name, cp := range e.policies {
		if cp.policy.Source != "builtin" {
			delete(e.policies, name)
		}
	}
	for name, cp := range compiled {
		if existing, ok := e.policies[name]; ok && existing.policy.Source == "builtin" {
			e.logger.Warn().Str("policy", name).Msg("Loaded policy shadows a built-in policy, skipping")
			continue
		}
		if e.disabled[name] {
			cp.policy.Enabled = false
		}
		e.policies[name] = cp
	}

	e.logger.Info().
		Int("count", len(compiled)).
		Msg("Policies installed")

	return nil
}

// LoadPolicies loads policy files from paths and installs them.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	policies, err := NewLoader(e.logger).LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}
	return e.SetPolicies(ctx, policies)
}

// Watch reinstalls the policies under paths whenever one of their files
// changes. It stops when ctx is cancelled.
func (e *Engine) Watch(ctx context.Context, paths []string) error {
	return NewLoader(e.logger).Watch(ctx, paths, func(policies []Policy) error {
		return e.SetPolicies(ctx, policies)
	})
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	return cp.policy, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// DisablePolicy switches off the named policy. The policy stays disabled
// across reloads.
func (e *Engine) DisablePolicy(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = false
	e.disabled[name] = true
	e.logger.Info().Str("policy", name).Msg("Policy disabled")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
