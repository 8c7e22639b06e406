// Package permission decides, for every tool invocation, whether it proceeds
// automatically, is blocked, or requires interactive confirmation. Resolution
// order is fixed: explicit deny match, then explicit allow match, then the
// mode default, then the interactive prompt.
package permission

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"tandem/internal/config"
	"tandem/internal/logging"
	"tandem/internal/store"
	"tandem/internal/types"
)

// Mode is a named policy setting the default resolution for tool calls that
// match no explicit rule.
type Mode string

const (
	ModeDefault           Mode = "default"
	ModeAcceptEdits       Mode = "acceptEdits"
	ModeBypassPermissions Mode = "bypassPermissions"
	ModePlan              Mode = "plan"
	ModeDontAsk           Mode = "dontAsk"
)

// ParseMode validates a mode name from config.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeDefault, ModeAcceptEdits, ModeBypassPermissions, ModePlan, ModeDontAsk:
		return Mode(s), nil
	case "":
		return ModeDefault, nil
	}
	return "", fmt.Errorf("%w: unknown permission mode %q", ErrUnknownMode, s)
}

// ToolClass groups tools by the kind of access they need. The mode defaults
// key off the class: read-only tools auto-allow everywhere except an explicit
// deny, mutating tools depend on the mode.
type ToolClass string

const (
	ClassRead  ToolClass = "read"
	ClassEdit  ToolClass = "edit"
	ClassExec  ToolClass = "exec"
	ClassAgent ToolClass = "agent"
)

// Classifier reports the class of a named tool. Unknown tools are treated as
// ClassExec, the most restrictive class short of an outright deny.
type Classifier func(toolName string) ToolClass

// decisionsKey is where remembered always/never answers persist.
const decisionsKey = "permission/decisions"

// persistedDecisions is the durable record of always/never answers.
type persistedDecisions struct {
	Allow []config.PermissionRule `json:"allow"`
	Deny  []config.PermissionRule `json:"deny"`
}

// Gate is the permission checkpoint in front of every tool execution. One
// instance per loop; rules and remembered decisions are guarded for the
// concurrent dispatch path.
type Gate struct {
	mu       sync.RWMutex
	mode     Mode
	allow    []compiledRule
	deny     []compiledRule
	always   []compiledRule
	never    []compiledRule
	classify Classifier
	prompter types.PermissionPrompter
	st       types.PersistentStore

	watcher *ruleWatcher
}

// compiledRule is a PermissionRule with its argument pattern pre-compiled.
type compiledRule struct {
	rule config.PermissionRule
	re   *regexp.Regexp // nil when the rule has no pattern
}

// Option configures a Gate.
type Option func(*Gate)

// WithPrompter installs the interactive resolver for ask decisions. Without
// one, an ask resolution is a fatal error for that tool call.
func WithPrompter(p types.PermissionPrompter) Option {
	return func(g *Gate) { g.prompter = p }
}

// WithStore enables persistence of always/never answers across restarts.
func WithStore(st types.PersistentStore) Option {
	return func(g *Gate) { g.st = st }
}

// NewGate builds a gate from validated config rules. Malformed rules are a
// load error here as well, so a gate constructed directly (not through
// config.Load) still rejects them.
func NewGate(cfg config.PermissionConfig, classify Classifier, opts ...Option) (*Gate, error) {
	mode, err := ParseMode(cfg.Mode)
	if err != nil {
		return nil, err
	}
	if classify == nil {
		classify = func(string) ToolClass { return ClassExec }
	}

	g := &Gate{mode: mode, classify: classify}
	for _, opt := range opts {
		opt(g)
	}

	if err := g.setRules(cfg.Allow, cfg.Deny); err != nil {
		return nil, err
	}
	g.loadPersisted()
	return g, nil
}

// setRules compiles and swaps the configured rule lists.
func (g *Gate) setRules(allow, deny []config.PermissionRule) error {
	compiledAllow, err := compileRules(allow)
	if err != nil {
		return err
	}
	compiledDeny, err := compileRules(deny)
	if err != nil {
		return err
	}

	g.mu.Lock()
	g.allow = compiledAllow
	g.deny = compiledDeny
	g.mu.Unlock()
	return nil
}

func compileRules(rules []config.PermissionRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		cr, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		out = append(out, cr)
	}
	return out, nil
}

func compileRule(r config.PermissionRule) (compiledRule, error) {
	if err := r.Validate(); err != nil {
		return compiledRule{}, err
	}
	cr := compiledRule{rule: r}
	if r.Pattern != "" {
		re, err := patternToRegexp(r.Pattern)
		if err != nil {
			return compiledRule{}, fmt.Errorf("invalid pattern %q in rule for tool %s: %w", r.Pattern, r.Tool, err)
		}
		cr.re = re
	}
	return cr, nil
}

// patternToRegexp turns a glob-like argument pattern ("git *") into an
// anchored regexp. Only * is special; everything else matches literally.
func patternToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	for _, part := range strings.Split(pattern, "*") {
		if b.Len() > 1 {
			b.WriteString(".*")
		}
		b.WriteString(regexp.QuoteMeta(part))
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}

// matches reports whether the rule applies to this call. A rule with a
// pattern only fires when the call's primary argument matches it.
func (cr compiledRule) matches(toolName string, input map[string]any) bool {
	if cr.rule.Tool != toolName && cr.rule.Tool != "*" {
		return false
	}
	if cr.re == nil {
		return true
	}
	arg, ok := primaryArgument(input)
	if !ok {
		return false
	}
	return cr.re.MatchString(arg)
}

// primaryArgument extracts the string argument patterns scope over: the
// command for shell tools, the path for file tools.
func primaryArgument(input map[string]any) (string, bool) {
	for _, key := range []string{"command", "file_path", "path"} {
		if v, ok := input[key]; ok {
			if s, ok := v.(string); ok {
				return s, true
			}
		}
	}
	return "", false
}

// Mode returns the active permission mode.
func (g *Gate) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.mode
}

// SetMode switches the active mode.
func (g *Gate) SetMode(mode Mode) {
	g.mu.Lock()
	g.mode = mode
	g.mu.Unlock()
	logging.Permission("mode set to %s", mode)
}

// Check resolves a decision without any interactive step. Deterministic for
// a fixed rule set: the same (tool, input) pair always yields the same
// decision and reason.
func (g *Gate) Check(toolName string, input map[string]any) (types.Decision, string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, cr := range g.never {
		if cr.matches(toolName, input) {
			return types.DecisionDeny, denyReason(cr.rule, "remembered")
		}
	}
	for _, cr := range g.deny {
		if cr.matches(toolName, input) {
			return types.DecisionDeny, denyReason(cr.rule, "configured")
		}
	}
	for _, cr := range g.always {
		if cr.matches(toolName, input) {
			return types.DecisionAllow, "remembered allow rule"
		}
	}
	for _, cr := range g.allow {
		if cr.matches(toolName, input) {
			return types.DecisionAllow, "configured allow rule"
		}
	}

	class := g.classify(toolName)
	switch g.mode {
	case ModeBypassPermissions:
		return types.DecisionAllow, "bypassPermissions mode"
	case ModePlan:
		if class == ClassRead {
			return types.DecisionAllow, "read-only tool in plan mode"
		}
		return types.DecisionDeny, fmt.Sprintf("plan mode blocks %s tools", class)
	case ModeAcceptEdits:
		if class == ClassRead || class == ClassEdit {
			return types.DecisionAllow, "acceptEdits mode"
		}
		return types.DecisionAsk, fmt.Sprintf("%s tool requires confirmation", class)
	case ModeDontAsk:
		if class == ClassRead {
			return types.DecisionAllow, "read-only tool"
		}
		return types.DecisionDeny, fmt.Sprintf("dontAsk mode blocks unapproved %s tools", class)
	default:
		if class == ClassRead {
			return types.DecisionAllow, "read-only tool"
		}
		return types.DecisionAsk, fmt.Sprintf("%s tool requires confirmation", class)
	}
}

func denyReason(r config.PermissionRule, origin string) string {
	if r.Pattern != "" {
		return fmt.Sprintf("%s deny rule for tool %s matching %q", origin, r.Tool, r.Pattern)
	}
	return fmt.Sprintf("%s deny rule for tool %s", origin, r.Tool)
}

// Resolve runs Check and, when the answer is ask, blocks on the prompter.
// With no prompter configured, an unanswered ask is a hard error for the
// call, never a silent allow or deny.
func (g *Gate) Resolve(ctx context.Context, toolName string, input map[string]any) (types.Decision, string, error) {
	decision, reason := g.Check(toolName, input)
	if decision != types.DecisionAsk {
		logging.PermissionDebug("%s: %s (%s)", toolName, decision, reason)
		return decision, reason, nil
	}

	g.mu.RLock()
	prompter := g.prompter
	g.mu.RUnlock()

	if prompter == nil {
		return types.DecisionDeny, reason,
			fmt.Errorf("%w: tool %s requires confirmation and no prompter is configured", ErrPromptUnavailable, toolName)
	}

	answer, err := prompter.Prompt(ctx, toolName, input, decision)
	if err != nil {
		return types.DecisionDeny, reason, fmt.Errorf("permission prompt failed: %w", err)
	}
	logging.Permission("%s: prompt answered %s", toolName, answer)
	return answer, "interactive confirmation", nil
}

// RememberAllow records an always-allow answer for the rule scope and, with
// a store configured, persists it for future runs.
func (g *Gate) RememberAllow(rule config.PermissionRule) error {
	return g.remember(rule, true)
}

// RememberDeny records a never-allow answer for the rule scope.
func (g *Gate) RememberDeny(rule config.PermissionRule) error {
	return g.remember(rule, false)
}

func (g *Gate) remember(rule config.PermissionRule, allow bool) error {
	cr, err := compileRule(rule)
	if err != nil {
		return err
	}

	g.mu.Lock()
	if allow {
		g.always = append(g.always, cr)
	} else {
		g.never = append(g.never, cr)
	}
	rec := persistedDecisions{
		Allow: rulesOf(g.always),
		Deny:  rulesOf(g.never),
	}
	st := g.st
	g.mu.Unlock()

	if st == nil {
		return nil
	}
	if err := store.PutJSON(st, decisionsKey, rec); err != nil {
		return fmt.Errorf("failed to persist permission decision: %w", err)
	}
	return nil
}

func rulesOf(crs []compiledRule) []config.PermissionRule {
	out := make([]config.PermissionRule, 0, len(crs))
	for _, cr := range crs {
		out = append(out, cr.rule)
	}
	return out
}

// loadPersisted restores remembered decisions from the store. A corrupt
// record is logged and ignored rather than blocking startup.
func (g *Gate) loadPersisted() {
	if g.st == nil {
		return
	}
	var rec persistedDecisions
	if err := store.GetJSON(g.st, decisionsKey, &rec); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logging.Get(logging.CategoryPermission).Warn("failed to load persisted decisions: %v", err)
		}
		return
	}
	always, err := compileRules(rec.Allow)
	if err != nil {
		logging.Get(logging.CategoryPermission).Warn("discarding persisted allow decisions: %v", err)
		return
	}
	never, err := compileRules(rec.Deny)
	if err != nil {
		logging.Get(logging.CategoryPermission).Warn("discarding persisted deny decisions: %v", err)
		return
	}

	g.mu.Lock()
	g.always = always
	g.never = never
	g.mu.Unlock()
	logging.Permission("restored %d allow / %d deny remembered decisions", len(always), len(never))
}
