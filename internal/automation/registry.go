package automation

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Registry is the in-memory view of rules and groups, backed by the
// repository. Reads hit the cache; writes go through the repository
// first and update the cache only on success.
//
// All returned rules and groups are deep copies, so callers can mutate
// them without corrupting the cache.
type Registry struct {
	repo *Repository

	mu     sync.RWMutex
	rules  map[string]*Rule
	groups map[string]*Group
}

// NewRegistry creates an empty registry. Call Load before use.
func NewRegistry(repo *Repository) *Registry {
	return &Registry{
		repo:   repo,
		rules:  make(map[string]*Rule),
		groups: make(map[string]*Group),
	}
}

// Load populates the cache from the repository. Called at startup and
// safe to call again to refresh.
func (reg *Registry) Load(ctx context.Context) error {
	rules, err := reg.repo.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("loading rules: %w", err)
	}
	groups, err := reg.repo.ListGroups(ctx)
	if err != nil {
		return fmt.Errorf("loading groups: %w", err)
	}

	reg.mu.Lock()
	defer reg.mu.Unlock()

	reg.rules = make(map[string]*Rule, len(rules))
	for _, r := range rules {
		reg.rules[r.ID] = r
	}
	reg.groups = make(map[string]*Group, len(groups))
	for _, g := range groups {
		reg.groups[g.ID] = g
	}

	return nil
}

// ─── Rules ───────────────────────────────────────────────────────────────────

// GetRule returns a copy of one rule.
func (reg *Registry) GetRule(id string) (*Rule, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	rule, ok := reg.rules[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return rule.DeepCopy(), nil
}

// ListRules returns copies of all rules.
func (reg *Registry) ListRules() []Rule {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Rule, 0, len(reg.rules))
	for _, r := range reg.rules {
		out = append(out, *r.DeepCopy())
	}
	return out
}

// SaveRule validates and persists a rule, creating or updating as
// needed, then refreshes the cache entry.
func (reg *Registry) SaveRule(ctx context.Context, rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}

	reg.mu.RLock()
	_, exists := reg.rules[rule.ID]
	reg.mu.RUnlock()

	var err error
	if exists {
		err = reg.repo.UpdateRule(ctx, rule)
	} else {
		err = reg.repo.CreateRule(ctx, rule)
	}
	if err != nil {
		return err
	}

	reg.mu.Lock()
	reg.rules[rule.ID] = rule.DeepCopy()
	reg.mu.Unlock()
	return nil
}

// DeleteRule removes a rule from storage and cache.
func (reg *Registry) DeleteRule(ctx context.Context, id string) error {
	if err := reg.repo.DeleteRule(ctx, id); err != nil {
		return err
	}
	reg.mu.Lock()
	delete(reg.rules, id)
	reg.mu.Unlock()
	return nil
}

// SetRuleEnabled flips a rule's enabled flag in storage and cache.
func (reg *Registry) SetRuleEnabled(ctx context.Context, id string, enabled bool) error {
	if err := reg.repo.SetRuleEnabled(ctx, id, enabled); err != nil {
		return err
	}
	reg.mu.Lock()
	if rule, ok := reg.rules[id]; ok {
		rule.Enabled = enabled
	}
	reg.mu.Unlock()
	return nil
}

// TouchLastRun records the latest execution start in storage and cache.
func (reg *Registry) TouchLastRun(ctx context.Context, id string, at time.Time) error {
	if err := reg.repo.TouchLastRun(ctx, id, at); err != nil {
		return err
	}
	reg.mu.Lock()
	if rule, ok := reg.rules[id]; ok {
		t := at
		rule.LastRun = &t
	}
	reg.mu.Unlock()
	return nil
}

// ─── Groups ──────────────────────────────────────────────────────────────────

// GetGroup returns a copy of one group.
func (reg *Registry) GetGroup(id string) (*Group, error) {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	g, ok := reg.groups[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrGroupNotFound, id)
	}
	return g.DeepCopy(), nil
}

// ListGroups returns copies of all groups.
func (reg *Registry) ListGroups() []Group {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	out := make([]Group, 0, len(reg.groups))
	for _, g := range reg.groups {
		out = append(out, *g.DeepCopy())
	}
	return out
}

// SaveGroup validates and persists a group, then refreshes the cache.
func (reg *Registry) SaveGroup(ctx context.Context, g *Group) error {
	if err := ValidateGroup(g); err != nil {
		return err
	}

	reg.mu.RLock()
	_, exists := reg.groups[g.ID]
	reg.mu.RUnlock()

	var err error
	if exists {
		err = reg.repo.UpdateGroup(ctx, g)
	} else {
		err = reg.repo.CreateGroup(ctx, g)
	}
	if err != nil {
		return err
	}

	reg.mu.Lock()
	reg.groups[g.ID] = g.DeepCopy()
	reg.mu.Unlock()
	return nil
}

// DeleteGroup removes a group from storage and cache.
func (reg *Registry) DeleteGroup(ctx context.Context, id string) error {
	if err := reg.repo.DeleteGroup(ctx, id); err != nil {
		return err
	}
	reg.mu.Lock()
	delete(reg.groups, id)
	reg.mu.Unlock()
	return nil
}

// ─── Scope resolution ────────────────────────────────────────────────────────

// ScopeForRule returns the union of device IDs from every group with
// automation enabled that attaches the rule. A rule attached to no
// group has an empty scope; its specific-target actions still resolve
// through their own device lists at conflict-detection time, but
// execution requires a scope.
func (reg *Registry) ScopeForRule(ruleID string) []string {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var scope []string
	for _, g := range reg.groups {
		if !g.Automation.Enabled {
			continue
		}
		if lo.Contains(g.Automation.RuleIDs, ruleID) {
			scope = append(scope, g.DeviceIDs...)
		}
	}
	return lo.Uniq(scope)
}

// GroupsForRule returns copies of the groups that attach a rule,
// whether or not their automation block is enabled.
func (reg *Registry) GroupsForRule(ruleID string) []Group {
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	var out []Group
	for _, g := range reg.groups {
		if lo.Contains(g.Automation.RuleIDs, ruleID) {
			out = append(out, *g.DeepCopy())
		}
	}
	return out
}
