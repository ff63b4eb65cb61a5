package autoaccept

import (
	"context"
	"sync"

	"github.com/example/job-dispatch/internal/models"
)

// RuleStore is the provider preference store boundary. PostgresStore
// implements it for production; MemoryRuleStore backs tests and local runs.
type RuleStore interface {
	ListRules(ctx context.Context, providerID string) ([]models.AutoAcceptRule, error)
	PutRule(ctx context.Context, r models.AutoAcceptRule) error
	DeleteRule(ctx context.Context, providerID, ruleID string) error
}

type MemoryRuleStore struct {
	mu    sync.RWMutex
	rules map[string]map[string]models.AutoAcceptRule // providerID -> ruleID -> rule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[string]map[string]models.AutoAcceptRule)}
}

func (m *MemoryRuleStore) ListRules(ctx context.Context, providerID string) ([]models.AutoAcceptRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.AutoAcceptRule, 0, len(m.rules[providerID]))
	for _, r := range m.rules[providerID] {
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryRuleStore) PutRule(ctx context.Context, r models.AutoAcceptRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rules[r.ProviderID] == nil {
		m.rules[r.ProviderID] = make(map[string]models.AutoAcceptRule)
	}
	m.rules[r.ProviderID][r.ID] = r
	return nil
}

func (m *MemoryRuleStore) DeleteRule(ctx context.Context, providerID, ruleID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rules[providerID], ruleID)
	return nil
}
