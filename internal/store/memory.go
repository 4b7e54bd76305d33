package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"invomat/internal/automation"
	"invomat/internal/table"
)

// Memory is the in-process store. Documents are cloned on the way in and
// out, so callers can never alias store-internal state; mutate closures run
// under the store lock, which is what makes single-document updates atomic.
type Memory struct {
	mu          sync.RWMutex
	automations map[string]*automation.Automation
	runs        map[string]*automation.Run
	tables      map[string]*table.Table
	senders     map[string][]learnedSender // ownerID -> mappings
}

type learnedSender struct {
	Name   string
	Emails []string
}

func NewMemory() *Memory {
	return &Memory{
		automations: map[string]*automation.Automation{},
		runs:        map[string]*automation.Run{},
		tables:      map[string]*table.Table{},
		senders:     map[string][]learnedSender{},
	}
}

// clone deep-copies a document through JSON. Documents are small and this
// keeps copy semantics identical to what a real document store would give.
func clone[T any](src *T) *T {
	b, err := json.Marshal(src)
	if err != nil {
		panic("store: document not serializable: " + err.Error())
	}
	var dst T
	if err := json.Unmarshal(b, &dst); err != nil {
		panic("store: document not deserializable: " + err.Error())
	}
	return &dst
}

func (m *Memory) InsertAutomation(_ context.Context, a *automation.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.automations[a.ID] = clone(a)
	return nil
}

func (m *Memory) GetAutomation(_ context.Context, id string) (*automation.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.automations[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(a), nil
}

func (m *Memory) ListAutomations(_ context.Context, ownerID string) ([]*automation.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*automation.Automation
	for _, a := range m.automations {
		if a.OwnerID == ownerID {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) ListAutomationsByStatus(_ context.Context, status automation.Status) ([]*automation.Automation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*automation.Automation
	for _, a := range m.automations {
		if a.Status == status {
			out = append(out, clone(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateAutomation(_ context.Context, id string, mutate func(*automation.Automation) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.automations[id]
	if !ok {
		return ErrNotFound
	}
	cp := clone(a)
	if err := mutate(cp); err != nil {
		return err
	}
	m.automations[id] = cp
	return nil
}

func (m *Memory) DeleteAutomation(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.automations[id]; !ok {
		return false, nil
	}
	delete(m.automations, id)
	return true, nil
}

func (m *Memory) InsertRun(_ context.Context, r *automation.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs[r.ID] = clone(r)
	return nil
}

func (m *Memory) UpdateRun(_ context.Context, id string, mutate func(*automation.Run) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.runs[id]
	if !ok {
		return ErrNotFound
	}
	cp := clone(r)
	if err := mutate(cp); err != nil {
		return err
	}
	m.runs[id] = cp
	return nil
}

func (m *Memory) ListRuns(_ context.Context, automationID string, limit int) ([]*automation.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*automation.Run
	for _, r := range m.runs {
		if r.AutomationID == automationID {
			out = append(out, clone(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) FindLearnedSenders(_ context.Context, ownerID, vendor string) ([]string, error) {
	needle := strings.ToLower(strings.TrimSpace(vendor))
	if needle == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.senders[ownerID] {
		if strings.Contains(strings.ToLower(s.Name), needle) {
			return append([]string(nil), s.Emails...), nil
		}
	}
	return nil, nil
}

func (m *Memory) PutLearnedSender(_ context.Context, ownerID, name string, emails []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.senders[ownerID]
	for i := range list {
		if strings.EqualFold(list[i].Name, name) {
			list[i].Emails = append([]string(nil), emails...)
			return nil
		}
	}
	m.senders[ownerID] = append(list, learnedSender{Name: name, Emails: append([]string(nil), emails...)})
	return nil
}

func (m *Memory) InsertTable(_ context.Context, t *table.Table) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[t.ID] = clone(t)
	return nil
}

func (m *Memory) GetTable(_ context.Context, id string) (*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (m *Memory) ListTables(_ context.Context, ownerID string) ([]*table.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*table.Table
	for _, t := range m.tables {
		if t.OwnerID == ownerID {
			out = append(out, clone(t))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *Memory) UpdateTable(_ context.Context, id string, mutate func(*table.Table) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tables[id]
	if !ok {
		return ErrNotFound
	}
	cp := clone(t)
	if err := mutate(cp); err != nil {
		return err
	}
	m.tables[id] = cp
	return nil
}

func (m *Memory) DeleteTable(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tables[id]; !ok {
		return false, nil
	}
	delete(m.tables, id)
	return true, nil
}

func (m *Memory) Close() error { return nil }
