package ledger

import "sync"

// EntityKind tags persisted entity rows.
type EntityKind string

const (
	KindToken              EntityKind = "token"
	KindAccount            EntityKind = "account"
	KindSmartMarginAccount EntityKind = "smart_margin_account"
	KindPool               EntityKind = "pool"
	KindFundingRate        EntityKind = "funding_rate"
	KindPositionCounter    EntityKind = "position_counter"
	KindPosition           EntityKind = "position"
	KindPositionSnapshot   EntityKind = "position_snapshot"
	KindCollateralFlow     EntityKind = "collateral_flow"
	KindProtocol           EntityKind = "protocol"
)

// Dirty is one entity written during an event, in write order.
type Dirty struct {
	Kind   EntityKind
	ID     string
	Entity interface{}
}

// MemStore holds the full entity state in memory. Event processing is
// single-threaded; the mutex covers readers on other goroutines (query
// freshness checks, tests).
type MemStore struct {
	mu sync.RWMutex

	tokens    map[string]*Token
	accounts  map[string]*Account
	smAccts   map[string]*SmartMarginAccount
	pools     map[string]*Pool
	funding   map[string]*FundingRate
	counters  map[string]*PositionCounter
	positions map[string]*Position
	snapshots map[string]*PositionSnapshot
	flows     map[string]*CollateralFlow
	protocols map[string]*Protocol
}

func NewMemStore() *MemStore {
	return &MemStore{
		tokens:    make(map[string]*Token),
		accounts:  make(map[string]*Account),
		smAccts:   make(map[string]*SmartMarginAccount),
		pools:     make(map[string]*Pool),
		funding:   make(map[string]*FundingRate),
		counters:  make(map[string]*PositionCounter),
		positions: make(map[string]*Position),
		snapshots: make(map[string]*PositionSnapshot),
		flows:     make(map[string]*CollateralFlow),
		protocols: make(map[string]*Protocol),
	}
}

func (m *MemStore) Token(id string) (*Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[id]
	return t, ok
}

func (m *MemStore) Account(id string) (*Account, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.accounts[id]
	return a, ok
}

func (m *MemStore) SmartMarginAccount(id string) (*SmartMarginAccount, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.smAccts[id]
	return s, ok
}

func (m *MemStore) Pool(id string) (*Pool, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pools[id]
	return p, ok
}

func (m *MemStore) FundingRate(id string) (*FundingRate, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.funding[id]
	return f, ok
}

func (m *MemStore) PositionCounter(id string) (*PositionCounter, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.counters[id]
	return c, ok
}

func (m *MemStore) Position(id string) (*Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.positions[id]
	return p, ok
}

func (m *MemStore) PositionSnapshot(id string) (*PositionSnapshot, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.snapshots[id]
	return s, ok
}

func (m *MemStore) CollateralFlow(id string) (*CollateralFlow, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flows[id]
	return f, ok
}

func (m *MemStore) Protocol(id string) (*Protocol, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.protocols[id]
	return p, ok
}

// Stage is a copy-on-read overlay over a MemStore scoped to one event.
// Handlers read through the stage, mutate clones, and register every
// mutation with a Put. Commit applies all registered writes to the base
// store at once; discarding the stage on error leaves the base untouched,
// making each event's mutations atomic.
type Stage struct {
	base *MemStore

	tokens    map[string]*Token
	accounts  map[string]*Account
	smAccts   map[string]*SmartMarginAccount
	pools     map[string]*Pool
	funding   map[string]*FundingRate
	counters  map[string]*PositionCounter
	positions map[string]*Position
	snapshots map[string]*PositionSnapshot
	flows     map[string]*CollateralFlow
	protocols map[string]*Protocol

	order []dirtyRef
	seen  map[dirtyRef]bool
}

type dirtyRef struct {
	kind EntityKind
	id   string
}

func NewStage(base *MemStore) *Stage {
	return &Stage{
		base:      base,
		tokens:    make(map[string]*Token),
		accounts:  make(map[string]*Account),
		smAccts:   make(map[string]*SmartMarginAccount),
		pools:     make(map[string]*Pool),
		funding:   make(map[string]*FundingRate),
		counters:  make(map[string]*PositionCounter),
		positions: make(map[string]*Position),
		snapshots: make(map[string]*PositionSnapshot),
		flows:     make(map[string]*CollateralFlow),
		protocols: make(map[string]*Protocol),
		seen:      make(map[dirtyRef]bool),
	}
}

func (s *Stage) mark(kind EntityKind, id string) {
	ref := dirtyRef{kind, id}
	if s.seen[ref] {
		return
	}
	s.seen[ref] = true
	s.order = append(s.order, ref)
}

func (s *Stage) Token(id string) (*Token, bool) {
	if t, ok := s.tokens[id]; ok {
		return t, true
	}
	if t, ok := s.base.Token(id); ok {
		c := t.Clone()
		s.tokens[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutToken(t *Token) {
	s.tokens[t.ID] = t
	s.mark(KindToken, t.ID)
}

func (s *Stage) Account(id string) (*Account, bool) {
	if a, ok := s.accounts[id]; ok {
		return a, true
	}
	if a, ok := s.base.Account(id); ok {
		c := a.Clone()
		s.accounts[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutAccount(a *Account) {
	s.accounts[a.ID] = a
	s.mark(KindAccount, a.ID)
}

func (s *Stage) SmartMarginAccount(id string) (*SmartMarginAccount, bool) {
	if sm, ok := s.smAccts[id]; ok {
		return sm, true
	}
	if sm, ok := s.base.SmartMarginAccount(id); ok {
		c := sm.Clone()
		s.smAccts[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutSmartMarginAccount(sm *SmartMarginAccount) {
	s.smAccts[sm.ID] = sm
	s.mark(KindSmartMarginAccount, sm.ID)
}

func (s *Stage) Pool(id string) (*Pool, bool) {
	if p, ok := s.pools[id]; ok {
		return p, true
	}
	if p, ok := s.base.Pool(id); ok {
		c := p.Clone()
		s.pools[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutPool(p *Pool) {
	s.pools[p.ID] = p
	s.mark(KindPool, p.ID)
}

func (s *Stage) FundingRate(id string) (*FundingRate, bool) {
	if f, ok := s.funding[id]; ok {
		return f, true
	}
	if f, ok := s.base.FundingRate(id); ok {
		c := f.Clone()
		s.funding[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutFundingRate(f *FundingRate) {
	s.funding[f.ID] = f
	s.mark(KindFundingRate, f.ID)
}

func (s *Stage) PositionCounter(id string) (*PositionCounter, bool) {
	if c, ok := s.counters[id]; ok {
		return c, true
	}
	if c, ok := s.base.PositionCounter(id); ok {
		cl := c.Clone()
		s.counters[id] = cl
		return cl, true
	}
	return nil, false
}

func (s *Stage) PutPositionCounter(c *PositionCounter) {
	s.counters[c.ID] = c
	s.mark(KindPositionCounter, c.ID)
}

func (s *Stage) Position(id string) (*Position, bool) {
	if p, ok := s.positions[id]; ok {
		return p, true
	}
	if p, ok := s.base.Position(id); ok {
		c := p.Clone()
		s.positions[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutPosition(p *Position) {
	s.positions[p.ID] = p
	s.mark(KindPosition, p.ID)
}

func (s *Stage) PutPositionSnapshot(snap *PositionSnapshot) {
	s.snapshots[snap.ID] = snap
	s.mark(KindPositionSnapshot, snap.ID)
}

func (s *Stage) PutCollateralFlow(f *CollateralFlow) {
	s.flows[f.ID] = f
	s.mark(KindCollateralFlow, f.ID)
}

func (s *Stage) Protocol(id string) (*Protocol, bool) {
	if p, ok := s.protocols[id]; ok {
		return p, true
	}
	if p, ok := s.base.Protocol(id); ok {
		c := p.Clone()
		s.protocols[id] = c
		return c, true
	}
	return nil, false
}

func (s *Stage) PutProtocol(p *Protocol) {
	s.protocols[p.ID] = p
	s.mark(KindProtocol, p.ID)
}

// Commit applies all registered writes to the base store and returns them
// in write order. The stage must not be used afterwards.
func (s *Stage) Commit() []Dirty {
	s.base.mu.Lock()
	defer s.base.mu.Unlock()

	dirty := make([]Dirty, 0, len(s.order))
	for _, ref := range s.order {
		var entity interface{}
		switch ref.kind {
		case KindToken:
			t := s.tokens[ref.id]
			s.base.tokens[ref.id] = t
			entity = t
		case KindAccount:
			a := s.accounts[ref.id]
			s.base.accounts[ref.id] = a
			entity = a
		case KindSmartMarginAccount:
			sm := s.smAccts[ref.id]
			s.base.smAccts[ref.id] = sm
			entity = sm
		case KindPool:
			p := s.pools[ref.id]
			s.base.pools[ref.id] = p
			entity = p
		case KindFundingRate:
			f := s.funding[ref.id]
			s.base.funding[ref.id] = f
			entity = f
		case KindPositionCounter:
			c := s.counters[ref.id]
			s.base.counters[ref.id] = c
			entity = c
		case KindPosition:
			p := s.positions[ref.id]
			s.base.positions[ref.id] = p
			entity = p
		case KindPositionSnapshot:
			snap := s.snapshots[ref.id]
			s.base.snapshots[ref.id] = snap
			entity = snap
		case KindCollateralFlow:
			f := s.flows[ref.id]
			s.base.flows[ref.id] = f
			entity = f
		case KindProtocol:
			p := s.protocols[ref.id]
			s.base.protocols[ref.id] = p
			entity = p
		}
		dirty = append(dirty, Dirty{Kind: ref.kind, ID: ref.id, Entity: entity})
	}
	return dirty
}
