package catalog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/mall-resolver/internal/geo"
	"github.com/mall-resolver/internal/models"
)

var (
	ErrUnknownStore     = errors.New("unknown store")
	ErrUnknownMall      = errors.New("unknown mall")
	ErrDuplicateMallID  = errors.New("duplicate mall id")
	ErrDuplicateStoreID = errors.New("duplicate store id")
	ErrInvalidMerge     = errors.New("invalid merge")
)

// DefaultIDPrefix is prepended to minted mall ids
const DefaultIDPrefix = "M"

const idDigits = 6

// Catalog is the in-memory store and mall catalog. All mutations go through its
// methods, which keep every store's mall reference pointing at a live mall.
type Catalog struct {
	mu sync.RWMutex

	stores     map[string]*models.Store
	storeOrder []string
	malls      map[string]*models.Mall
	mallOrder  []string

	idPrefix string
	nextID   int
}

// Option configures a Catalog
type Option func(*Catalog)

// WithIDPrefix sets the prefix used when minting mall ids
func WithIDPrefix(prefix string) Option {
	return func(c *Catalog) {
		c.idPrefix = prefix
	}
}

// New builds a catalog from loaded records. Records are copied. Duplicate ids
// are rejected; store references to missing malls are kept and reported by Validate.
func New(stores []*models.Store, malls []*models.Mall, opts ...Option) (*Catalog, error) {
	c := &Catalog{
		stores:   make(map[string]*models.Store, len(stores)),
		malls:    make(map[string]*models.Mall, len(malls)),
		idPrefix: DefaultIDPrefix,
	}
	for _, opt := range opts {
		opt(c)
	}

	for _, m := range malls {
		if _, exists := c.malls[m.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateMallID, m.ID)
		}
		c.malls[m.ID] = models.CloneMall(m)
		c.mallOrder = append(c.mallOrder, m.ID)
	}

	for _, s := range stores {
		if _, exists := c.stores[s.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateStoreID, s.ID)
		}
		c.stores[s.ID] = models.CloneStore(s)
		c.storeOrder = append(c.storeOrder, s.ID)
	}

	c.nextID = c.maxNumericSuffix() + 1
	return c, nil
}

func (c *Catalog) maxNumericSuffix() int {
	highest := 0
	for id := range c.malls {
		if !strings.HasPrefix(id, c.idPrefix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(id, c.idPrefix))
		if err == nil && n > highest {
			highest = n
		}
	}
	return highest
}

// Store returns a copy of the store
func (c *Catalog) Store(id string) (*models.Store, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s, ok := c.stores[id]
	if !ok {
		return nil, false
	}
	return models.CloneStore(s), true
}

// Mall returns a copy of the mall
func (c *Catalog) Mall(id string) (*models.Mall, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	m, ok := c.malls[id]
	if !ok {
		return nil, false
	}
	return models.CloneMall(m), true
}

// Stores returns copies of all stores in load order
func (c *Catalog) Stores() []*models.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Store, 0, len(c.storeOrder))
	for _, id := range c.storeOrder {
		out = append(out, models.CloneStore(c.stores[id]))
	}
	return out
}

// StoreIDs returns all store ids in load order
func (c *Catalog) StoreIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.storeOrder...)
}

// Malls returns copies of all live malls in load/mint order
func (c *Catalog) Malls() []*models.Mall {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*models.Mall, 0, len(c.mallOrder))
	for _, id := range c.mallOrder {
		out = append(out, models.CloneMall(c.malls[id]))
	}
	return out
}

// Counts returns the number of stores, malls and assigned stores
func (c *Catalog) Counts() (stores, malls, assigned int) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.stores {
		if s.Assigned() {
			assigned++
		}
	}
	return len(c.stores), len(c.malls), assigned
}

// Assign points the store at the mall and records the distance between them
// when both are located
func (c *Catalog) Assign(storeID, mallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stores[storeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}
	m, ok := c.malls[mallID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMall, mallID)
	}

	s.MallID = m.ID
	s.DistanceKm = storeMallDistance(s, m)
	return nil
}

// Unassign clears the store's mall reference
func (c *Catalog) Unassign(storeID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s, ok := c.stores[storeID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStore, storeID)
	}
	s.MallID = ""
	s.DistanceKm = nil
	return nil
}

func storeMallDistance(s *models.Store, m *models.Mall) *float64 {
	if !s.HasLocation() || !m.HasLocation() {
		return nil
	}
	d := geo.Distance(*s.Location, *m.Location)
	return &d
}

// MintMall creates a mall with the next id in sequence
func (c *Catalog) MintMall(name string, region models.RegionCodes, location *geo.Point) (*models.Mall, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := fmt.Sprintf("%s%0*d", c.idPrefix, idDigits, c.nextID)
	if _, exists := c.malls[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMallID, id)
	}
	c.nextID++

	m := &models.Mall{
		ID:           id,
		Name:         name,
		OriginalName: name,
		Region:       region,
	}
	if location != nil {
		loc := *location
		m.Location = &loc
	}

	c.malls[id] = m
	c.mallOrder = append(c.mallOrder, id)
	return models.CloneMall(m), nil
}

// AddMall inserts an externally identified mall
func (c *Catalog) AddMall(m *models.Mall) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.malls[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMallID, m.ID)
	}
	c.malls[m.ID] = models.CloneMall(m)
	c.mallOrder = append(c.mallOrder, m.ID)

	if strings.HasPrefix(m.ID, c.idPrefix) {
		if n, err := strconv.Atoi(strings.TrimPrefix(m.ID, c.idPrefix)); err == nil && n >= c.nextID {
			c.nextID = n + 1
		}
	}
	return nil
}

// RecountStores recomputes every mall's store count from the current assignments
func (c *Catalog) RecountStores() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recountLocked()
}

func (c *Catalog) recountLocked() {
	for _, m := range c.malls {
		m.StoreCount = 0
	}
	for _, s := range c.stores {
		if m, ok := c.malls[s.MallID]; ok {
			m.StoreCount++
		}
	}
}

// Violation is a broken catalog invariant
type Violation struct {
	StoreID string
	MallID  string
	Reason  string
}

func (v Violation) String() string {
	if v.StoreID != "" {
		return fmt.Sprintf("store %s -> mall %s: %s", v.StoreID, v.MallID, v.Reason)
	}
	return fmt.Sprintf("mall %s: %s", v.MallID, v.Reason)
}

// Validate reports dangling mall references and stale store counts
func (c *Catalog) Validate() []Violation {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var violations []Violation
	counts := make(map[string]int, len(c.malls))

	for _, id := range c.storeOrder {
		s := c.stores[id]
		if !s.Assigned() {
			continue
		}
		if _, ok := c.malls[s.MallID]; !ok {
			violations = append(violations, Violation{StoreID: s.ID, MallID: s.MallID, Reason: "mall does not exist"})
			continue
		}
		counts[s.MallID]++
	}

	for _, id := range c.mallOrder {
		m := c.malls[id]
		if m.StoreCount != counts[id] {
			violations = append(violations, Violation{
				MallID: id,
				Reason: fmt.Sprintf("store_count %d, assigned stores %d", m.StoreCount, counts[id]),
			})
		}
	}

	return violations
}
