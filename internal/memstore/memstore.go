// Package memstore is an in-memory implementation of every repository in the
// service. It backs usecase and transport tests and supports injecting
// failures per operation.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fekuna/omnipos-loyalty-service/internal/auth"
	customerrepo "github.com/fekuna/omnipos-loyalty-service/internal/customer/repository"
	ledgerrepo "github.com/fekuna/omnipos-loyalty-service/internal/ledger/repository"
	"github.com/fekuna/omnipos-loyalty-service/internal/model"
	"github.com/fekuna/omnipos-loyalty-service/internal/qrtoken"
	"github.com/fekuna/omnipos-loyalty-service/internal/tenant"
)

type failure struct {
	remaining int
	err       error
}

type Store struct {
	mu          sync.RWMutex
	seq         int64
	restaurants map[uuid.UUID]*model.Restaurant
	customers   map[uuid.UUID]*model.Customer
	entries     []model.LedgerEntry
	users       map[uuid.UUID]*model.User
	staff       map[uuid.UUID]*model.StaffProfile
	sessions    map[uuid.UUID]*model.Session
	failures    map[string]*failure
}

func New() *Store {
	return &Store{
		restaurants: map[uuid.UUID]*model.Restaurant{},
		customers:   map[uuid.UUID]*model.Customer{},
		users:       map[uuid.UUID]*model.User{},
		staff:       map[uuid.UUID]*model.StaffProfile{},
		sessions:    map[uuid.UUID]*model.Session{},
		failures:    map[string]*failure{},
	}
}

// FailNext makes the next n calls of op (a repository method name such as
// "Append" or "FinalizeQRCode") return err. n < 0 fails forever.
func (s *Store) FailNext(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = &failure{remaining: n, err: err}
}

// fail must be called with mu held for writing.
func (s *Store) fail(op string) error {
	f, ok := s.failures[op]
	if !ok || f.remaining == 0 {
		return nil
	}
	if f.remaining > 0 {
		f.remaining--
	}
	return f.err
}

func (s *Store) AddRestaurant(name, slug string) *model.Restaurant {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := &model.Restaurant{ID: uuid.New(), Name: name, Slug: slug, CreatedAt: time.Now().UTC()}
	s.restaurants[r.ID] = r
	return r
}

func (s *Store) AddStaff(userID, restaurantID uuid.UUID, role string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[userID] = &model.StaffProfile{UserID: userID, RestaurantID: restaurantID, Role: role}
}

// PutCustomer stores c as is, bypassing enrollment. Used to stage
// half-finished rows.
func (s *Store) PutCustomer(c model.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[c.ID] = &c
}

// Entries returns a copy of every ledger row for customerID in insertion order.
func (s *Store) Entries(customerID uuid.UUID) []model.LedgerEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.LedgerEntry
	for _, e := range s.entries {
		if e.CustomerID == customerID {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) Customers() customerrepo.Repository { return customers{s} }
func (s *Store) Ledger() ledgerrepo.Repository { return ledger{s} }
func (s *Store) Restaurants() tenant.Repository { return restaurants{s} }
func (s *Store) Auth() auth.Repository { return authRepo{s} }

func clone(c *model.Customer) *model.Customer {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}

type restaurants struct{ s *Store }

func (r restaurants) GetBySlug(_ context.Context, slug string) (*model.Restaurant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("GetBySlug"); err != nil {
		return nil, err
	}
	for _, rest := range r.s.restaurants {
		if rest.Slug == slug {
			cp := *rest
			return &cp, nil
		}
	}
	return nil, nil
}

func (r restaurants) GetByID(_ context.Context, id uuid.UUID) (*model.Restaurant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if err := r.s.fail("GetRestaurant"); err != nil {
		return nil, err
	}
	if rest, ok := r.s.restaurants[id]; ok {
		cp := *rest
		return &cp, nil
	}
	return nil, nil
}

type customers struct{ s *Store }

func (c customers) Create(_ context.Context, cust *model.Customer) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("Create"); err != nil {
		return err
	}
	for _, existing := range c.s.customers {
		if existing.QRCode == cust.QRCode {
			return customerrepo.ErrDuplicate
		}
		if cust.UserID != nil && existing.UserID != nil && *existing.UserID == *cust.UserID &&
			cust.RestaurantID != nil && existing.BelongsTo(*cust.RestaurantID) {
			return customerrepo.ErrDuplicate
		}
	}
	c.s.customers[cust.ID] = clone(cust)
	return nil
}

func (c customers) GetByID(_ context.Context, id uuid.UUID) (*model.Customer, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("GetByID"); err != nil {
		return nil, err
	}
	return clone(c.s.customers[id]), nil
}

func (c customers) GetByQRCode(_ context.Context, token string) (*model.Customer, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("GetByQRCode"); err != nil {
		return nil, err
	}
	for _, cust := range c.s.customers {
		if cust.QRCode == token {
			return clone(cust), nil
		}
	}
	return nil, nil
}

func (c customers) GetByUser(_ context.Context, restaurantID, userID uuid.UUID) (*model.Customer, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("GetByUser"); err != nil {
		return nil, err
	}
	for _, cust := range c.s.customers {
		if cust.UserID != nil && *cust.UserID == userID && cust.BelongsTo(restaurantID) {
			return clone(cust), nil
		}
	}
	return nil, nil
}

func (c customers) List(_ context.Context, restaurantID uuid.UUID, p customerrepo.ListParams) ([]*model.CustomerSummary, int, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("List"); err != nil {
		return nil, 0, err
	}

	search := strings.ToLower(p.Search)
	var all []*model.CustomerSummary
	for _, cust := range c.s.customers {
		if !cust.BelongsTo(restaurantID) {
			continue
		}
		if search != "" && !matches(cust, search) {
			continue
		}
		all = append(all, &model.CustomerSummary{Customer: *cust, Balance: c.s.balance(cust.ID)})
	}

	sort.SliceStable(all, func(i, j int) bool {
		a, b := all[i], all[j]
		switch p.Sort {
		case customerrepo.SortFullName:
			an, bn := deref(a.FullName), deref(b.FullName)
			if an != bn {
				return an < bn
			}
		case customerrepo.SortCreatedAt:
		default:
			if a.Balance != b.Balance {
				return a.Balance > b.Balance
			}
		}
		return a.CreatedAt.After(b.CreatedAt)
	})

	total := len(all)
	start := (p.Page - 1) * p.PageSize
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return all[start:end], total, nil
}

func matches(c *model.Customer, search string) bool {
	for _, f := range []*string{c.FullName, c.Email, c.Phone} {
		if f != nil && strings.Contains(strings.ToLower(*f), search) {
			return true
		}
	}
	return false
}

func deref(s *string) string {
	if s == nil {
		return "\uffff"
	}
	return *s
}

func (c customers) FinalizeQRCode(_ context.Context, id uuid.UUID, token string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("FinalizeQRCode"); err != nil {
		return false, err
	}
	cust, ok := c.s.customers[id]
	if !ok || !qrtoken.IsPlaceholder(cust.QRCode) {
		return false, nil
	}
	cust.QRCode = token
	return true, nil
}

func (c customers) ListIncomplete(_ context.Context, cutoff time.Time, limit int) ([]*model.Customer, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if err := c.s.fail("ListIncomplete"); err != nil {
		return nil, err
	}

	var out []*model.Customer
	for _, cust := range c.s.customers {
		if !cust.CreatedAt.Before(cutoff) {
			continue
		}
		if qrtoken.IsPlaceholder(cust.QRCode) || !c.s.hasRequest(cust.ID, "welcome:"+cust.ID.String()) {
			out = append(out, clone(cust))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type ledger struct{ s *Store }

func (l ledger) CustomerRestaurant(_ context.Context, customerID uuid.UUID) (*uuid.UUID, bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.s.fail("CustomerRestaurant"); err != nil {
		return nil, false, err
	}
	c, ok := l.s.customers[customerID]
	if !ok {
		return nil, false, nil
	}
	return c.RestaurantID, true, nil
}

func (l ledger) Append(_ context.Context, e *model.LedgerEntry) (int64, bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.s.fail("Append"); err != nil {
		return 0, false, err
	}

	if e.RequestID != nil {
		for _, existing := range l.s.entries {
			if existing.CustomerID == e.CustomerID && existing.RequestID != nil && *existing.RequestID == *e.RequestID {
				*e = existing
				return l.s.balance(e.CustomerID), true, nil
			}
		}
	}

	l.s.seq++
	e.Seq = l.s.seq
	l.s.entries = append(l.s.entries, *e)
	return l.s.balance(e.CustomerID), false, nil
}

func (l ledger) Balance(_ context.Context, customerID uuid.UUID) (int64, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.s.fail("Balance"); err != nil {
		return 0, err
	}
	return l.s.balance(customerID), nil
}

func (l ledger) Page(_ context.Context, customerID uuid.UUID, order model.Order, after *ledgerrepo.Cursor, limit int) ([]model.LedgerEntry, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if err := l.s.fail("Page"); err != nil {
		return nil, err
	}

	var rows []model.LedgerEntry
	for _, e := range l.s.entries {
		if e.CustomerID == customerID {
			rows = append(rows, e)
		}
	}
	less := func(a, b model.LedgerEntry) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.Seq < b.Seq
	}
	sort.Slice(rows, func(i, j int) bool {
		if order == model.OldestFirst {
			return less(rows[i], rows[j])
		}
		return less(rows[j], rows[i])
	})

	var out []model.LedgerEntry
	for _, e := range rows {
		if after != nil {
			cur := model.LedgerEntry{CreatedAt: after.CreatedAt, Seq: after.Seq}
			if order == model.OldestFirst && !less(cur, e) {
				continue
			}
			if order == model.NewestFirst && !less(e, cur) {
				continue
			}
		}
		out = append(out, e)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// balance and hasRequest must be called with mu held.
func (s *Store) balance(customerID uuid.UUID) int64 {
	var sum int64
	for _, e := range s.entries {
		if e.CustomerID == customerID {
			sum += e.PointsDelta
		}
	}
	return sum
}

func (s *Store) hasRequest(customerID uuid.UUID, requestID string) bool {
	for _, e := range s.entries {
		if e.CustomerID == customerID && e.RequestID != nil && *e.RequestID == requestID {
			return true
		}
	}
	return false
}

type authRepo struct{ s *Store }

func (a authRepo) CreateUser(_ context.Context, u *model.User) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("CreateUser"); err != nil {
		return err
	}
	for _, existing := range a.s.users {
		if existing.Email == u.Email {
			return auth.ErrDuplicateEmail
		}
	}
	cp := *u
	a.s.users[u.ID] = &cp
	return nil
}

func (a authRepo) GetUserByEmail(_ context.Context, email string) (*model.User, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("GetUserByEmail"); err != nil {
		return nil, err
	}
	for _, u := range a.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (a authRepo) GetStaffProfile(_ context.Context, userID uuid.UUID) (*model.StaffProfile, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("GetStaffProfile"); err != nil {
		return nil, err
	}
	if p, ok := a.s.staff[userID]; ok {
		cp := *p
		return &cp, nil
	}
	return nil, nil
}

func (a authRepo) CreateSession(_ context.Context, sess *model.Session) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("CreateSession"); err != nil {
		return err
	}
	cp := *sess
	a.s.sessions[sess.ID] = &cp
	return nil
}

func (a authRepo) GetSession(_ context.Context, id uuid.UUID) (*model.Session, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("GetSession"); err != nil {
		return nil, err
	}
	if sess, ok := a.s.sessions[id]; ok {
		cp := *sess
		return &cp, nil
	}
	return nil, nil
}

func (a authRepo) RevokeSession(_ context.Context, id uuid.UUID, at time.Time) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	if err := a.s.fail("RevokeSession"); err != nil {
		return err
	}
	if sess, ok := a.s.sessions[id]; ok && sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	return nil
}
