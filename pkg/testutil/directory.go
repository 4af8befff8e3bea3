package testutil

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Customer is a directory record used by Directory.
type Customer struct {
	ID             string
	Deleted        bool
	GradeID        string
	TagIDs         []string
	LastActivityAt time.Time
	LastMessagedAt *time.Time
	Birthday       *time.Time
	FirstVisitAt   *time.Time
	Visits         []time.Time
	Payments       []int64
	HighChurnRisk  bool
}

// Directory is an in-memory protocol.CustomerDirectory.
type Directory struct {
	mu        sync.RWMutex
	shops     map[string][]*Customer
	err       error
	listCalls int
}

func NewDirectory() *Directory {
	return &Directory{shops: make(map[string][]*Customer)}
}

// Add stores customers for a shop.
func (d *Directory) Add(shopID string, customers ...Customer) *Directory {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range customers {
		d.shops[shopID] = append(d.shops[shopID], &c)
	}

	return d
}

// FailWith makes every call return err.
func (d *Directory) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.err = err
}

// ListCalls reports how many times ListCustomerIDs was called.
func (d *Directory) ListCalls() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.listCalls
}

func (d *Directory) ListCustomerIDs(_ context.Context, shopID string) ([]string, error) {
	d.mu.Lock()
	d.listCalls++
	d.mu.Unlock()

	return d.keep(shopID, nil, func(*Customer) bool { return true })
}

func (d *Directory) FilterByGrades(_ context.Context, shopID string, ids, gradeIDs []string) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return slices.Contains(gradeIDs, c.GradeID)
	})
}

func (d *Directory) FilterByTags(_ context.Context, shopID string, ids, tagIDs []string) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return slices.ContainsFunc(c.TagIDs, func(tag string) bool { return slices.Contains(tagIDs, tag) })
	})
}

func (d *Directory) ExcludeDormant(_ context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return !c.LastActivityAt.Before(cutoff)
	})
}

func (d *Directory) ExcludeRecentMessageReceivers(_ context.Context, shopID string, ids []string, cutoff time.Time) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return c.LastMessagedAt == nil || c.LastMessagedAt.Before(cutoff)
	})
}

func (d *Directory) IsBirthdayToday(_ context.Context, shopID string, ids []string, day time.Time) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return c.Birthday != nil && sameMonthDay(*c.Birthday, day)
	})
}

func (d *Directory) MatchesVisitCycle(_ context.Context, shopID string, ids []string, cycleDays int, day time.Time) ([]string, error) {
	due := dateOf(day.AddDate(0, 0, -cycleDays))

	return d.keep(shopID, ids, func(c *Customer) bool {
		last, ok := lastVisit(c)

		return ok && dateOf(last.In(day.Location())).Equal(due)
	})
}

func (d *Directory) IsAnniversary(_ context.Context, shopID string, ids []string, day time.Time) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool {
		return c.FirstVisitAt != nil && c.FirstVisitAt.Year() < day.Year() && sameMonthDay(*c.FirstVisitAt, day)
	})
}

func (d *Directory) IsHighChurnRisk(_ context.Context, shopID string, ids []string) ([]string, error) {
	return d.keep(shopID, ids, func(c *Customer) bool { return c.HighChurnRisk })
}

func (d *Directory) TotalVisits(_ context.Context, shopID, customerID string) (int, error) {
	c, err := d.find(shopID, customerID)
	if err != nil || c == nil {
		return 0, err
	}

	return len(c.Visits), nil
}

func (d *Directory) TotalPaymentAmount(_ context.Context, shopID, customerID string) (int64, error) {
	c, err := d.find(shopID, customerID)
	if err != nil || c == nil {
		return 0, err
	}

	var total int64
	for _, amount := range c.Payments {
		total += amount
	}

	return total, nil
}

func (d *Directory) LastVisitWithinCycle(_ context.Context, shopID, customerID string, cycleDays int) (bool, error) {
	c, err := d.find(shopID, customerID)
	if err != nil || c == nil || len(c.Visits) < 2 {
		return false, err
	}

	visits := slices.Clone(c.Visits)
	slices.SortFunc(visits, func(a, b time.Time) int { return a.Compare(b) })

	latest := visits[len(visits)-1]
	previous := visits[len(visits)-2]

	return !previous.After(latest.AddDate(0, 0, -cycleDays)), nil
}

// AddVisit appends a visit, as the CRM would before emitting a visit event.
func (d *Directory) AddVisit(shopID, customerID string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.shops[shopID] {
		if c.ID == customerID {
			c.Visits = append(c.Visits, at)
		}
	}
}

// AddPayment appends a payment amount.
func (d *Directory) AddPayment(shopID, customerID string, amount int64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, c := range d.shops[shopID] {
		if c.ID == customerID {
			c.Payments = append(c.Payments, amount)
		}
	}
}

// keep returns the ids (or every live customer when ids is nil) matching pred.
func (d *Directory) keep(shopID string, ids []string, pred func(*Customer) bool) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, d.err
	}

	out := make([]string, 0)

	for _, c := range d.shops[shopID] {
		if c.Deleted || (ids != nil && !slices.Contains(ids, c.ID)) {
			continue
		}

		if pred(c) {
			out = append(out, c.ID)
		}
	}

	return out, nil
}

func (d *Directory) find(shopID, customerID string) (*Customer, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.err != nil {
		return nil, d.err
	}

	for _, c := range d.shops[shopID] {
		if c.ID == customerID && !c.Deleted {
			return c, nil
		}
	}

	return nil, nil
}

func lastVisit(c *Customer) (time.Time, bool) {
	if len(c.Visits) == 0 {
		return time.Time{}, false
	}

	return slices.MaxFunc(c.Visits, func(a, b time.Time) int { return a.Compare(b) }), true
}

func sameMonthDay(a, b time.Time) bool {
	return a.Month() == b.Month() && a.Day() == b.Day()
}

func dateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
