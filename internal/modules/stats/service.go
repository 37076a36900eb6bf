// README: Order statistics for the admin dashboard (orders per day, average price, top flavors).
package stats

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"turbo/internal/modules/order"
)

const (
	// DefaultDays is the range used when the caller gives none: today and the six days before.
	DefaultDays = 7
	topFlavors  = 10
)

var ErrBadRange = errors.New("invalid date range")

// OrderLister is the slice of the order store statistics need.
type OrderLister interface {
	ListByDateRange(ctx context.Context, start, end time.Time) ([]*order.Order, error)
}

type DayCount struct {
	Date  string `json:"date"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

type FlavorCount struct {
	Flavor string `json:"flavor"`
	Count  int    `json:"count"`
}

type Summary struct {
	Start        time.Time     `json:"-"`
	End          time.Time     `json:"-"`
	TotalOrders  int           `json:"totalOrders"`
	Revenue      float64       `json:"revenue"`
	AveragePrice float64       `json:"averagePrice"`
	OrdersPerDay []DayCount    `json:"ordersPerDay"`
	TopFlavors   []FlavorCount `json:"topFlavors"`
}

type Service struct {
	orders OrderLister
	loc    *time.Location
	now    func() time.Time
}

// NewService buckets days in loc; nil means UTC.
func NewService(orders OrderLister, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{orders: orders, loc: loc, now: time.Now}
}

// DefaultRange returns the last DefaultDays calendar days ending today.
func (s *Service) DefaultRange() (time.Time, time.Time) {
	today := dayStart(s.now().In(s.loc))
	return today.AddDate(0, 0, -(DefaultDays - 1)), today
}

// Summary covers whole days from start's day through end's day inclusive.
func (s *Service) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	if start.IsZero() || end.IsZero() {
		start, end = s.DefaultRange()
	}
	first := dayStart(start.In(s.loc))
	last := dayStart(end.In(s.loc))
	if last.Before(first) {
		return nil, ErrBadRange
	}
	until := last.AddDate(0, 0, 1).Add(-time.Nanosecond)

	orders, err := s.orders.ListByDateRange(ctx, first, until)
	if err != nil {
		return nil, err
	}

	sum := &Summary{Start: first, End: until, TopFlavors: []FlavorCount{}}
	index := make(map[string]int)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		key := d.Format("2006-01-02")
		index[key] = len(sum.OrdersPerDay)
		sum.OrdersPerDay = append(sum.OrdersPerDay, DayCount{Date: key, Label: d.Format("Jan 2")})
	}

	flavors := make(map[string]int)
	for _, o := range orders {
		if i, ok := index[o.CreatedAt.In(s.loc).Format("2006-01-02")]; ok {
			sum.OrdersPerDay[i].Count++
		}
		sum.TotalOrders++
		sum.Revenue += o.Total
		for _, it := range o.Items {
			if it.Kind != order.ItemCustom {
				continue
			}
			qty := it.Quantity
			if qty <= 0 {
				qty = 1
			}
			for _, f := range it.Flavors {
				flavors[f] += qty
			}
		}
	}
	if sum.TotalOrders > 0 {
		sum.AveragePrice = round2(sum.Revenue / float64(sum.TotalOrders))
	}
	sum.Revenue = round2(sum.Revenue)

	for f, n := range flavors {
		sum.TopFlavors = append(sum.TopFlavors, FlavorCount{Flavor: f, Count: n})
	}
	sort.Slice(sum.TopFlavors, func(i, j int) bool {
		a, b := sum.TopFlavors[i], sum.TopFlavors[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return a.Flavor < b.Flavor
	})
	if len(sum.TopFlavors) > topFlavors {
		sum.TopFlavors = sum.TopFlavors[:topFlavors]
	}
	return sum, nil
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
