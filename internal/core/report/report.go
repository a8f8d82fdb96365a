// Package report folds stock and ledger snapshots into the alerting views.
// Every function is pure; callers supply the snapshot and the current time.
package report

import (
	"sort"
	"time"

	"github.com/rl1809/bhw-inventory/internal/core/domain"
)

// Usage aggregates one resource's movements of a single kind.
type Usage struct {
	ResourceID    string `json:"resource_id"`
	ResourceName  string `json:"resource_name"`
	TotalQuantity int    `json:"total_quantity"`
	Count         int    `json:"count"`
}

type MonthlyUsage struct {
	Month         string `json:"month"` // YYYY-MM
	TotalQuantity int    `json:"total_quantity"`
	Count         int    `json:"count"`
}

func day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// LowStock returns resources with quantity <= threshold, emptiest first.
func LowStock(resources []domain.Resource, threshold int) []domain.Resource {
	out := make([]domain.Resource, 0)
	for _, r := range resources {
		if r.Quantity <= threshold {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Quantity != out[j].Quantity {
			return out[i].Quantity < out[j].Quantity
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Expiring returns resources whose expiration date falls between today and
// today+days inclusive, soonest first.
func Expiring(resources []domain.Resource, now time.Time, days int) []domain.Resource {
	today := day(now)
	until := today.AddDate(0, 0, days)
	return byExpiration(resources, func(exp time.Time) bool {
		return !exp.Before(today) && !exp.After(until)
	})
}

// Expired returns resources whose expiration date is strictly before today.
func Expired(resources []domain.Resource, now time.Time) []domain.Resource {
	today := day(now)
	return byExpiration(resources, func(exp time.Time) bool {
		return exp.Before(today)
	})
}

func byExpiration(resources []domain.Resource, keep func(time.Time) bool) []domain.Resource {
	out := make([]domain.Resource, 0)
	for _, r := range resources {
		if r.Expiration == nil || !keep(day(*r.Expiration)) {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Expiration.Before(*out[j].Expiration)
	})
	return out
}

// ActiveBorrows keeps borrows still out, preserving input order.
func ActiveBorrows(txs []domain.Transaction) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, tx := range txs {
		if tx.Outstanding() {
			out = append(out, tx)
		}
	}
	return out
}

// Overdue returns outstanding borrows past their expected return date, most
// overdue first.
func Overdue(txs []domain.Transaction, now time.Time) []domain.Transaction {
	out := make([]domain.Transaction, 0)
	for _, tx := range txs {
		if tx.Overdue(now) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ExpectedReturnDate.Before(*out[j].ExpectedReturnDate)
	})
	return out
}

// Top groups entries of the given movement by resource, ranks by total quantity
// and truncates to limit. limit <= 0 keeps everything.
func Top(txs []domain.Transaction, movement domain.MovementKind, limit int) []Usage {
	byResource := make(map[string]*Usage)
	order := make([]string, 0)
	for _, tx := range txs {
		if tx.Movement != movement {
			continue
		}
		u, ok := byResource[tx.ResourceID]
		if !ok {
			u = &Usage{ResourceID: tx.ResourceID, ResourceName: tx.ResourceName}
			byResource[tx.ResourceID] = u
			order = append(order, tx.ResourceID)
		}
		u.TotalQuantity += tx.Quantity
		u.Count++
	}

	out := make([]Usage, 0, len(order))
	for _, id := range order {
		out = append(out, *byResource[id])
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalQuantity != out[j].TotalQuantity {
			return out[i].TotalQuantity > out[j].TotalQuantity
		}
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ResourceName < out[j].ResourceName
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Monthly buckets entries of the given movement by calendar month (UTC),
// oldest month first.
func Monthly(txs []domain.Transaction, movement domain.MovementKind) []MonthlyUsage {
	byMonth := make(map[string]*MonthlyUsage)
	for _, tx := range txs {
		if tx.Movement != movement {
			continue
		}
		key := tx.CreatedAt.UTC().Format("2006-01")
		m, ok := byMonth[key]
		if !ok {
			m = &MonthlyUsage{Month: key}
			byMonth[key] = m
		}
		m.TotalQuantity += tx.Quantity
		m.Count++
	}

	out := make([]MonthlyUsage, 0, len(byMonth))
	for _, m := range byMonth {
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Month < out[j].Month })
	return out
}

// Balance replays the ledger per resource:
// stock_in - request - borrow + return. For a resource whose every quantity
// change went through the ledger this equals the stored quantity.
func Balance(txs []domain.Transaction) map[string]int {
	out := make(map[string]int)
	for _, tx := range txs {
		switch tx.Movement {
		case domain.MovementStockIn, domain.MovementReturn:
			out[tx.ResourceID] += tx.Quantity
		case domain.MovementRequest, domain.MovementBorrow:
			out[tx.ResourceID] -= tx.Quantity
		}
	}
	return out
}
