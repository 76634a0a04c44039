package service

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MaxDailySalesDays bounds the range accepted by DailySales
const MaxDailySalesDays = 366

// Dashboard holds the derived figures shown on the dashboard.
// It is a pure function of its inputs so it can be recomputed on every snapshot.
type Dashboard struct {
	TotalProducts      int             `json:"totalProducts"`
	LowStockCount      int             `json:"lowStockCount"`
	StockValue         decimal.Decimal `json:"stockValue"`
	StockMovementToday int             `json:"stockMovementToday"`
	TotalSales         decimal.Decimal `json:"totalSales"`
	TodaysSales        decimal.Decimal `json:"todaysSales"`
}

// Equal compares figures, treating decimals by value
func (d Dashboard) Equal(o Dashboard) bool {
	return d.TotalProducts == o.TotalProducts &&
		d.LowStockCount == o.LowStockCount &&
		d.StockMovementToday == o.StockMovementToday &&
		d.StockValue.Equal(o.StockValue) &&
		d.TotalSales.Equal(o.TotalSales) &&
		d.TodaysSales.Equal(o.TodaysSales)
}

// DailyBucket is one calendar day of sales
type DailyBucket struct {
	Date  string          `json:"date"`
	Total decimal.Decimal `json:"total"`
}

// ProductSales is the revenue attributed to one product
type ProductSales struct {
	ProductID string          `json:"productId"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	Revenue   decimal.Decimal `json:"revenue"`
}

// LedgerMismatch is a product whose stored quantity differs from its replayed ledger
type LedgerMismatch struct {
	ProductID string `json:"productId"`
	Stored    int    `json:"stored"`
	Replayed  int    `json:"replayed"`
	Orphaned  bool   `json:"orphaned"`
}

// StartOfDay returns local midnight of t's calendar day in loc
func StartOfDay(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ComputeDashboard derives every dashboard figure from the current snapshots.
// Sales figures come from Transactions only.
func ComputeDashboard(products []models.Product, movements []models.Movement, transactions []models.Transaction, now time.Time, loc *time.Location, threshold int) Dashboard {
	d := Dashboard{
		StockValue:  decimal.Zero,
		TotalSales:  decimal.Zero,
		TodaysSales: decimal.Zero,
	}

	for i := range products {
		p := &products[i]
		if p.Archived {
			continue
		}
		d.TotalProducts++
		if p.Quantity <= p.Threshold(threshold) {
			d.LowStockCount++
		}
		d.StockValue = d.StockValue.Add(p.Price.Mul(decimal.NewFromInt(int64(p.Quantity))))
	}

	dayStart := StartOfDay(now, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, m := range movements {
		if !m.Timestamp.Before(dayStart) && m.Timestamp.Before(dayEnd) {
			d.StockMovementToday++
		}
	}

	for _, t := range transactions {
		if t.Type != models.TransactionTypeSale {
			continue
		}
		d.TotalSales = d.TotalSales.Add(t.Total)
		if !t.Timestamp.Before(dayStart) {
			d.TodaysSales = d.TodaysSales.Add(t.Total)
		}
	}

	return d
}

// DailySales buckets item revenue per calendar day over [start, end] inclusive.
// Days without sales report zero.
func DailySales(transactions []models.Transaction, start, end time.Time, loc *time.Location) ([]DailyBucket, error) {
	first := StartOfDay(start, loc)
	last := StartOfDay(end, loc)
	if last.Before(first) {
		return nil, models.Invalid("date range", "start date is after end date")
	}

	buckets := make([]DailyBucket, 0)
	index := make(map[string]int)
	for d := first; !d.After(last); d = d.AddDate(0, 0, 1) {
		if len(buckets) == MaxDailySalesDays {
			return nil, models.Invalid("date range", "range exceeds 366 days")
		}
		key := d.Format("2006-01-02")
		index[key] = len(buckets)
		buckets = append(buckets, DailyBucket{Date: key, Total: decimal.Zero})
	}

	for _, t := range transactions {
		i, ok := index[t.Timestamp.In(loc).Format("2006-01-02")]
		if !ok {
			continue
		}
		for _, item := range t.Items {
			buckets[i].Total = buckets[i].Total.Add(item.LineTotal())
		}
	}
	return buckets, nil
}

// SalesByProduct totals quantity and revenue per product, highest revenue first
func SalesByProduct(transactions []models.Transaction) []ProductSales {
	byID := make(map[string]*ProductSales)
	for _, t := range transactions {
		if t.Type != models.TransactionTypeSale {
			continue
		}
		for _, item := range t.Items {
			ps, ok := byID[item.ProductID]
			if !ok {
				ps = &ProductSales{ProductID: item.ProductID, Revenue: decimal.Zero}
				byID[item.ProductID] = ps
			}
			ps.Name = item.Name
			ps.Quantity += item.Quantity
			ps.Revenue = ps.Revenue.Add(item.LineTotal())
		}
	}

	out := make([]ProductSales, 0, len(byID))
	for _, ps := range byID {
		out = append(out, *ps)
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Revenue.Cmp(out[j].Revenue); c != 0 {
			return c > 0
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out
}

// ReplayLedger sums signed movements per product in timestamp order
func ReplayLedger(movements []models.Movement) map[string]int {
	ordered := make([]models.Movement, len(movements))
	copy(ordered, movements)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Timestamp.Before(ordered[j].Timestamp) })

	out := make(map[string]int)
	for i := range ordered {
		out[ordered[i].ProductID] += ordered[i].Signed()
	}
	return out
}

// VerifyLedger compares stored quantities against the replayed ledger
func VerifyLedger(products []models.Product, movements []models.Movement) []LedgerMismatch {
	replayed := ReplayLedger(movements)
	mismatches := make([]LedgerMismatch, 0)

	known := make(map[string]bool, len(products))
	for _, p := range products {
		known[p.ID] = true
		if r := replayed[p.ID]; r != p.Quantity {
			mismatches = append(mismatches, LedgerMismatch{ProductID: p.ID, Stored: p.Quantity, Replayed: r})
		}
	}
	for id, r := range replayed {
		if !known[id] {
			mismatches = append(mismatches, LedgerMismatch{ProductID: id, Replayed: r, Orphaned: true})
		}
	}

	sort.Slice(mismatches, func(i, j int) bool { return mismatches[i].ProductID < mismatches[j].ProductID })
	return mismatches
}

// Reports computes read models straight from the store
type Reports struct {
	store     store.Store
	cache     DashboardCache
	threshold int
	loc       *time.Location
	now       func() time.Time
	logger    *zap.Logger
}

// NewReports creates a report service. cache may be nil.
func NewReports(st store.Store, cache DashboardCache, threshold int, loc *time.Location) *Reports {
	if loc == nil {
		loc = time.Local
	}
	return &Reports{
		store:     st,
		cache:     cache,
		threshold: threshold,
		loc:       loc,
		now:       time.Now,
		logger:    util.GetLogger(),
	}
}

// Location is the zone used for day boundaries
func (r *Reports) Location() *time.Location {
	return r.loc
}

// Dashboard recomputes the dashboard from the store
func (r *Reports) Dashboard(ctx context.Context) (Dashboard, error) {
	ctx, span := util.StartSpan(ctx, "Reports.Dashboard")
	defer span.End()

	products, err := store.ListProducts(ctx, r.store)
	if err != nil {
		return Dashboard{}, models.StoreFailure("list products", err)
	}
	movements, err := store.ListMovements(ctx, r.store)
	if err != nil {
		return Dashboard{}, models.StoreFailure("list movements", err)
	}
	transactions, err := store.ListTransactions(ctx, r.store)
	if err != nil {
		return Dashboard{}, models.StoreFailure("list transactions", err)
	}
	return ComputeDashboard(products, movements, transactions, r.now(), r.loc, r.threshold), nil
}

// RefreshCache recomputes the dashboard and stores it in the cache
func (r *Reports) RefreshCache(ctx context.Context) (Dashboard, error) {
	d, err := r.Dashboard(ctx)
	if err != nil {
		return Dashboard{}, err
	}

	util.LowStockProducts.Set(float64(d.LowStockCount))
	util.StockValue.Set(d.StockValue.InexactFloat64())

	if r.cache == nil {
		return d, nil
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return d, err
	}
	if err := r.cache.SetDashboard(ctx, payload, 24*time.Hour); err != nil {
		r.logger.Warn("Failed to cache dashboard", zap.Error(err))
	}
	return d, nil
}

// CachedDashboard returns the cached dashboard, recomputing it on a miss
func (r *Reports) CachedDashboard(ctx context.Context) (Dashboard, error) {
	if r.cache != nil {
		payload, err := r.cache.GetDashboard(ctx)
		if err != nil {
			r.logger.Warn("Failed to read cached dashboard", zap.Error(err))
		}
		if len(payload) > 0 {
			var d Dashboard
			if err := json.Unmarshal(payload, &d); err == nil {
				return d, nil
			}
		}
	}
	return r.RefreshCache(ctx)
}

// DailySales loads transactions and buckets them per day
func (r *Reports) DailySales(ctx context.Context, start, end time.Time) ([]DailyBucket, error) {
	transactions, err := store.ListTransactions(ctx, r.store)
	if err != nil {
		return nil, models.StoreFailure("list transactions", err)
	}
	return DailySales(transactions, start, end, r.loc)
}

// SalesByProduct loads transactions and totals them per product
func (r *Reports) SalesByProduct(ctx context.Context) ([]ProductSales, error) {
	transactions, err := store.ListTransactions(ctx, r.store)
	if err != nil {
		return nil, models.StoreFailure("list transactions", err)
	}
	return SalesByProduct(transactions), nil
}
