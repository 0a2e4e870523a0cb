package report

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"tokoku/backend/internal/cache"
	"tokoku/backend/internal/domain"
)

// SourceData is everything the dashboard needs, loaded in one pass by the
// caller so a cache hit skips all storage queries.
type SourceData struct {
	Stats      domain.OverviewStats
	ItemTotals []domain.SaleItemTotal
	Movements  []domain.StockMovement
}

type Engine struct {
	cache    cache.ReportCache
	cacheTTL time.Duration
	topN     int
}

func NewEngine(cacheStore cache.ReportCache, cacheTTL time.Duration) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopReportCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 30 * time.Second
	}

	return &Engine{
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		topN:     5,
	}
}

// Dashboard returns the cached report when fresh, otherwise calls load,
// assembles the report and caches it for cacheTTL.
func (e *Engine) Dashboard(ctx context.Context, load func(context.Context) (*SourceData, error)) (*domain.DashboardReport, error) {
	cacheKey := buildCacheKey(e.topN)
	if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}

	data, err := load(ctx)
	if err != nil {
		return nil, err
	}

	report := &domain.DashboardReport{
		Stats:           data.Stats,
		TopProducts:     rankTopProducts(data.ItemTotals, e.topN),
		RecentMovements: data.Movements,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	if report.RecentMovements == nil {
		report.RecentMovements = []domain.StockMovement{}
	}

	_ = e.cache.Set(ctx, cacheKey, report, e.cacheTTL)
	return report, nil
}

// rankTopProducts orders aggregated sale rows by units sold, breaking ties
// by revenue and then name for a stable ranking.
func rankTopProducts(totals []domain.SaleItemTotal, limit int) []domain.TopProduct {
	ranked := make([]domain.TopProduct, 0, len(totals))
	for _, row := range totals {
		if row.UnitsSold < 1 {
			continue
		}
		ranked = append(ranked, domain.TopProduct{
			ProductID:    row.ProductID,
			Name:         row.ProductName,
			UnitsSold:    row.UnitsSold,
			RevenueCents: row.RevenueCents,
		})
	}

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].UnitsSold != ranked[j].UnitsSold {
			return ranked[i].UnitsSold > ranked[j].UnitsSold
		}
		if ranked[i].RevenueCents != ranked[j].RevenueCents {
			return ranked[i].RevenueCents > ranked[j].RevenueCents
		}
		return ranked[i].Name < ranked[j].Name
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

func buildCacheKey(topN int) string {
	day := time.Now().UTC().Format("2006-01-02")
	hash := sha1.Sum([]byte(fmt.Sprintf("%s|top:%d", day, topN)))
	return "pos:dashboard:" + hex.EncodeToString(hash[:])
}
