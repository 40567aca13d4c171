// Package metrics exposes Prometheus metrics for the routing backend.
package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ResolverStats exposes resolution outcome counters.
type ResolverStats interface {
	ResolvedCount() uint64
	NoMatchCount() uint64
	DanglingCount() uint64
}

// AuthStats exposes credential match outcome counters.
type AuthStats interface {
	GrantedCount() uint64
	DeniedCount() uint64
}

// CDRStats exposes the number of recorded call detail events.
type CDRStats interface {
	RecordedCount() uint64
}

// EntityCounter returns a row count from the store.
type EntityCounter interface {
	Count(ctx context.Context) (int64, error)
}

// Collector is a prometheus.Collector that gathers routecore metrics at
// scrape time.
type Collector struct {
	resolver  ResolverStats
	auth      AuthStats
	cdrs      CDRStats
	tenants   EntityCounter
	cdrRows   EntityCounter
	startTime time.Time

	// Metric descriptors.
	routesResolvedDesc *prometheus.Desc
	routesNoMatchDesc  *prometheus.Desc
	routesDanglingDesc *prometheus.Desc
	authGrantedDesc    *prometheus.Desc
	authDeniedDesc     *prometheus.Desc
	cdrRecordedDesc    *prometheus.Desc
	tenantsDesc        *prometheus.Desc
	cdrRowsDesc        *prometheus.Desc
	uptimeDesc         *prometheus.Desc
}

// NewCollector creates a new metrics collector. Any provider may be nil if
// unavailable.
func NewCollector(
	resolver ResolverStats,
	auth AuthStats,
	cdrs CDRStats,
	tenants EntityCounter,
	cdrRows EntityCounter,
	startTime time.Time,
) *Collector {
	return &Collector{
		resolver:  resolver,
		auth:      auth,
		cdrs:      cdrs,
		tenants:   tenants,
		cdrRows:   cdrRows,
		startTime: startTime,

		routesResolvedDesc: prometheus.NewDesc(
			"routecore_routes_resolved_total",
			"Total routing resolutions that produced a destination",
			nil, nil,
		),
		routesNoMatchDesc: prometheus.NewDesc(
			"routecore_routes_no_match_total",
			"Total routing resolutions with no matching route",
			nil, nil,
		),
		routesDanglingDesc: prometheus.NewDesc(
			"routecore_routes_dangling_skipped_total",
			"Index entries skipped because their destination row was gone",
			nil, nil,
		),
		authGrantedDesc: prometheus.NewDesc(
			"routecore_auth_granted_total",
			"Total successful credential matches",
			nil, nil,
		),
		authDeniedDesc: prometheus.NewDesc(
			"routecore_auth_denied_total",
			"Total failed credential matches",
			nil, nil,
		),
		cdrRecordedDesc: prometheus.NewDesc(
			"routecore_cdr_recorded_total",
			"Total call detail events recorded",
			nil, nil,
		),
		tenantsDesc: prometheus.NewDesc(
			"routecore_tenants",
			"Number of provisioned tenants",
			nil, nil,
		),
		cdrRowsDesc: prometheus.NewDesc(
			"routecore_cdr_rows",
			"Number of call detail records in the store",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			"routecore_uptime_seconds",
			"Seconds since the routecore process started",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.routesResolvedDesc
	ch <- c.routesNoMatchDesc
	ch <- c.routesDanglingDesc
	ch <- c.authGrantedDesc
	ch <- c.authDeniedDesc
	ch <- c.cdrRecordedDesc
	ch <- c.tenantsDesc
	ch <- c.cdrRowsDesc
	ch <- c.uptimeDesc
}

// Collect implements prometheus.Collector. It queries all providers at
// scrape time.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if c.resolver != nil {
		ch <- prometheus.MustNewConstMetric(
			c.routesResolvedDesc, prometheus.CounterValue,
			float64(c.resolver.ResolvedCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.routesNoMatchDesc, prometheus.CounterValue,
			float64(c.resolver.NoMatchCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.routesDanglingDesc, prometheus.CounterValue,
			float64(c.resolver.DanglingCount()),
		)
	}

	if c.auth != nil {
		ch <- prometheus.MustNewConstMetric(
			c.authGrantedDesc, prometheus.CounterValue,
			float64(c.auth.GrantedCount()),
		)
		ch <- prometheus.MustNewConstMetric(
			c.authDeniedDesc, prometheus.CounterValue,
			float64(c.auth.DeniedCount()),
		)
	}

	if c.cdrs != nil {
		ch <- prometheus.MustNewConstMetric(
			c.cdrRecordedDesc, prometheus.CounterValue,
			float64(c.cdrs.RecordedCount()),
		)
	}

	if c.tenants != nil {
		count, err := c.tenants.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count tenants", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.tenantsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	if c.cdrRows != nil {
		count, err := c.cdrRows.Count(ctx)
		if err != nil {
			slog.Error("metrics: failed to count cdrs", "error", err)
		} else {
			ch <- prometheus.MustNewConstMetric(
				c.cdrRowsDesc, prometheus.GaugeValue, float64(count),
			)
		}
	}

	ch <- prometheus.MustNewConstMetric(
		c.uptimeDesc, prometheus.GaugeValue,
		time.Since(c.startTime).Seconds(),
	)
}
