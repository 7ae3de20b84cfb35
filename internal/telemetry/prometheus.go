package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric descriptors. The names and label dimensions are a stable wire
// contract for scrapers.
var (
	descRequestsTotal = prometheus.NewDesc(
		"asahi_requests_total", "Total inference requests",
		[]string{"model", "task_type", "cache_tier"}, nil)
	descCostTotal = prometheus.NewDesc(
		"asahi_cost_dollars_total", "Total cost in dollars",
		[]string{"model"}, nil)
	descSavingsTotal = prometheus.NewDesc(
		"asahi_savings_dollars_total", "Total savings",
		[]string{"phase"}, nil)
	descCacheHits = prometheus.NewDesc(
		"asahi_cache_hits_total", "Cache hits by tier",
		[]string{"tier"}, nil)
	descCacheMisses = prometheus.NewDesc(
		"asahi_cache_misses_total", "Cache misses by tier",
		[]string{"tier"}, nil)
	descCacheHitRate = prometheus.NewDesc(
		"asahi_cache_hit_rate", "Rolling cache hit rate",
		[]string{"tier"}, nil)
	descErrorsTotal = prometheus.NewDesc(
		"asahi_errors_total", "Error counts",
		[]string{"error_type", "component"}, nil)
	descLatency = prometheus.NewDesc(
		"asahi_latency_ms", "Request latency distribution in ms", nil, nil)
	descTokenCount = prometheus.NewDesc(
		"asahi_token_count", "Token count distribution", nil, nil)
	descBatchSize = prometheus.NewDesc(
		"asahi_batch_size", "Batch size distribution", nil, nil)
	descQualityScore = prometheus.NewDesc(
		"asahi_quality_score", "Rolling quality average per model",
		[]string{"model"}, nil)
)

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descRequestsTotal
	ch <- descCostTotal
	ch <- descSavingsTotal
	ch <- descCacheHits
	ch <- descCacheMisses
	ch <- descCacheHitRate
	ch <- descErrorsTotal
	ch <- descLatency
	ch <- descTokenCount
	ch <- descBatchSize
	ch <- descQualityScore
}

// Collect implements prometheus.Collector, snapshotting internal state
// into constant metrics.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, v := range c.requestsTotal {
		ch <- prometheus.MustNewConstMetric(descRequestsTotal, prometheus.CounterValue,
			v, k.model, k.taskType, k.cacheTier)
	}
	for model, v := range c.costTotal {
		ch <- prometheus.MustNewConstMetric(descCostTotal, prometheus.CounterValue, v, model)
	}
	for phase, v := range c.savingsTotal {
		ch <- prometheus.MustNewConstMetric(descSavingsTotal, prometheus.CounterValue, v, phase)
	}
	for tier, v := range c.cacheHits {
		ch <- prometheus.MustNewConstMetric(descCacheHits, prometheus.CounterValue, v, tier)
	}
	for tier, v := range c.cacheMisses {
		ch <- prometheus.MustNewConstMetric(descCacheMisses, prometheus.CounterValue, v, tier)
	}
	for tier, v := range c.cacheHitRate {
		ch <- prometheus.MustNewConstMetric(descCacheHitRate, prometheus.GaugeValue, v, tier)
	}
	for k, v := range c.errorsTotal {
		ch <- prometheus.MustNewConstMetric(descErrorsTotal, prometheus.CounterValue,
			v, k.errorType, k.component)
	}

	ch <- constHistogram(descLatency, c.latencyObs, latencyBuckets)
	ch <- constHistogram(descTokenCount, c.tokenObs, tokenBuckets)
	ch <- constHistogram(descBatchSize, c.batchObs, batchSizeBuckets)

	for model, scores := range c.qualityScores {
		if len(scores) == 0 {
			continue
		}
		var sum float64
		for _, s := range scores {
			sum += s
		}
		ch <- prometheus.MustNewConstMetric(descQualityScore, prometheus.GaugeValue,
			sum/float64(len(scores)), model)
	}
}

func constHistogram(desc *prometheus.Desc, obs []observation, bounds []float64) prometheus.Metric {
	buckets := make(map[float64]uint64, len(bounds))
	var sum float64
	for _, o := range obs {
		sum += o.value
	}
	for _, bound := range bounds {
		var count uint64
		for _, o := range obs {
			if o.value <= bound {
				count++
			}
		}
		buckets[bound] = count
	}
	return prometheus.MustNewConstHistogram(desc, uint64(len(obs)), sum, buckets)
}
