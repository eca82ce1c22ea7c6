/*
Package metrics provides comprehensive metrics collection and monitoring for the gateway.

# Overview

The metrics package implements Prometheus-based metrics collection for gateway file
operations (upload/download/delete/list/search/share), metadata cache performance,
TCP proxy decisions, and system resources. It provides both real-time Prometheus
metrics and historical tracking for debugging and analysis.

Architecture

	┌─────────────┐
	│  Collector  │  ← Main metrics aggregator
	└──────┬──────┘
	       │
	   ┌───┴────────────────────────────┐
	   │                                │
	┌──▼───────────┐         ┌─────────▼──────┐
	│  Prometheus  │         │  HTTP Endpoints │
	│   Registry   │         │  /metrics       │
	│              │         │  /health        │
	│ - Counters   │         │  /debug/metrics │
	│ - Histograms │         └─────────────────┘
	│ - Gauges     │
	└──────────────┘

# Core Components

Collector: The main metrics collector that aggregates and exports metrics.
It maintains both Prometheus metrics (for monitoring systems) and internal
operation tracking (for debugging).

	collector, err := metrics.NewCollector(&metrics.Config{
		Enabled:   true,
		Port:      8080,
		Path:      "/metrics",
		Namespace: "gateway",
	})
	if err != nil {
		log.Fatal(err)
	}

	if err := collector.Start(ctx); err != nil {
		log.Fatal(err)
	}
	defer collector.Stop(ctx)

# Recording Operations

The collector tracks operations with timing, size, and success/failure status:

	startTime := time.Now()
	meta, err := files.Upload(ctx, rc, req)
	duration := time.Since(startTime)

	collector.RecordOperation("upload", duration, req.FileSize, err == nil)

For a latency/cache-breakdown view of the same operation, feed it to the
detailed tracker as well:

	collector.RecordDetailedOperation(metrics.OpUpload, meta.FileID, duration, req.FileSize, metrics.CacheSourceBackend, err)

# Cache Metrics

Track metadata cache hit rates and sizes across the L1 (in-process LRU) and L2 (Redis) levels:

	// Cache hit
	collector.RecordCacheHit(familyID+":"+fileID, 4096)

	// Cache miss
	collector.RecordCacheMiss(familyID+":"+fileID, 4096)

	// Update cache size (periodically)
	collector.UpdateCacheSize("L1", currentL1Size)
	collector.UpdateCacheSize("L2", currentL2Size)

# Proxy Metrics

The TCP protocol proxy (Postgres/MySQL/MongoDB/Redis) reports connections the
interceptor chain refused:

	collector.RecordProxyBlock("postgres", "deny_pattern")

# Error Tracking

Record and classify errors for monitoring and alerting:

	if err != nil {
		collector.RecordError("upload", err)
		return err
	}

# Prometheus Metrics

The collector exports standard Prometheus metrics, namespaced "gateway" by default:

Counters:
  - gateway_operations_total{operation,status}: Total operations by type and status
  - gateway_cache_requests_total{type,source}: Cache hits/misses (source is always "unknown")
  - gateway_errors_total{operation,type}: Errors by operation and classification
  - gateway_proxy_blocked_total{protocol,rule}: TCP proxy connections blocked by the interceptor chain

Histograms:
  - gateway_operation_duration_seconds{operation}: Operation latency distribution
  - gateway_operation_size_bytes{operation}: Operation size distribution

Gauges:
  - gateway_cache_size_bytes{level}: Current cache size per level
  - gateway_active_connections: Current active backend connections

# HTTP Endpoints

The metrics server exposes several endpoints:

/metrics - Prometheus-formatted metrics (for scraping)

	curl http://localhost:8080/metrics

/health - Health check endpoint

	curl http://localhost:8080/health
	{"status":"healthy","service":"gateway-metrics"}

/debug/metrics - Human-readable metrics summary

	curl http://localhost:8080/debug/metrics
	{
	  "uptime": "2h15m30s",
	  "last_reset": "2026-01-01 11:44:41.123456789 +0000 UTC",
	  "operations": {
	    "upload": {
	      "count": 15234,
	      "errors": 12,
	      "avg_duration": "45ms",
	      "avg_size": 524288.00
	    }
	  }
	}

/debug/operations - Tabular operations summary

	curl http://localhost:8080/debug/operations
	Gateway Operations Summary
	==========================

	Uptime: 2h15m30s
	Last Reset: 2026-01-01 11:44:41.123456789 +0000 UTC

	Operation                 Count     Errors Avg Duration     Avg Size    Last Op
	----------                -----     ------ ------------     --------    -------
	upload                    15234         12         45ms       524288   14:00:11
	download                   8901          3         89ms      1048576   14:00:09

# Configuration

The Config struct controls metrics behavior:

	config := &metrics.Config{
		Enabled:        true,              // Enable/disable metrics collection
		Port:           8080,              // HTTP server port
		Path:           "/metrics",        // Prometheus metrics endpoint path
		Namespace:      "gateway",         // Prometheus namespace
		Subsystem:      "",                // Optional subsystem prefix
		UpdateInterval: 30 * time.Second,  // Periodic update interval
		Labels:         map[string]string{ // Kept on the config; not attached to the exported metrics
			"env":    "production",
			"region": "us-east-1",
		},
	}

# Best Practices

1. Operation Recording
Record all significant operations (upload, download, delete, list, search, share) with
accurate timing and size information. Use consistent operation names across the codebase.

2. Cache Metrics
Update cache metrics regularly to provide accurate size and hit rate data.
Consider recording cache metrics after each cache operation or on a timer.

3. Error Classification
Record all errors with meaningful operation context. The collector automatically
classifies errors (timeout, connection, not_found, permission, throttling) for
better monitoring and alerting.

4. Resource Limits
Be mindful of metric cardinality. Avoid high-cardinality labels (like user IDs
or file paths) that can explode the metric count and impact Prometheus performance.
RecordDetailedOperation's per-file tracking is capped (MaxTrackedFiles) for this reason.

5. Debugging
Use the /debug/* endpoints for troubleshooting without requiring Prometheus.
These endpoints provide human-readable summaries of current system state.

# Performance Considerations

The metrics collector is designed for high-throughput environments:

- Read-locked (RWMutex) access for summary reads
- Direct, unbuffered updates to the Prometheus collectors
- Minimal allocation in recording path
- Configurable update intervals
- Optional metrics disabling for maximum performance

# Thread Safety

All Collector methods are thread-safe and can be called concurrently from
multiple goroutines. The collector uses RWMutex for efficient concurrent access.

# Integration with Monitoring Systems

Prometheus Setup:

	scrape_configs:
	  - job_name: 'gateway'
	    static_configs:
	      - targets: ['localhost:8080']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

Grafana Dashboards:

The exported metrics are compatible with standard Grafana dashboards for:
- RED metrics (Rate, Errors, Duration)
- Cache performance analysis
- Resource utilization trending
- Error rate alerting

# See Also

- pkg/health: Component health tracking
- pkg/status: Operation status history
- pkg/errors: Structured error handling

For more information on Prometheus metrics and best practices, see:
https://prometheus.io/docs/practices/naming/
*/
package metrics
