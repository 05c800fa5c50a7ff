// Package telemetry holds lock-free counters and gauges shared across
// components that need to expose a point-in-time metric without a full
// metrics client.
package telemetry

import "sync/atomic"

// Counter is a monotonically increasing value, safe for concurrent use.
type Counter struct{ value int64 }

func (c *Counter) Inc()         { atomic.AddInt64(&c.value, 1) }
func (c *Counter) Add(n int64)  { atomic.AddInt64(&c.value, n) }
func (c *Counter) Value() int64 { return atomic.LoadInt64(&c.value) }

// Gauge is a value that can move up and down, stored as micros internally
// so it can represent fractional values (e.g. hit rates) lock-free.
type Gauge struct{ value int64 }

func (g *Gauge) Set(v float64)  { atomic.StoreInt64(&g.value, int64(v*1e6)) }
func (g *Gauge) Inc()           { atomic.AddInt64(&g.value, 1e6) }
func (g *Gauge) Dec()           { atomic.AddInt64(&g.value, -1e6) }
func (g *Gauge) Value() float64 { return float64(atomic.LoadInt64(&g.value)) / 1e6 }
