package obs

import "sync/atomic"

// Metrics collects lightweight pipeline counters.
type Metrics struct {
	tickerInserts     uint64
	depthInserts      uint64
	droppedMessages   uint64
	streamReconnects  uint64
	storageReconnects uint64
	queueHighWater    uint64
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	TickerInserts     uint64
	DepthInserts      uint64
	DroppedMessages   uint64
	StreamReconnects  uint64
	StorageReconnects uint64
	QueueHighWater    uint64
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncTickerInsert records one persisted ticker row.
func (m *Metrics) IncTickerInsert() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.tickerInserts, 1)
}

// IncDepthInsert records one persisted depth snapshot.
func (m *Metrics) IncDepthInsert() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.depthInserts, 1)
}

// IncDropped records a message dropped by classification.
func (m *Metrics) IncDropped() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.droppedMessages, 1)
}

// IncStreamReconnect records a watchdog-triggered stream reconnect.
func (m *Metrics) IncStreamReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.streamReconnects, 1)
}

// IncStorageReconnect records a storage reconnect cycle.
func (m *Metrics) IncStorageReconnect() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.storageReconnects, 1)
}

// ObserveQueueDepth tracks the queue's high-water mark.
func (m *Metrics) ObserveQueueDepth(depth int) {
	if m == nil || depth < 0 {
		return
	}
	d := uint64(depth)
	for {
		cur := atomic.LoadUint64(&m.queueHighWater)
		if d <= cur {
			return
		}
		if atomic.CompareAndSwapUint64(&m.queueHighWater, cur, d) {
			return
		}
	}
}

// Snapshot returns a copy of the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	if m == nil {
		return Snapshot{}
	}
	return Snapshot{
		TickerInserts:     atomic.LoadUint64(&m.tickerInserts),
		DepthInserts:      atomic.LoadUint64(&m.depthInserts),
		DroppedMessages:   atomic.LoadUint64(&m.droppedMessages),
		StreamReconnects:  atomic.LoadUint64(&m.streamReconnects),
		StorageReconnects: atomic.LoadUint64(&m.storageReconnects),
		QueueHighWater:    atomic.LoadUint64(&m.queueHighWater),
	}
}
