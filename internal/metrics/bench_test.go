package metrics

import "testing"

// BenchmarkCollector_ChunkWritten measures the per-chunk overhead on
// the flash path.
func BenchmarkCollector_ChunkWritten(b *testing.B) {
	c := New()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.ChunkWritten(256)
	}
}

// BenchmarkCollector_Snapshot measures the cost of taking a snapshot.
func BenchmarkCollector_Snapshot(b *testing.B) {
	c := New()
	c.SessionOpened()
	c.BytesSent(1024)
	c.RecordError("test")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Snapshot()
	}
}

// BenchmarkNilCollector verifies nil-safe no-ops have zero overhead.
func BenchmarkNilCollector(b *testing.B) {
	var c *Collector
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.SessionOpened()
		c.BytesReceived(1460)
		c.RecordError("test")
	}
}
