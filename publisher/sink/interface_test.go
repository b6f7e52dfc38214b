package sink

import "github.com/maxpert/cdcrelay/publisher"

// Compile-time interface verification
var (
	_ publisher.Sink = (*EventBridgeSink)(nil)
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)
