package publisher

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/maxpert/cdcrelay/cfg"
)

// SinkFactory is a function that creates a Sink from a configuration
type SinkFactory func(cfg.PublisherConfiguration) (Sink, error)

var (
	sinkFactories = make(map[string]SinkFactory)
	factoryMu     sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// SinkTypes lists the registered sink types
func SinkTypes() []string {
	factoryMu.RLock()
	defer factoryMu.RUnlock()

	types := make([]string, 0, len(sinkFactories))
	for t := range sinkFactories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// NewSink creates the sink named by config.Sink
func NewSink(config cfg.PublisherConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, exists := sinkFactories[config.Sink]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown sink type: %s (registered: %v)", config.Sink, SinkTypes())
	}

	snk, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s sink: %w", config.Sink, err)
	}

	log.Info().
		Str("sink", config.Sink).
		Int("max_batch_size", snk.MaxBatchSize()).
		Msg("Created event sink")

	return snk, nil
}
