package publisher

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpert/cdcrelay/cfg"
)

func TestRegistry(t *testing.T) {
	RegisterSink("scripted-test", func(config cfg.PublisherConfiguration) (Sink, error) {
		return &scriptedSink{max: 7}, nil
	})
	RegisterSink("broken-test", func(config cfg.PublisherConfiguration) (Sink, error) {
		return nil, errors.New("no brokers")
	})

	assert.Contains(t, SinkTypes(), "scripted-test")

	snk, err := NewSink(cfg.PublisherConfiguration{Sink: "scripted-test"})
	require.NoError(t, err)
	assert.Equal(t, 7, snk.MaxBatchSize())

	_, err = NewSink(cfg.PublisherConfiguration{Sink: "broken-test"})
	assert.ErrorContains(t, err, "no brokers")

	_, err = NewSink(cfg.PublisherConfiguration{Sink: "carrier-pigeon"})
	assert.ErrorContains(t, err, "unknown sink type")
}
