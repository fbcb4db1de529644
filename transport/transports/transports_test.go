package transports

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/pipeflow/transport"
)

func TestNewRegistry(t *testing.T) {
	r := NewRegistry()

	assert.Equal(t, []string{"aws", "channel", "http", "kafka", "nats", "pipe", "rabbitmq"}, r.Names())
	assert.Equal(t, transport.PipeCapabilities, r.GetCapabilities("pipe"))
	assert.Equal(t, transport.KafkaCapabilities, r.GetCapabilities("kafka"))
}

func TestNewRegistryIsIndependent(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	a.Register("custom", nil)

	assert.True(t, a.Has("custom"))
	assert.False(t, b.Has("custom"))
}
