package events

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestAMQPPublisher_SatisfiesPublisher(t *testing.T) {
	var _ Publisher = (*AMQPPublisher)(nil)
}

func TestNewAMQPPublisher_InvalidURL(t *testing.T) {
	// A malformed URL fails on parse, before any dial or retry sleep
	_, err := NewAMQPPublisher("not-a-url", zerolog.Nop())
	assert.Error(t, err)
}
