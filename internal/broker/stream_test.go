package broker

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestOrderStream_Start_DegradesOnUnreachableURL(t *testing.T) {
	s := NewOrderStream("ws://127.0.0.1:1/unreachable", zerolog.Nop())
	err := s.Start(context.Background())
	assert.Error(t, err, "an unreachable order-ack endpoint must fail fast rather than block startup")
	s.Stop()
}

func TestOrderStream_Stop_IsIdempotent(t *testing.T) {
	s := NewOrderStream("ws://127.0.0.1:1/unreachable", zerolog.Nop())
	s.Stop()
	assert.NotPanics(t, func() { s.Stop() })
}

func TestOrderStream_Acks_ReturnsReadableChannel(t *testing.T) {
	s := NewOrderStream("ws://127.0.0.1:1/unreachable", zerolog.Nop())
	select {
	case <-s.Acks():
		t.Fatal("unexpected ack on a fresh stream")
	default:
	}
}
