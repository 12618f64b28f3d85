package delivery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestEventHandlerTopics(t *testing.T) {
	h := NewEventHandler(nil, nil, zap.NewNop())
	assert.Equal(t, []string{"payment.completed.v1"}, h.Topics())
}
