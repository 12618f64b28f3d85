package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventHandlerTopics(t *testing.T) {
	h := &EventHandler{}
	topics := h.Topics()
	assert.Contains(t, topics, "order.created.v1")
	assert.Contains(t, topics, "payment.completed.v1")
	assert.Contains(t, topics, "payment.failed.v1")
	assert.Len(t, topics, 4)
}
