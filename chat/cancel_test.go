package chat

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCancelToken(t *testing.T) {
	c := NewCancelToken()
	assert.False(t, c.Requested())

	select {
	case <-c.Done():
		t.Fatal("done channel closed before cancel")
	default:
	}

	c.Cancel()
	assert.True(t, c.Requested())

	select {
	case <-c.Done():
	default:
		t.Fatal("done channel not closed after cancel")
	}

	// second cancel is a no-op
	c.Cancel()
	assert.True(t, c.Requested())
}
