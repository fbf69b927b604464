package presence

import (
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestMirror_Key(t *testing.T) {
	m := NewMirrorFromClient(redis.NewClient(&redis.Options{Addr: "localhost:0"}), "game-server:", "node-1")
	defer m.Close()
	assert.Equal(t, "game-server:presence:node-1", m.Key())
}
