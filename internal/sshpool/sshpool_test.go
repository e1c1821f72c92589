package sshpool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinRemote(t *testing.T) {
	assert.Equal(t, "a/b/c", JoinRemote("a", "b", "c"))
	assert.Equal(t, "/tmp/transfer_1.zip", JoinRemote("/tmp", "transfer_1.zip"))
}
