package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestChangeMarkChanged(t *testing.T) {
	now := time.Now()
	mark := ChangeMark{UpdatedAt: now}

	assert.False(t, mark.Changed(now))
	assert.True(t, mark.Changed(now.Add(-time.Second)), "a newer mark is a change")
	assert.True(t, mark.Changed(now.Add(time.Second)), "an older mark is still a change")
}
