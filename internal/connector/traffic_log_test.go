package connector

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fill(l *TrafficLog, n int) {
	for i := 0; i < n; i++ {
		l.Append(LogEntry{Direction: DirSystem, Data: strconv.Itoa(i), Timestamp: int64(i)})
	}
}

func TestTrafficLogEviction(t *testing.T) {
	t.Parallel()
	l := NewTrafficLog(0)

	fill(l, 500)
	assert.Equal(t, 500, l.Len())

	fill(l, 1)
	entries := l.Entries()
	require.Len(t, entries, 401)
	assert.Equal(t, "100", entries[0].Data)
	assert.Equal(t, "0", entries[400].Data)
}

func TestTrafficLogCustomCapacity(t *testing.T) {
	t.Parallel()
	l := NewTrafficLog(150)

	fill(l, 151)
	entries := l.Entries()
	require.Len(t, entries, 51)
	assert.Equal(t, "100", entries[0].Data)
}

func TestTrafficLogTail(t *testing.T) {
	t.Parallel()
	l := NewTrafficLog(500)
	fill(l, 10)

	tail := l.Tail(3)
	require.Len(t, tail, 3)
	assert.Equal(t, "7", tail[0].Data)
	assert.Len(t, l.Tail(0), 10)
	assert.Len(t, l.Tail(50), 10)

	tail[0].Data = "changed"
	assert.Equal(t, "7", l.Tail(3)[0].Data)

	l.Reset()
	assert.Zero(t, l.Len())
	assert.Empty(t, l.Entries())
}
