package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRebind(t *testing.T) {
	q := `UPDATE t SET a = ? WHERE b = ? AND c = ?`
	assert.Equal(t, q, sqliteDialect.rebind(q))
	assert.Equal(t, `UPDATE t SET a = $1 WHERE b = $2 AND c = $3`, postgresDialect.rebind(q))
}

func TestTimestampsSortLexically(t *testing.T) {
	a := time.Date(2026, 1, 2, 3, 4, 5, 6, time.FixedZone("x", 3600))
	b := a.Add(time.Nanosecond)
	assert.Less(t, ts(a), ts(b))

	got, err := parseTS(ts(a))
	assert.NoError(t, err)
	assert.True(t, got.Equal(a))
}
