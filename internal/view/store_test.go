package view

import (
	"testing"
	"time"

	"P2PDesk/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestStoreReplace(t *testing.T) {
	s := NewStore(nil)
	assert.Nil(t, s.Snapshot())
	assert.Equal(t, models.OrderStatus(""), s.Status())

	prev, changed := s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPending}, models.SourceSeed)
	assert.Equal(t, models.OrderStatus(""), prev)
	assert.True(t, changed)

	prev, changed = s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPending}, models.SourcePoll)
	assert.Equal(t, models.StatusPending, prev)
	assert.False(t, changed)

	prev, changed = s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPaid}, models.SourcePush)
	assert.Equal(t, models.StatusPending, prev)
	assert.True(t, changed)
	assert.Equal(t, models.SourcePush, s.Source())
}

// The last full snapshot wins regardless of which channel delivered it; the
// server is the sole authority, so even a status outside the client's own
// transition table is installed as-is.
func TestStoreLastWriteWins(t *testing.T) {
	s := NewStore(nil)
	s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPaid}, models.SourcePush)
	s.Replace(&models.Order{ID: "ord-1", Status: models.StatusCancelled}, models.SourcePoll)

	assert.Equal(t, models.StatusCancelled, s.Status())
	assert.Equal(t, models.SourcePoll, s.Source())
}

func TestStoreSnapshotIsACopy(t *testing.T) {
	s := NewStore(nil)
	original := &models.Order{ID: "ord-1", Status: models.StatusPending, CreatedAt: time.Now()}
	s.Replace(original, models.SourceSeed)

	snap := s.Snapshot()
	snap.Status = models.StatusCancelled
	assert.Equal(t, models.StatusPending, s.Status())

	original.Status = models.StatusCompleted
	assert.Equal(t, models.StatusPending, s.Status())
}

func TestStoreStampsWithInjectedClock(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := NewStore(func() time.Time { return at })

	s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPending}, models.SourceSeed)
	assert.Equal(t, at, s.UpdatedAt())

	at = at.Add(5 * time.Second)
	s.Replace(&models.Order{ID: "ord-1", Status: models.StatusPaid}, models.SourcePush)
	assert.Equal(t, at, s.UpdatedAt())
}

func TestStoreRole(t *testing.T) {
	s := NewStore(nil)
	assert.Equal(t, models.RoleUnknown, s.Role())
	s.SetRole(models.RoleMerchant)
	assert.Equal(t, models.RoleMerchant, s.Role())
}
