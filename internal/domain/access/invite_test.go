package access

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rightside-club/service-discount/internal/pkg/domain"
)

func TestNewInvite(t *testing.T) {
	inv, err := NewInvite(RoleAdmin)
	require.NoError(t, err)

	// 20 random bytes, hex encoded.
	assert.Len(t, inv.Token(), 40)
	assert.Equal(t, RoleAdmin, inv.Role())
	assert.Nil(t, inv.UsedAt())
	assert.WithinDuration(t, time.Now().UTC().Add(InviteTTL), inv.ExpiresAt(), time.Minute)
}

func TestNewInvite_TokensAreUnique(t *testing.T) {
	a, err := NewInvite(RoleModerator)
	require.NoError(t, err)
	b, err := NewInvite(RoleModerator)
	require.NoError(t, err)
	assert.NotEqual(t, a.Token(), b.Token())
}

func TestNewInvite_OnlyGrantableRoles(t *testing.T) {
	_, err := NewInvite(RoleOwner)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewInvite(Role("guest"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRedeemable_DistinguishesUsedFromExpired(t *testing.T) {
	now := time.Now().UTC()

	fresh := ReconstructInvite("tok1", RoleAdmin, now.Add(time.Hour), nil, "", now)
	assert.NoError(t, fresh.Redeemable(now))

	expired := ReconstructInvite("tok2", RoleAdmin, now.Add(-time.Second), nil, "", now.Add(-InviteTTL))
	assert.ErrorIs(t, expired.Redeemable(now), ErrInviteExpired)

	usedAt := now.Add(-time.Minute)
	used := ReconstructInvite("tok3", RoleAdmin, now.Add(time.Hour), &usedAt, "42", now)
	assert.ErrorIs(t, used.Redeemable(now), ErrInviteUsed)

	// A used invite that also expired reports used, not expired.
	usedExpired := ReconstructInvite("tok4", RoleAdmin, now.Add(-time.Hour), &usedAt, "42", now)
	assert.ErrorIs(t, usedExpired.Redeemable(now), ErrInviteUsed)
}

func TestRedeemable_ExactExpiryIsExpired(t *testing.T) {
	now := time.Now().UTC()
	inv := ReconstructInvite("tok", RoleAdmin, now, nil, "", now.Add(-InviteTTL))
	assert.ErrorIs(t, inv.Redeemable(now), ErrInviteExpired)
}

func TestMarkUsed(t *testing.T) {
	inv, err := NewInvite(RoleModerator)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.NoError(t, inv.MarkUsed("100500", now))
	require.NotNil(t, inv.UsedAt())
	assert.Equal(t, "100500", inv.UsedBy())

	// Single use: the second redemption fails.
	assert.ErrorIs(t, inv.MarkUsed("200600", now), ErrInviteUsed)
	assert.Equal(t, "100500", inv.UsedBy())
}

func TestPrincipal(t *testing.T) {
	p, err := NewPrincipal("100500", "operator", RoleAdmin)
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role())

	require.NoError(t, p.SetRole(RoleModerator))
	assert.Equal(t, RoleModerator, p.Role())

	assert.ErrorIs(t, p.SetRole(Role("guest")), domain.ErrValidation)

	_, err = NewPrincipal("", "operator", RoleAdmin)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = NewPrincipal("100500", "operator", Role("guest"))
	assert.ErrorIs(t, err, domain.ErrValidation)
}
