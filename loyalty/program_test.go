package loyalty_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/loyalty-engine/loyalty"
	"github.com/glowdesk/loyalty-engine/loyalty/store"
)

func newTestRegistry(t *testing.T) (*loyalty.Registry, *store.Memory) {
	t.Helper()
	balances := store.NewMemory()
	return loyalty.NewRegistry(store.NewMemoryPrograms(), balances), balances
}

// =============================================================================
// PROGRAM VALIDATION TESTS
// =============================================================================

func TestRegistry_CreateProgram_RoundTrip(t *testing.T) {
	// GIVEN: A valid percentage-cashback program
	// WHEN: It is created and fetched back
	// THEN: The stored copy matches and defaults are applied

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := registry.CreateProgram(ctx, percentageProgram())
	require.NoError(t, err)
	assert.Equal(t, loyalty.DemoteNever, created.TierDemotion)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := registry.GetProgram(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Name, got.Name)
	assert.True(t, got.CashbackValue.Equal(dec("10")))
}

func TestRegistry_CreateProgram_RejectsBadConfig(t *testing.T) {
	// GIVEN: Programs with invalid cashback configuration
	// WHEN: Creation is attempted
	// THEN: Each fails validation with no write

	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	over := percentageProgram()
	over.CashbackValue = dec("150")
	_, err := registry.CreateProgram(ctx, over)
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	badType := percentageProgram()
	badType.CashbackType = "lottery"
	_, err = registry.CreateProgram(ctx, badType)
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	noName := percentageProgram()
	noName.Name = ""
	_, err = registry.CreateProgram(ctx, noName)
	assert.ErrorIs(t, err, loyalty.ErrValidation)

	_, err = registry.GetProgram(ctx, over.ID)
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}

func TestRegistry_UpdateProgram_UnknownID(t *testing.T) {
	registry, _ := newTestRegistry(t)

	_, err := registry.UpdateProgram(context.Background(), percentageProgram())
	assert.ErrorIs(t, err, loyalty.ErrProgramNotFound)
}

// =============================================================================
// TIER LADDER TESTS
// =============================================================================

func seedLadder(t *testing.T, registry *loyalty.Registry) {
	t.Helper()
	ctx := context.Background()
	_, err := registry.CreateProgram(ctx, percentageProgram())
	require.NoError(t, err)
	for _, tier := range testLadder() {
		_, err := registry.CreateTier(ctx, tier)
		require.NoError(t, err)
	}
}

func TestRegistry_CreateTier_OrderMustBeUnique(t *testing.T) {
	// GIVEN: A ladder with Silver at order 2
	// WHEN: Another tier claims order 2
	// THEN: The write is rejected

	registry, _ := newTestRegistry(t)
	seedLadder(t, registry)

	_, err := registry.CreateTier(context.Background(), loyalty.Tier{
		ID: "platinum", ProgramID: "prog-1", Order: 2, Name: "Platinum", MinTotalSpent: dec("2000"),
	})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

func TestRegistry_CreateTier_MonotonicityEnforced(t *testing.T) {
	// GIVEN: Bronze requires 100 spent at order 1
	// WHEN: A higher tier is added requiring only 50
	// THEN: The ladder write is rejected; thresholds never decrease upward

	registry, _ := newTestRegistry(t)
	seedLadder(t, registry)

	_, err := registry.CreateTier(context.Background(), loyalty.Tier{
		ID: "platinum", ProgramID: "prog-1", Order: 4, Name: "Platinum", MinTotalSpent: dec("50"),
	})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

func TestRegistry_CreateTier_MultiplierBelowOneRejected(t *testing.T) {
	registry, _ := newTestRegistry(t)
	seedLadder(t, registry)

	_, err := registry.CreateTier(context.Background(), loyalty.Tier{
		ID: "platinum", ProgramID: "prog-1", Order: 4, Name: "Platinum",
		MinTotalSpent: dec("9000"), CashbackMultiplier: dec("0.5"),
	})
	assert.ErrorIs(t, err, loyalty.ErrValidation)
}

// =============================================================================
// TIER DELETION TESTS
// =============================================================================

func holdTier(t *testing.T, balances *store.Memory, clientID loyalty.ClientID, tierID loyalty.TierID) {
	t.Helper()
	bal := loyalty.ZeroBalance(clientID, "prog-1")
	id := tierID
	bal.CurrentTierID = &id
	require.NoError(t, balances.PutBalance(context.Background(), bal, 0))
}

func TestRegistry_DeleteTier_HeldTierConflicts(t *testing.T) {
	// GIVEN: A client currently holding Silver
	// WHEN: Silver is deleted without reassignment
	// THEN: The delete fails with a conflict and the tier survives

	registry, balances := newTestRegistry(t)
	seedLadder(t, registry)
	holdTier(t, balances, "client-1", "silver")
	ctx := context.Background()

	err := registry.DeleteTier(ctx, "silver", loyalty.DeleteTierOptions{})
	assert.ErrorIs(t, err, loyalty.ErrConflict)

	tiers, err := registry.Tiers(ctx, "prog-1")
	require.NoError(t, err)
	assert.Len(t, tiers, 3)
}

func TestRegistry_DeleteTier_ReassignCascadesToLowerTier(t *testing.T) {
	// GIVEN: Clients holding Silver
	// WHEN: Silver is deleted with Reassign
	// THEN: Holders land on Bronze and the tier is gone

	registry, balances := newTestRegistry(t)
	seedLadder(t, registry)
	holdTier(t, balances, "client-1", "silver")
	ctx := context.Background()

	err := registry.DeleteTier(ctx, "silver", loyalty.DeleteTierOptions{Reassign: true})
	require.NoError(t, err)

	bal, err := balances.GetBalance(ctx, "client-1", "prog-1")
	require.NoError(t, err)
	require.NotNil(t, bal)
	require.NotNil(t, bal.CurrentTierID)
	assert.Equal(t, loyalty.TierID("bronze"), *bal.CurrentTierID)

	tiers, err := registry.Tiers(ctx, "prog-1")
	require.NoError(t, err)
	assert.Len(t, tiers, 2)
}

// staleBalanceWrites fails the first n balance writes with a version
// conflict, standing in for a Ledger write landing between listing a
// tier's holders and the cascade writing them.
type staleBalanceWrites struct {
	loyalty.Store
	remaining int
}

func (s *staleBalanceWrites) PutBalance(ctx context.Context, bal loyalty.ClientBalance, expectedVersion int64) error {
	if s.remaining > 0 {
		s.remaining--
		return loyalty.ErrConcurrentModification
	}
	return s.Store.PutBalance(ctx, bal, expectedVersion)
}

func TestRegistry_DeleteTier_ReassignRetriesVersionConflict(t *testing.T) {
	// GIVEN: A Silver holder whose balance write loses one version race
	// WHEN: Silver is deleted with Reassign
	// THEN: The cascade retries, the holder lands on Bronze, and the
	// tier is gone rather than surviving a half-applied cascade

	balances := store.NewMemory()
	flaky := &staleBalanceWrites{Store: balances, remaining: 1}
	registry := loyalty.NewRegistry(store.NewMemoryPrograms(), flaky)
	seedLadder(t, registry)
	holdTier(t, balances, "client-1", "silver")
	ctx := context.Background()

	err := registry.DeleteTier(ctx, "silver", loyalty.DeleteTierOptions{Reassign: true})
	require.NoError(t, err)

	bal, err := balances.GetBalance(ctx, "client-1", "prog-1")
	require.NoError(t, err)
	require.NotNil(t, bal)
	require.NotNil(t, bal.CurrentTierID)
	assert.Equal(t, loyalty.TierID("bronze"), *bal.CurrentTierID)

	tiers, err := registry.Tiers(ctx, "prog-1")
	require.NoError(t, err)
	assert.Len(t, tiers, 2)
}

func TestRegistry_DeleteTier_ReassignFromBottomClearsTier(t *testing.T) {
	// GIVEN: A client holding the lowest tier
	// WHEN: That tier is deleted with Reassign
	// THEN: The holder ends with no tier at all

	registry, balances := newTestRegistry(t)
	seedLadder(t, registry)
	holdTier(t, balances, "client-1", "bronze")
	ctx := context.Background()

	require.NoError(t, registry.DeleteTier(ctx, "bronze", loyalty.DeleteTierOptions{Reassign: true}))

	bal, err := balances.GetBalance(ctx, "client-1", "prog-1")
	require.NoError(t, err)
	require.NotNil(t, bal)
	assert.Nil(t, bal.CurrentTierID)
}

func TestRegistry_DeleteTier_Unknown(t *testing.T) {
	registry, _ := newTestRegistry(t)
	seedLadder(t, registry)

	err := registry.DeleteTier(context.Background(), "diamond", loyalty.DeleteTierOptions{})
	assert.ErrorIs(t, err, loyalty.ErrTierNotFound)
}
