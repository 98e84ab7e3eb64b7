package loyalty_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowdesk/loyalty-engine/loyalty"
)

// =============================================================================
// TEST FIXTURES
// =============================================================================

// testLadder returns a three-rung ladder: Bronze at 100 spent, Silver at
// 1000, Gold at 5000 spent plus 20 visits.
func testLadder() []loyalty.Tier {
	return []loyalty.Tier{
		{ID: "bronze", ProgramID: "prog-1", Order: 1, Name: "Bronze", MinTotalSpent: dec("100")},
		{ID: "silver", ProgramID: "prog-1", Order: 2, Name: "Silver", MinTotalSpent: dec("1000")},
		{ID: "gold", ProgramID: "prog-1", Order: 3, Name: "Gold", MinTotalSpent: dec("5000"), MinVisits: 20},
	}
}

func agg(spent string, visits int) loyalty.TierAggregates {
	return loyalty.TierAggregates{TotalSpent: dec(spent), TotalVisits: visits, MonthlySpent: dec("0")}
}

// =============================================================================
// QUALIFICATION TESTS
// =============================================================================

func TestQualifiedTier_HighestFullySatisfied(t *testing.T) {
	// GIVEN: Bronze 100 / Silver 1000 / Gold 5000 ladder
	// WHEN: A client has spent 1200
	// THEN: Silver qualifies, not Bronze (highest wins) or Gold (unmet)

	got := loyalty.QualifiedTier(testLadder(), agg("1200", 3))
	require.NotNil(t, got)
	assert.Equal(t, loyalty.TierID("silver"), got.ID)
}

func TestQualifiedTier_AllThresholdsMustHold(t *testing.T) {
	// GIVEN: Gold requires 5000 spent AND 20 visits
	// WHEN: A client has spent 6000 over only 5 visits
	// THEN: Gold is withheld; the client lands on Silver

	got := loyalty.QualifiedTier(testLadder(), agg("6000", 5))
	require.NotNil(t, got)
	assert.Equal(t, loyalty.TierID("silver"), got.ID)
}

func TestQualifiedTier_NoneQualifies(t *testing.T) {
	// GIVEN: The lowest rung requires 100 spent
	// WHEN: A client has spent 40
	// THEN: They hold no tier; there is no implicit tier zero

	assert.Nil(t, loyalty.QualifiedTier(testLadder(), agg("40", 1)))
}

func TestTierMeets_ZeroThresholdsAutoSatisfied(t *testing.T) {
	// GIVEN: A welcome tier with every threshold left at zero
	// WHEN: A brand-new client is evaluated
	// THEN: The tier is satisfied

	welcome := loyalty.Tier{ID: "welcome", Order: 0, Name: "Welcome"}
	assert.True(t, welcome.Meets(agg("0", 0)))
}

// =============================================================================
// DEMOTION POLICY TESTS
// =============================================================================

func demotionProgram(policy loyalty.DemotionPolicy) loyalty.Program {
	p := percentageProgram()
	p.VIPTiersEnabled = true
	p.TierDemotion = policy
	return p
}

func TestEvaluateTier_StickyKeepsCurrentTier(t *testing.T) {
	// GIVEN: A sticky program and a client holding Silver
	// WHEN: Their aggregates would only qualify for Bronze
	// THEN: They keep Silver

	ladder := testLadder()
	silver := &ladder[1]

	change := loyalty.EvaluateTier(demotionProgram(loyalty.DemoteNever), ladder, silver, agg("150", 2))
	assert.False(t, change.Changed())
	require.NotNil(t, change.To)
	assert.Equal(t, loyalty.TierID("silver"), change.To.ID)
}

func TestEvaluateTier_StrictDemotes(t *testing.T) {
	// GIVEN: A strict program and a client holding Silver
	// WHEN: Their aggregates only qualify for Bronze
	// THEN: They are demoted to Bronze

	ladder := testLadder()
	silver := &ladder[1]

	change := loyalty.EvaluateTier(demotionProgram(loyalty.DemoteStrict), ladder, silver, agg("150", 2))
	assert.True(t, change.Changed())
	require.NotNil(t, change.To)
	assert.Equal(t, loyalty.TierID("bronze"), change.To.ID)
	assert.False(t, change.Promotion())
}

func TestEvaluateTier_StickyStillPromotes(t *testing.T) {
	// GIVEN: A sticky program and a client holding Bronze
	// WHEN: Their aggregates now qualify for Silver
	// THEN: Sticky only blocks demotions; the promotion goes through

	ladder := testLadder()
	bronze := &ladder[0]

	change := loyalty.EvaluateTier(demotionProgram(loyalty.DemoteNever), ladder, bronze, agg("1500", 4))
	assert.True(t, change.Changed())
	assert.True(t, change.Promotion())
	assert.Equal(t, loyalty.TierID("silver"), change.To.ID)
}

func TestEvaluateTier_TiersDisabledIsNoOp(t *testing.T) {
	// GIVEN: A program with VIP tiers disabled
	// WHEN: Evaluation runs
	// THEN: Nothing changes regardless of aggregates

	program := percentageProgram() // VIPTiersEnabled false
	change := loyalty.EvaluateTier(program, testLadder(), nil, agg("9999", 99))
	assert.False(t, change.Changed())
	assert.Nil(t, change.To)
}
