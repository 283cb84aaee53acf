package workers

import (
	"context"
	"testing"
	"time"

	"devbout/ledger"
	"devbout/models"
	"devbout/settlement"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sweeperFixture struct {
	store     *ledger.Store
	backend   *settlement.MockBackend
	sweeper   *ReconciliationSweeper
	hackathon *models.Hackathon
	user      *models.User
}

func newSweeperFixture(t *testing.T) *sweeperFixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.User{},
		&models.Hackathon{},
		&models.Team{},
		&models.Contribution{},
		&models.TeamPrize{},
		&models.PrizeClaim{},
		&models.SettlementTransition{},
	))

	store := ledger.NewStore(db)
	backend := settlement.NewMockBackend()

	user := &models.User{
		ID:            uuid.NewString(),
		Name:          "Robin",
		Email:         uuid.NewString() + "@example.com",
		WalletAddress: "0xwallet",
	}
	require.NoError(t, db.Create(user).Error)

	hackathon := &models.Hackathon{
		ID:          uuid.NewString(),
		OrganizerID: uuid.NewString(),
		Name:        "Sweep Jam",
		Slug:        "sweep-jam-" + uuid.NewString(),
		MaxTeamSize: 4,
		BasePrize:   "0",
		PrizePool:   "0",
		FundingType: models.FundingCrowdfunded,
		Status:      models.HackathonOngoing,
	}
	require.NoError(t, db.Create(hackathon).Error)

	return &sweeperFixture{
		store:   store,
		backend: backend,
		sweeper: &ReconciliationSweeper{
			Store:      store,
			Backend:    backend,
			StuckAfter: time.Minute,
			MaxAge:     time.Hour,
			BatchSize:  50,
		},
		hackathon: hackathon,
		user:      user,
	}
}

// submittedContribution creates a contribution in SUBMITTED with the given
// age, as if the process died before confirmation.
func (f *sweeperFixture) submittedContribution(t *testing.T, key, ref string, age time.Duration) *models.Contribution {
	t.Helper()

	c, err := f.store.CreateContribution(ledger.ContributionInput{
		HackathonID:    f.hackathon.ID,
		ContributorID:  f.user.ID,
		Amount:         "20",
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	c, err = f.store.MarkContributionSubmitted(c.ID, ref)
	require.NoError(t, err)

	submittedAt := time.Now().UTC().Add(-age)
	require.NoError(t, f.store.DB.Model(&models.Contribution{}).
		Where("id = ?", c.ID).Update("submitted_at", submittedAt).Error)

	return c
}

func (f *sweeperFixture) pool(t *testing.T) decimal.Decimal {
	t.Helper()
	var h models.Hackathon
	require.NoError(t, f.store.DB.First(&h, "id = ?", f.hackathon.ID).Error)
	return decimal.RequireFromString(h.PrizePool)
}

func TestSweepConfirmsFinalizedContribution(t *testing.T) {
	f := newSweeperFixture(t)

	c := f.submittedContribution(t, "key-1", "0xtx1", 5*time.Minute)
	f.backend.SetStatus("0xtx1", settlement.StatusFinal)

	require.NoError(t, f.sweeper.SweepOnce(context.Background()))

	got, err := f.store.GetContribution(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementConfirmed, got.Status)
	assert.True(t, f.pool(t).Equal(decimal.RequireFromString("20")))

	// A second pass is a no-op: CONFIRMED is terminal and the pool is
	// incremented exactly once.
	require.NoError(t, f.sweeper.SweepOnce(context.Background()))
	assert.True(t, f.pool(t).Equal(decimal.RequireFromString("20")))
}

func TestSweepSkipsFreshSubmissions(t *testing.T) {
	f := newSweeperFixture(t)

	c := f.submittedContribution(t, "key-1", "0xtx1", 10*time.Second)
	f.backend.SetStatus("0xtx1", settlement.StatusFinal)

	require.NoError(t, f.sweeper.SweepOnce(context.Background()))

	got, err := f.store.GetContribution(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementSubmitted, got.Status)
}

func TestSweepLeavesPendingExternalAlone(t *testing.T) {
	f := newSweeperFixture(t)

	c := f.submittedContribution(t, "key-1", "0xtx1", 5*time.Minute)
	f.backend.SetStatus("0xtx1", settlement.StatusPendingExternal)

	require.NoError(t, f.sweeper.SweepOnce(context.Background()))

	// Claim released, still waiting on the external system
	got, err := f.store.GetContribution(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementSubmitted, got.Status)
}

func TestSweepFailsMissingRecordPastMaxAge(t *testing.T) {
	f := newSweeperFixture(t)

	// Unknown to the backend and too old to wait for
	old := f.submittedContribution(t, "key-old", "0xgone", 2*time.Hour)
	// Unknown but recent enough to get the benefit of the doubt
	young := f.submittedContribution(t, "key-young", "0xslow", 5*time.Minute)

	require.NoError(t, f.sweeper.SweepOnce(context.Background()))

	gotOld, err := f.store.GetContribution(old.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementFailed, gotOld.Status)
	assert.Contains(t, gotOld.FailureReason, "external record missing")

	gotYoung, err := f.store.GetContribution(young.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementSubmitted, gotYoung.Status)

	assert.True(t, f.pool(t).IsZero())
}

func TestSweepReconcilesClaims(t *testing.T) {
	f := newSweeperFixture(t)

	team := &models.Team{ID: uuid.NewString(), HackathonID: f.hackathon.ID, Name: "Winners", IsWinner: true}
	require.NoError(t, f.store.DB.Create(team).Error)

	prizes, err := f.store.CreateTeamPrizes(f.hackathon.ID, []ledger.TeamPrizeInput{
		{TeamID: team.ID, Amount: "50"},
	})
	require.NoError(t, err)
	prize := prizes[0]

	claim, err := f.store.CreatePrizeClaim(ledger.ClaimInput{
		TeamPrizeID:    prize.ID,
		ClaimantID:     f.user.ID,
		IdempotencyKey: "claim-1",
	})
	require.NoError(t, err)
	claim, err = f.store.MarkClaimSubmitted(claim.ID, "0xclaimtx")
	require.NoError(t, err)

	submittedAt := time.Now().UTC().Add(-5 * time.Minute)
	require.NoError(t, f.store.DB.Model(&models.PrizeClaim{}).
		Where("id = ?", claim.ID).Update("submitted_at", submittedAt).Error)

	f.backend.SetStatus("0xclaimtx", settlement.StatusFinal)

	require.NoError(t, f.sweeper.SweepOnce(context.Background()))

	gotClaim, err := f.store.GetClaim(claim.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementConfirmed, gotClaim.Status)

	gotPrize, err := f.store.GetTeamPrize(prize.ID)
	require.NoError(t, err)
	assert.True(t, gotPrize.HasClaimed)
	require.NotNil(t, gotPrize.ClaimTxRef)
	assert.Equal(t, "0xclaimtx", *gotPrize.ClaimTxRef)
}

func TestSweeperRunStopsOnContextCancel(t *testing.T) {
	f := newSweeperFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.sweeper.Run(ctx, 10*time.Millisecond)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after context cancellation")
	}
}
