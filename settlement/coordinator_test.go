package settlement

import (
	"context"
	"testing"
	"time"

	"devbout/ledger"
	"devbout/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type coordinatorFixture struct {
	store       *ledger.Store
	backend     *MockBackend
	coordinator *Coordinator
	hackathon   *models.Hackathon
	user        *models.User
}

func testConfig() Config {
	return Config{
		SubmitTimeout: time.Second,
		MaxRetries:    2,
		RetryBackoff:  time.Millisecond,
		ConfirmWait:   0,
		ConfirmPoll:   time.Millisecond,
	}
}

func newCoordinatorFixture(t *testing.T) *coordinatorFixture {
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
		&models.TeamMember{},
		&models.Contribution{},
		&models.TeamPrize{},
		&models.PrizeClaim{},
		&models.SettlementTransition{},
	))

	store := ledger.NewStore(db)
	backend := NewMockBackend()

	user := &models.User{
		ID:            uuid.NewString(),
		Name:          "Sam",
		Email:         uuid.NewString() + "@example.com",
		WalletAddress: "0xcontributor",
	}
	require.NoError(t, db.Create(user).Error)

	hackathon := &models.Hackathon{
		ID:          uuid.NewString(),
		OrganizerID: uuid.NewString(),
		Name:        "Chain Jam",
		Slug:        "chain-jam-" + uuid.NewString(),
		MaxTeamSize: 4,
		BasePrize:   "0",
		PrizePool:   "0",
		FundingType: models.FundingCrowdfunded,
		Status:      models.HackathonOpen,
	}
	require.NoError(t, db.Create(hackathon).Error)

	return &coordinatorFixture{
		store:       store,
		backend:     backend,
		coordinator: NewCoordinator(store, backend, testConfig()),
		hackathon:   hackathon,
		user:        user,
	}
}

func (f *coordinatorFixture) pool(t *testing.T) decimal.Decimal {
	t.Helper()
	var h models.Hackathon
	require.NoError(t, f.store.DB.First(&h, "id = ?", f.hackathon.ID).Error)
	return decimal.RequireFromString(h.PrizePool)
}

func TestInitiateContributionHappyPath(t *testing.T) {
	f := newCoordinatorFixture(t)

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "12.5", "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.SettlementSubmitted, c.Status)
	require.NotNil(t, c.ExternalRef)
	assert.NotEmpty(t, *c.ExternalRef)

	require.Len(t, f.backend.Contributions, 1)
	submitted := f.backend.Contributions[0]
	assert.Equal(t, f.hackathon.ID, submitted.HackathonID)
	assert.Equal(t, "0xcontributor", submitted.ContributorAddress)
	assert.Equal(t, "12.5", submitted.Amount)
	assert.Equal(t, "key-1", submitted.IdempotencyKey)
}

func TestIdempotencyKeyShortCircuits(t *testing.T) {
	f := newCoordinatorFixture(t)

	first, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	second, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, 1, f.backend.SubmitCount)
}

func TestGeneratedKeyWhenEmpty(t *testing.T) {
	f := newCoordinatorFixture(t)

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "")
	require.NoError(t, err)
	assert.NotEmpty(t, c.IdempotencyKey)
}

func TestRejectionIsPermanent(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.backend.RejectReason = "insufficient funds"

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.Error(t, err)
	assert.True(t, IsRejected(err))

	// No retries on a permanent refusal
	assert.Equal(t, 1, f.backend.SubmitCount)

	// Recorded FAILED with the backend's reason verbatim
	require.NotNil(t, c)
	assert.Equal(t, models.SettlementFailed, c.Status)
	assert.Equal(t, "insufficient funds", c.FailureReason)

	assert.True(t, f.pool(t).IsZero())
}

func TestTransientFailureRetries(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.backend.FailuresBeforeAccept = 2

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.SettlementSubmitted, c.Status)
	assert.Equal(t, 3, f.backend.SubmitCount)
}

func TestLostAckIsAdoptedNotResubmitted(t *testing.T) {
	f := newCoordinatorFixture(t)
	// The first submit "fails" after the backend recorded it
	f.backend.FailuresBeforeAccept = 1
	f.backend.AckLost = true

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.SettlementSubmitted, c.Status)
	// Only the lost-ack attempt hit the backend; the retry adopted its receipt
	assert.Equal(t, 1, f.backend.SubmitCount)
	require.NotNil(t, c.ExternalRef)
	assert.Equal(t, f.backend.RefForKey("key-1"), *c.ExternalRef)
}

func TestRetryBudgetExhausted(t *testing.T) {
	f := newCoordinatorFixture(t)
	f.backend.FailuresBeforeAccept = 10

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.Error(t, err)

	var timeout *TimeoutError
	require.ErrorAs(t, err, &timeout)

	require.NotNil(t, c)
	assert.Equal(t, models.SettlementFailed, c.Status)
	assert.Equal(t, "TimedOut", c.FailureReason)

	// First attempt plus MaxRetries
	assert.Equal(t, 3, f.backend.SubmitCount)
}

func TestSynchronousConfirmation(t *testing.T) {
	f := newCoordinatorFixture(t)

	cfg := testConfig()
	cfg.ConfirmWait = 500 * time.Millisecond
	cfg.ConfirmPoll = 5 * time.Millisecond
	f.coordinator = NewCoordinator(f.store, f.backend, cfg)

	// Flip the submission to FINAL as soon as it appears
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 200; i++ {
			if ref := f.backend.RefForKey("key-1"); ref != "" {
				f.backend.SetStatus(ref, StatusFinal)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	<-done
	require.NoError(t, err)

	assert.Equal(t, models.SettlementConfirmed, c.Status)
	assert.True(t, f.pool(t).Equal(decimal.RequireFromString("10")))
}

func TestCancelContribution(t *testing.T) {
	f := newCoordinatorFixture(t)

	// A row still in PENDING can be cancelled
	pending, err := f.store.CreateContribution(ledger.ContributionInput{
		HackathonID:    f.hackathon.ID,
		ContributorID:  f.user.ID,
		Amount:         "10",
		IdempotencyKey: "key-pending",
	})
	require.NoError(t, err)

	cancelled, err := f.coordinator.CancelContribution(pending.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SettlementFailed, cancelled.Status)
	assert.Equal(t, "canceled by caller", cancelled.FailureReason)

	// Once submitted the action is irrevocable
	submitted, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-submitted")
	require.NoError(t, err)

	_, err = f.coordinator.CancelContribution(submitted.ID)
	require.ErrorIs(t, err, ErrIrrevocable)
}

func TestInitiatePrizeClaim(t *testing.T) {
	f := newCoordinatorFixture(t)

	team := &models.Team{ID: uuid.NewString(), HackathonID: f.hackathon.ID, Name: "Winners", IsWinner: true}
	require.NoError(t, f.store.DB.Create(team).Error)

	prizes, err := f.store.CreateTeamPrizes(f.hackathon.ID, []ledger.TeamPrizeInput{
		{TeamID: team.ID, Amount: "75"},
	})
	require.NoError(t, err)
	prize := prizes[0]

	claim, err := f.coordinator.InitiatePrizeClaim(
		context.Background(), prize.ID, f.user.ID, "claim-1")
	require.NoError(t, err)

	assert.Equal(t, models.SettlementSubmitted, claim.Status)
	assert.Equal(t, "75", claim.Amount)

	require.Len(t, f.backend.Claims, 1)
	submitted := f.backend.Claims[0]
	assert.Equal(t, f.hackathon.ID, submitted.HackathonID)
	assert.Equal(t, prize.ID, submitted.TeamPrizeID)
	assert.Equal(t, "0xcontributor", submitted.WinnerAddress)
	assert.Equal(t, "75", submitted.Amount)

	// Replay with the same key returns the same claim
	again, err := f.coordinator.InitiatePrizeClaim(
		context.Background(), prize.ID, f.user.ID, "claim-1")
	require.NoError(t, err)
	assert.Equal(t, claim.ID, again.ID)
	assert.Equal(t, 1, f.backend.SubmitCount)
}

func TestReplayAdoptsPendingContribution(t *testing.T) {
	f := newCoordinatorFixture(t)

	// A prior run got the backend's acceptance but died before recording
	// SUBMITTED: the row is PENDING and the backend holds the submission.
	pending, err := f.store.CreateContribution(ledger.ContributionInput{
		HackathonID:    f.hackathon.ID,
		ContributorID:  f.user.ID,
		Amount:         "10",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)
	ref := f.backend.SeedSubmission("key-1")

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	assert.Equal(t, pending.ID, c.ID)
	assert.Equal(t, models.SettlementSubmitted, c.Status)
	require.NotNil(t, c.ExternalRef)
	assert.Equal(t, ref, *c.ExternalRef)
	// Adopted, never resubmitted
	assert.Equal(t, 0, f.backend.SubmitCount)
}

func TestReplayResubmitsPendingContribution(t *testing.T) {
	f := newCoordinatorFixture(t)

	// A prior run died before the backend ever saw the submission: the row
	// is PENDING and the backend holds nothing for the key.
	pending, err := f.store.CreateContribution(ledger.ContributionInput{
		HackathonID:    f.hackathon.ID,
		ContributorID:  f.user.ID,
		Amount:         "10",
		IdempotencyKey: "key-1",
	})
	require.NoError(t, err)

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	assert.Equal(t, pending.ID, c.ID)
	assert.Equal(t, models.SettlementSubmitted, c.Status)
	assert.Equal(t, 1, f.backend.SubmitCount)
	require.Len(t, f.backend.Contributions, 1)
	assert.Equal(t, "key-1", f.backend.Contributions[0].IdempotencyKey)
}

func TestReplayAdoptsPendingClaim(t *testing.T) {
	f := newCoordinatorFixture(t)

	team := &models.Team{ID: uuid.NewString(), HackathonID: f.hackathon.ID, Name: "Winners", IsWinner: true}
	require.NoError(t, f.store.DB.Create(team).Error)
	prizes, err := f.store.CreateTeamPrizes(f.hackathon.ID, []ledger.TeamPrizeInput{
		{TeamID: team.ID, Amount: "50"},
	})
	require.NoError(t, err)

	pending, err := f.store.CreatePrizeClaim(ledger.ClaimInput{
		TeamPrizeID:    prizes[0].ID,
		ClaimantID:     f.user.ID,
		IdempotencyKey: "claim-1",
	})
	require.NoError(t, err)
	ref := f.backend.SeedSubmission("claim-1")

	claim, err := f.coordinator.InitiatePrizeClaim(
		context.Background(), prizes[0].ID, f.user.ID, "claim-1")
	require.NoError(t, err)

	assert.Equal(t, pending.ID, claim.ID)
	assert.Equal(t, models.SettlementSubmitted, claim.Status)
	require.NotNil(t, claim.ExternalRef)
	assert.Equal(t, ref, *claim.ExternalRef)
	assert.Equal(t, 0, f.backend.SubmitCount)
}

func TestGetStatusResolvesBothKinds(t *testing.T) {
	f := newCoordinatorFixture(t)

	c, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, f.user.ID, "10", "key-1")
	require.NoError(t, err)

	status, err := f.coordinator.GetStatus(c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ActionContribution, status.Kind)
	assert.Equal(t, models.SettlementSubmitted, status.Status)
	assert.NotEmpty(t, status.ExternalRef)

	_, err = f.coordinator.GetStatus("no-such-action")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMissingWalletBlocksSubmission(t *testing.T) {
	f := newCoordinatorFixture(t)

	noWallet := &models.User{
		ID:    uuid.NewString(),
		Name:  "Kim",
		Email: uuid.NewString() + "@example.com",
	}
	require.NoError(t, f.store.DB.Create(noWallet).Error)

	_, err := f.coordinator.InitiateContribution(
		context.Background(), f.hackathon.ID, noWallet.ID, "10", "key-1")
	var v *ledger.ValidationError
	require.ErrorAs(t, err, &v)
	assert.Equal(t, 0, f.backend.SubmitCount)
}
