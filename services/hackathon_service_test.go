package services

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"devbout/ledger"
	"devbout/models"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type hackathonFixture struct {
	db        *gorm.DB
	app       *fiber.App
	organizer *models.User
}

func newHackathonFixture(t *testing.T) *hackathonFixture {
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
		&models.Submission{},
		&models.Badge{},
		&models.UserBadge{},
	))

	organizer := &models.User{
		ID:    uuid.NewString(),
		Name:  "Alex",
		Email: uuid.NewString() + "@example.com",
	}
	require.NoError(t, db.Create(organizer).Error)

	badges := NewBadgeService(db)
	hackathons := NewHackathonService(db, ledger.NewStore(db), badges)
	submissions := NewSubmissionService(db, badges)

	app := fiber.New()
	app.Use(func(c *fiber.Ctx) error {
		c.Locals("user_id", c.Get("X-User-ID"))
		return c.Next()
	})
	app.Put("/hackathons/:id", hackathons.UpdateHackathon)
	app.Patch("/submissions/:id/score", submissions.ScoreSubmission)

	return &hackathonFixture{db: db, app: app, organizer: organizer}
}

func (f *hackathonFixture) seedHackathon(t *testing.T, status models.HackathonStatus, criteria []models.JudgingCriterion) *models.Hackathon {
	t.Helper()
	hackathon := &models.Hackathon{
		ID:              uuid.NewString(),
		OrganizerID:     f.organizer.ID,
		Name:            "Build Jam",
		Slug:            "build-jam-" + uuid.NewString(),
		StartDate:       time.Now().Add(24 * time.Hour),
		EndDate:         time.Now().Add(72 * time.Hour),
		MinTeamSize:     1,
		MaxTeamSize:     4,
		BasePrize:       "100",
		PrizePool:       "100",
		FundingType:     models.FundingFullyFunded,
		Status:          status,
		JudgingCriteria: criteria,
	}
	require.NoError(t, f.db.Create(hackathon).Error)
	return hackathon
}

func (f *hackathonFixture) jsonRequest(t *testing.T, method, target string, body interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(method, target, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", f.organizer.ID)
	resp, err := f.app.Test(req)
	require.NoError(t, err)
	return resp
}

func TestUpdateHackathonRejectsInvalidCriteria(t *testing.T) {
	f := newHackathonFixture(t)
	hackathon := f.seedHackathon(t, models.HackathonDraft, []models.JudgingCriterion{
		{Name: "design", Weight: 1},
	})

	cases := []struct {
		name     string
		criteria []models.JudgingCriterion
	}{
		{"zero weight", []models.JudgingCriterion{{Name: "design", Weight: 0}}},
		{"negative weight", []models.JudgingCriterion{{Name: "design", Weight: -2}}},
		{"missing name", []models.JudgingCriterion{{Name: "", Weight: 1}}},
		{"empty list", []models.JudgingCriterion{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := f.jsonRequest(t, "PUT", "/hackathons/"+hackathon.ID, fiber.Map{
				"judging_criteria": tc.criteria,
			})
			defer resp.Body.Close()
			assert.Equal(t, 400, resp.StatusCode)
		})
	}

	// The stored criteria are untouched
	var got models.Hackathon
	require.NoError(t, f.db.First(&got, "id = ?", hackathon.ID).Error)
	require.Len(t, got.JudgingCriteria, 1)
	assert.Equal(t, 1.0, got.JudgingCriteria[0].Weight)
}

func TestUpdateHackathonReplacesCriteria(t *testing.T) {
	f := newHackathonFixture(t)
	hackathon := f.seedHackathon(t, models.HackathonDraft, []models.JudgingCriterion{
		{Name: "design", Weight: 1},
	})

	resp := f.jsonRequest(t, "PUT", "/hackathons/"+hackathon.ID, fiber.Map{
		"judging_criteria": []models.JudgingCriterion{
			{Name: "design", Weight: 2},
			{Name: "impact", Weight: 3},
		},
	})
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	var got models.Hackathon
	require.NoError(t, f.db.First(&got, "id = ?", hackathon.ID).Error)
	require.Len(t, got.JudgingCriteria, 2)
	assert.Equal(t, "impact", got.JudgingCriteria[1].Name)
}

// Rows written before weight validation existed must not take scoring down;
// the handler answers 409 instead of dividing by the zero weight total.
func TestScoreSubmissionRejectsZeroWeightCriteria(t *testing.T) {
	f := newHackathonFixture(t)
	hackathon := f.seedHackathon(t, models.HackathonJudging, []models.JudgingCriterion{
		{Name: "design", Weight: 0},
	})

	team := &models.Team{ID: uuid.NewString(), HackathonID: hackathon.ID, Name: "Builders"}
	require.NoError(t, f.db.Create(team).Error)
	submission := &models.Submission{
		ID:          uuid.NewString(),
		HackathonID: hackathon.ID,
		TeamID:      team.ID,
		ProjectName: "Widget",
	}
	require.NoError(t, f.db.Create(submission).Error)

	resp := f.jsonRequest(t, "PATCH", "/submissions/"+submission.ID+"/score", fiber.Map{
		"scores": map[string]float64{"design": 7},
	})
	defer resp.Body.Close()
	require.Equal(t, 409, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "criteria weights are invalid")

	var got models.Submission
	require.NoError(t, f.db.First(&got, "id = ?", submission.ID).Error)
	assert.Empty(t, got.Score)
}

func TestScoreSubmissionWeightedTotal(t *testing.T) {
	f := newHackathonFixture(t)
	hackathon := f.seedHackathon(t, models.HackathonJudging, []models.JudgingCriterion{
		{Name: "design", Weight: 1},
		{Name: "impact", Weight: 3},
	})

	team := &models.Team{ID: uuid.NewString(), HackathonID: hackathon.ID, Name: "Builders"}
	require.NoError(t, f.db.Create(team).Error)
	submission := &models.Submission{
		ID:          uuid.NewString(),
		HackathonID: hackathon.ID,
		TeamID:      team.ID,
		ProjectName: "Widget",
	}
	require.NoError(t, f.db.Create(submission).Error)

	resp := f.jsonRequest(t, "PATCH", "/submissions/"+submission.ID+"/score", fiber.Map{
		"scores": map[string]float64{"design": 4, "impact": 8},
	})
	defer resp.Body.Close()
	require.Equal(t, 200, resp.StatusCode)

	// (4*1 + 8*3) / 4 = 7
	var got models.Submission
	require.NoError(t, f.db.First(&got, "id = ?", submission.ID).Error)
	score, err := decimal.NewFromString(got.Score)
	require.NoError(t, err)
	assert.True(t, score.Equal(decimal.RequireFromString("7")))
}
