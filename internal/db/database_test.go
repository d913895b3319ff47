package db

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"keymeter/internal/config"
	"keymeter/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB creates a fresh in-memory SQLite database. The database
// is named after the test so shared-cache connections stay isolated
// between tests, and the pool is pinned to one connection so every
// session sees the same in-memory store.
func setupTestDB(t *testing.T) Service {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	service, err := NewService(config.DatabaseConfig{Type: "sqlite", DSN: dsn})
	require.NoError(t, err)
	sqlDB, err := service.GetDB().DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return service
}

func testPrincipal(id string) *model.Principal {
	return &model.Principal{
		ID:          id,
		OwnerEmail:  "dev@example.com",
		Credential:  "sk_live_" + strings.Repeat("0", 24) + id[len(id)-8:],
		Plan:        "free",
		CycleAnchor: "2024-01-01",
		Active:      true,
	}
}

func TestNewService(t *testing.T) {
	service, err := NewService(config.DatabaseConfig{Type: "sqlite", DSN: "file:newservice?mode=memory&cache=shared"})
	assert.NoError(t, err)
	assert.NotNil(t, service)

	_, err = NewService(config.DatabaseConfig{Type: "unsupported"})
	assert.Error(t, err)
}

func TestCreatePrincipalIsIdempotent(t *testing.T) {
	service := setupTestDB(t)

	first, created, err := service.CreatePrincipal(testPrincipal("u_owner001"))
	require.NoError(t, err)
	assert.True(t, created)

	// Second provisioning call returns the stored row, including its
	// original credential, and reports created=false.
	replay := testPrincipal("u_owner001")
	replay.Credential = "sk_live_" + strings.Repeat("f", 32)
	second, created, err := service.CreatePrincipal(replay)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.Credential, second.Credential)

	var count int64
	service.GetDB().Model(&model.Principal{}).Count(&count)
	assert.EqualValues(t, 1, count)
}

func TestCreatePrincipalPersistsInactive(t *testing.T) {
	service := setupTestDB(t)

	// A column default on Active would make gorm skip the false value
	// on insert, so "created inactive" must survive a round trip.
	p := testPrincipal("u_owner010")
	p.Active = false
	stored, created, err := service.CreatePrincipal(p)
	require.NoError(t, err)
	assert.True(t, created)
	assert.False(t, stored.Active)

	read, err := service.GetPrincipal("u_owner010")
	require.NoError(t, err)
	assert.False(t, read.Active)
}

func TestGetPrincipalByCredential(t *testing.T) {
	service := setupTestDB(t)
	p := testPrincipal("u_owner002")
	_, _, err := service.CreatePrincipal(p)
	require.NoError(t, err)

	found, err := service.GetPrincipalByCredential(p.Credential)
	require.NoError(t, err)
	assert.Equal(t, "u_owner002", found.ID)

	_, err = service.GetPrincipalByCredential("sk_live_" + strings.Repeat("9", 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRotateCredentialInvalidatesOldValue(t *testing.T) {
	service := setupTestDB(t)
	p := testPrincipal("u_owner003")
	_, _, err := service.CreatePrincipal(p)
	require.NoError(t, err)

	newCred := "sk_live_" + strings.Repeat("a", 32)
	require.NoError(t, service.RotateCredential("u_owner003", newCred))

	_, err = service.GetPrincipalByCredential(p.Credential)
	assert.ErrorIs(t, err, ErrNotFound)

	found, err := service.GetPrincipalByCredential(newCred)
	require.NoError(t, err)
	assert.Equal(t, "u_owner003", found.ID)
	assert.False(t, found.CredentialRotatedAt.IsZero())
}

func TestRotateCredentialUnknownPrincipal(t *testing.T) {
	service := setupTestDB(t)
	err := service.RotateCredential("u_ghost", "sk_live_"+strings.Repeat("b", 32))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSetPrincipalActiveAndPlan(t *testing.T) {
	service := setupTestDB(t)
	_, _, err := service.CreatePrincipal(testPrincipal("u_owner004"))
	require.NoError(t, err)

	require.NoError(t, service.SetPrincipalActive("u_owner004", false))
	require.NoError(t, service.SetPrincipalPlan("u_owner004", "pro"))

	p, err := service.GetPrincipal("u_owner004")
	require.NoError(t, err)
	assert.False(t, p.Active)
	assert.Equal(t, "pro", p.Plan)

	assert.ErrorIs(t, service.SetPrincipalActive("u_ghost", true), ErrNotFound)
	assert.ErrorIs(t, service.SetPrincipalPlan("u_ghost", "pro"), ErrNotFound)
}

func TestTransitionPrincipalCommitsMutation(t *testing.T) {
	service := setupTestDB(t)
	_, _, err := service.CreatePrincipal(testPrincipal("u_owner005"))
	require.NoError(t, err)

	after, err := service.TransitionPrincipal("u_owner005", func(p *model.Principal) bool {
		p.RequestsUsed++
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 1, after.RequestsUsed)

	stored, err := service.GetPrincipal("u_owner005")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.RequestsUsed)
}

func TestTransitionPrincipalNoMutationWritesNothing(t *testing.T) {
	service := setupTestDB(t)
	_, _, err := service.CreatePrincipal(testPrincipal("u_owner006"))
	require.NoError(t, err)

	before, err := service.GetPrincipal("u_owner006")
	require.NoError(t, err)

	_, err = service.TransitionPrincipal("u_owner006", func(p *model.Principal) bool {
		return false
	})
	require.NoError(t, err)

	after, err := service.GetPrincipal("u_owner006")
	require.NoError(t, err)
	assert.Equal(t, before.RequestsUsed, after.RequestsUsed)
	assert.Equal(t, before.UpdatedAt, after.UpdatedAt)
}

func TestTransitionPrincipalUnknownID(t *testing.T) {
	service := setupTestDB(t)
	_, err := service.TransitionPrincipal("u_ghost", func(p *model.Principal) bool { return true })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsageRecordsAppendAndList(t *testing.T) {
	service := setupTestDB(t)

	for i := 0; i < 3; i++ {
		err := service.AddUsageRecord(&model.UsageRecord{
			PrincipalID: "u_owner007",
			Endpoint:    fmt.Sprintf("/api/v1/generate/%d", i),
		})
		require.NoError(t, err)
	}
	require.NoError(t, service.AddUsageRecord(&model.UsageRecord{PrincipalID: "u_other", Endpoint: "/api/v1/voice"}))

	records, err := service.ListUsageRecords("u_owner007", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// Append order is preserved per principal.
	assert.Equal(t, "/api/v1/generate/0", records[0].Endpoint)
	assert.Equal(t, "/api/v1/generate/2", records[2].Endpoint)
}

func TestPruneUsageRecords(t *testing.T) {
	service := setupTestDB(t)

	old := model.UsageRecord{PrincipalID: "u_owner008", Endpoint: "/old"}
	recent := model.UsageRecord{PrincipalID: "u_owner008", Endpoint: "/recent"}
	require.NoError(t, service.AddUsageRecord(&old))
	require.NoError(t, service.AddUsageRecord(&recent))

	// Age the first record past the cutoff.
	aged := time.Now().UTC().AddDate(0, 0, -120)
	require.NoError(t, service.GetDB().Model(&model.UsageRecord{}).Where("id = ?", old.ID).Update("created_at", aged).Error)

	pruned, err := service.PruneUsageRecords(time.Now().UTC().AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	records, err := service.ListUsageRecords("u_owner008", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "/recent", records[0].Endpoint)
}
