package service

import (
	"context"
	"testing"
	"time"

	"backend/internal/apperr"
	"backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newConfigService(env *testEnv) RateConfigService {
	return NewRateConfigService(env.configs, env.logs, repository.NewTransactionManager(env.db))
}

func publishDTO(version, from, to string) PublishRateConfigRequest {
	return PublishRateConfigRequest{
		JurisdictionVersion:       version,
		EffectiveFrom:             from,
		EffectiveTo:               to,
		VATStandardRate:           "0.05",
		CITStandardRate:           "0.09",
		CITSmallBusinessThreshold: "375000",
		CITFreeZoneThreshold:      "3000000",
		VATRegistrationThreshold:  "375000",
	}
}

func TestPublishRateConfigRejectsOverlap(t *testing.T) {
	env := newTestEnv(t) // seeds an open-ended config from 2020-01-01
	svc := newConfigService(env)

	_, err := svc.Publish(context.Background(), publishDTO("UAE-2027.1", "2027-01-01", ""), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrConflict)
}

func TestPublishRateConfigBeforeExistingRange(t *testing.T) {
	env := newTestEnv(t)
	svc := newConfigService(env)
	ctx := context.Background()

	cfg, err := svc.Publish(ctx, publishDTO("UAE-2018.1", "2018-01-01", "2019-12-31"), "")
	require.NoError(t, err)
	assert.Equal(t, "UAE-2018.1", cfg.JurisdictionVersion)

	effective, err := svc.GetEffective(ctx, time.Date(2018, 6, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, cfg.ID, effective.ID)
}

func TestPublishRateConfigValidation(t *testing.T) {
	env := newTestEnv(t)
	svc := newConfigService(env)

	dto := publishDTO("UAE-2018.2", "2018-01-01", "2017-12-31")
	dto.VATStandardRate = "1.5"

	_, err := svc.Publish(context.Background(), dto, "")
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)

	violations := apperr.Violations(err)
	assert.Contains(t, violations, "effective_to must not precede effective_from")
	assert.Contains(t, violations, "vat_standard_rate must be within [0, 1]")
}

func TestGetEffectiveOutsideAnyRange(t *testing.T) {
	env := newTestEnv(t)
	svc := newConfigService(env)

	_, err := svc.GetEffective(context.Background(), time.Date(2010, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
