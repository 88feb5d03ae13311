package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hotel-channel-sync/models"
)

// IntegrationService is the registry of configured channel integrations.
type IntegrationService struct {
	DB *gorm.DB
}

func NewIntegrationService(db *gorm.DB) *IntegrationService {
	return &IntegrationService{DB: db}
}

func (s *IntegrationService) ListIntegrations(ctx context.Context) ([]models.ChannelIntegration, error) {
	var list []models.ChannelIntegration
	if err := s.DB.WithContext(ctx).Order("id ASC").Find(&list).Error; err != nil {
		return nil, errors.Wrap(err, "list integrations")
	}
	return list, nil
}

// GetIntegration returns nil without error when the channel has no row.
func (s *IntegrationService) GetIntegration(ctx context.Context, key string) (*models.ChannelIntegration, error) {
	var rows []models.ChannelIntegration
	if err := s.DB.WithContext(ctx).Where("channel_key = ?", key).Limit(1).Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "load integration %s", key)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Upsert creates or replaces the configuration of one channel, keeping its
// last-sync bookkeeping.
func (s *IntegrationService) Upsert(ctx context.Context, in models.ChannelIntegration) (*models.ChannelIntegration, error) {
	err := s.DB.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "channel_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"display_name", "active", "settings", "webhook_secret", "credentials", "updated_at"}),
	}).Create(&in).Error
	if err != nil {
		return nil, errors.Wrapf(err, "upsert integration %s", in.Key)
	}
	return s.GetIntegration(ctx, in.Key)
}

// MigrateLegacySecrets moves secrets stored under legacy credential aliases
// into the canonical column and strips the aliases.
func (s *IntegrationService) MigrateLegacySecrets(ctx context.Context) (int, error) {
	list, err := s.ListIntegrations(ctx)
	if err != nil {
		return 0, err
	}

	migrated := 0
	for _, integ := range list {
		alias, secret := integ.LegacySecret()
		hasAlias := false
		for _, k := range models.LegacySecretKeys {
			if _, ok := integ.Credentials[k]; ok {
				hasAlias = true
				break
			}
		}
		if !hasAlias {
			continue
		}

		creds := datatypes.JSONMap{}
		for k, v := range integ.Credentials {
			creds[k] = v
		}
		for _, k := range models.LegacySecretKeys {
			delete(creds, k)
		}
		updates := map[string]any{"credentials": creds}
		if integ.WebhookSecret == "" && secret != "" {
			updates["webhook_secret"] = secret
		}
		if err := s.DB.WithContext(ctx).Model(&models.ChannelIntegration{}).Where("id = ?", integ.ID).Updates(updates).Error; err != nil {
			return migrated, errors.Wrapf(err, "migrate secret for %s", integ.Key)
		}
		log.Info().Str("channel", integ.Key).Str("alias", alias).Msg("migrated legacy signing secret")
		migrated++
	}
	return migrated, nil
}

// RecordSyncResult stores the outcome of the latest sync with a channel.
func (s *IntegrationService) RecordSyncResult(ctx context.Context, key string, syncErr error, summary any) error {
	now := time.Now().UTC()
	updates := map[string]any{
		"last_sync_status": models.SyncResultSuccess,
		"last_sync_error":  "",
		"last_sync_at":     now,
	}
	if syncErr != nil {
		updates["last_sync_status"] = models.SyncResultError
		updates["last_sync_error"] = syncErr.Error()
	}
	if summary != nil {
		if raw, err := json.Marshal(summary); err == nil {
			updates["last_sync_summary"] = datatypes.JSON(raw)
		}
	}
	err := s.DB.WithContext(ctx).Model(&models.ChannelIntegration{}).Where("channel_key = ?", key).Updates(updates).Error
	return errors.Wrapf(err, "record sync result for %s", key)
}
