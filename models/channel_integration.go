package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	SyncResultSuccess = "success"
	SyncResultError   = "error"
)

// LegacySecretKeys lists the credential fields older integrations stored
// their signing secret under, in lookup order.
var LegacySecretKeys = []string{"webhookSecret", "webhookToken", "secret", "syncSecret", "apiSecret", "signingSecret"}

type AutoSyncSettings struct {
	Enabled *bool  `json:"enabled,omitempty" yaml:"enabled"`
	URL     string `json:"url,omitempty" yaml:"url"`
	Format  string `json:"format,omitempty" yaml:"format"`
}

type IntegrationSettings struct {
	AutoSync            AutoSyncSettings `json:"autoSync" yaml:"autoSync"`
	DefaultImportStatus string           `json:"defaultImportStatus,omitempty" yaml:"defaultImportStatus"`
	FeedURL             string           `json:"feedUrl,omitempty" yaml:"feedUrl"`
	Brokers             []string         `json:"brokers,omitempty" yaml:"brokers"`
	Topic               string           `json:"topic,omitempty" yaml:"topic"`
}

// AutoSyncDisabled is true only when settings explicitly turn auto-sync off.
func (s IntegrationSettings) AutoSyncDisabled() bool {
	return s.AutoSync.Enabled != nil && !*s.AutoSync.Enabled
}

type ChannelIntegration struct {
	ID          uint                                    `gorm:"primaryKey" json:"id"`
	Key         string                                  `gorm:"column:channel_key;size:64;uniqueIndex" json:"key"`
	DisplayName string                                  `gorm:"column:display_name;size:255" json:"display_name"`
	Active      bool                                    `gorm:"column:active" json:"active"`
	Settings    datatypes.JSONType[IntegrationSettings] `gorm:"column:settings" json:"settings"`

	WebhookSecret string            `gorm:"column:webhook_secret;size:255" json:"-"`
	Credentials   datatypes.JSONMap `gorm:"column:credentials" json:"-"`

	LastSyncStatus  string         `gorm:"column:last_sync_status;size:16" json:"last_sync_status,omitempty"`
	LastSyncError   string         `gorm:"column:last_sync_error;type:text" json:"last_sync_error,omitempty"`
	LastSyncSummary datatypes.JSON `gorm:"column:last_sync_summary" json:"last_sync_summary,omitempty"`
	LastSyncAt      *time.Time     `gorm:"column:last_sync_at" json:"last_sync_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SigningSecret returns the canonical secret, falling back to a legacy
// credential alias for rows that were not migrated yet.
func (c ChannelIntegration) SigningSecret() string {
	if s := strings.TrimSpace(c.WebhookSecret); s != "" {
		return s
	}
	_, secret := c.LegacySecret()
	return secret
}

// LegacySecret returns the first non-empty legacy alias and its key.
func (c ChannelIntegration) LegacySecret() (string, string) {
	for _, k := range LegacySecretKeys {
		v, ok := c.Credentials[k]
		if !ok || v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return k, strings.TrimSpace(s)
		}
	}
	return "", ""
}
