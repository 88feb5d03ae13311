package config

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"gorm.io/datatypes"

	"hotel-channel-sync/models"
)

type channelSeed struct {
	Key           string                     `yaml:"key"`
	DisplayName   string                     `yaml:"displayName"`
	Active        *bool                      `yaml:"active"`
	WebhookSecret string                     `yaml:"webhookSecret"`
	Credentials   map[string]any             `yaml:"credentials"`
	Settings      models.IntegrationSettings `yaml:"settings"`
}

type channelsFile struct {
	Channels []channelSeed `yaml:"channels"`
}

// LoadChannelSeeds reads integration definitions from a YAML file.
// ${VAR} references are expanded from the environment so secrets can stay
// out of the file.
func LoadChannelSeeds(path string) ([]models.ChannelIntegration, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return ParseChannelSeeds([]byte(os.ExpandEnv(string(raw))))
}

func ParseChannelSeeds(data []byte) ([]models.ChannelIntegration, error) {
	var file channelsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(err, "parse channels file")
	}

	out := make([]models.ChannelIntegration, 0, len(file.Channels))
	seen := map[string]bool{}
	for i, seed := range file.Channels {
		key := strings.ToLower(strings.TrimSpace(seed.Key))
		if key == "" {
			return nil, errors.Errorf("channels[%d]: key is required", i)
		}
		if seen[key] {
			return nil, errors.Errorf("channels[%d]: duplicate key %q", i, key)
		}
		seen[key] = true

		active := true
		if seed.Active != nil {
			active = *seed.Active
		}
		name := seed.DisplayName
		if name == "" {
			name = key
		}
		out = append(out, models.ChannelIntegration{
			Key:           key,
			DisplayName:   name,
			Active:        active,
			Settings:      datatypes.NewJSONType(seed.Settings),
			WebhookSecret: strings.TrimSpace(seed.WebhookSecret),
			Credentials:   datatypes.JSONMap(seed.Credentials),
		})
	}
	return out, nil
}
