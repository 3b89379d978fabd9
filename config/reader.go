package config

import (
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/a8m/envsubst"
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/rgbdview/logging"
	"go.viam.com/rgbdview/utils"
)

// Read reads a config from the given file. ${VAR} references in the file are replaced with
// environment variables before parsing.
func Read(ctx context.Context, filePath string, logger logging.Logger) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(ctx, filePath, bytes.NewReader(buf), logger)
}

// FromReader reads a config from r, where originalPath names the file it came from, if any.
// Fields missing from the input keep their defaults and unknown fields are an error.
func FromReader(ctx context.Context, originalPath string, r io.Reader, logger logging.Logger) (*Config, error) {
	var attributes map[string]interface{}
	if err := json.NewDecoder(r).Decode(&attributes); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}

	cfg := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:     "json",
		Result:      cfg,
		ErrorUnused: true,
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(attributes); err != nil {
		return nil, errors.Wrapf(err, "failed to process Config %q", originalPath)
	}
	cfg.ConfigFilePath = originalPath
	cfg.ReadTimeout = utils.GetReadTimeout(cfg.ReadTimeout, logger)

	if err := cfg.Validate(originalPath); err != nil {
		return nil, err
	}
	logger.CDebugw(ctx, "config read", "path", originalPath, "driver", cfg.Driver, "device", cfg.DeviceIdentifier(),
		"mode", cfg.VideoMode().String())
	return cfg, nil
}
