package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TEMUAN_"

// ApplyEnv loads a .env file from the working directory when present and
// overrides cfg with TEMUAN_* variables. Secrets such as object store
// credentials are expected to arrive this way rather than in the YAML file.
func ApplyEnv(cfg *Config) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	if v, ok := lookup("DEBUG"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %sDEBUG: %w", EnvPrefix, err)
		}
		cfg.Debug = b
	}
	if v, ok := lookup("HOST"); ok {
		cfg.Server.Host = v
	}
	if v, ok := lookup("PORT"); ok {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %sPORT: %w", EnvPrefix, err)
		}
		cfg.Server.Port = p
	}
	if v, ok := lookup("DATABASE_PATH"); ok {
		cfg.Storage.DatabasePath = v
	}
	if v, ok := lookup("IMAGE_MODEL_PATH"); ok {
		cfg.Image.ModelPath = v
	}
	if v, ok := lookup("IMAGE_BACKEND"); ok {
		cfg.Image.Backend = v
	}
	if v, ok := lookup("OBJECTS_ENDPOINT"); ok {
		cfg.Objects.Endpoint = v
	}
	if v, ok := lookup("OBJECTS_ACCESS_KEY"); ok {
		cfg.Objects.AccessKey = v
	}
	if v, ok := lookup("OBJECTS_SECRET_KEY"); ok {
		cfg.Objects.SecretKey = v
	}
	if v, ok := lookup("OBJECTS_BUCKET"); ok {
		cfg.Objects.Bucket = v
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
