package main

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/getwalmarket/walmarket/attest"
	"github.com/getwalmarket/walmarket/config"
	"github.com/getwalmarket/walmarket/inference"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/logging"
)

// closers releases resources in reverse order of acquisition.
type closers []func() error

func (c *closers) add(f func() error) {
	if f != nil {
		*c = append(*c, f)
	}
}

func (c closers) Close() {
	for i := len(c) - 1; i >= 0; i-- {
		_ = c[i]()
	}
}

func loadConfig(path string) (config.Config, error) {
	return config.Load(path, ".env")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging)
}

func openSigner(ctx context.Context, cfg config.SignerConfig) (keys.Signer, func() error, error) {
	if cfg.KMSKey != "" {
		s, closeFn, err := keys.DialKMSSigner(ctx, cfg.KMSKey)
		if err != nil {
			return nil, nil, err
		}
		return s, closeFn, nil
	}
	scheme, err := keys.ParseScheme(cfg.Scheme)
	if err != nil {
		return nil, nil, err
	}
	ks, err := keys.CreateKeyStore(cfg.KeyDir)
	if err != nil {
		return nil, nil, err
	}
	s, err := ks.LoadSigner(scheme, cfg.SeedHex, cfg.KeyFile, cfg.KeyName, cfg.Role)
	if err != nil {
		return nil, nil, err
	}
	return s, nil, nil
}

func newProvider(cfg config.InferenceConfig, logger *zap.Logger) (inference.Provider, error) {
	switch cfg.Provider {
	case config.ProviderStatic:
		b, err := os.ReadFile(cfg.StaticFile)
		if err != nil {
			return nil, err
		}
		p, err := inference.NewStaticJSON(cfg.Model, b)
		if err != nil {
			return nil, err
		}
		return p, nil
	case config.ProviderOpenAI:
		p, err := inference.NewOpenAI(inference.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
			Logger:      logger,
		})
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown inference provider %q", cfg.Provider)
	}
}

func newReplay(cfg config.ReplayConfig) (attest.ReplayRegistry, func() error) {
	if cfg.Backend == config.ReplayRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return attest.NewRedisReplay(client, cfg.Prefix), client.Close
	}
	return attest.NewMemoryReplay(), nil
}
