// Package config loads the oracle's runtime configuration from a YAML file,
// optional .env files and WALMARKET_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/getwalmarket/walmarket/disclosure"
	"github.com/getwalmarket/walmarket/keys"
	"github.com/getwalmarket/walmarket/logging"
	"github.com/getwalmarket/walmarket/storage/blobconfig"
)

const (
	ProviderOpenAI = "openai"
	ProviderStatic = "static"

	ReplayMemory = "memory"
	ReplayRedis  = "redis"
)

type Config struct {
	Logging    logging.Config    `yaml:"logging"`
	Enclave    EnclaveConfig     `yaml:"enclave"`
	Signer     SignerConfig      `yaml:"signer"`
	Inference  InferenceConfig   `yaml:"inference"`
	Storage    blobconfig.Config `yaml:"storage"`
	Replay     ReplayConfig      `yaml:"replay"`
	Disclosure DisclosureConfig  `yaml:"disclosure"`
	// VerifyUpload reads each evidence bundle back after storing it.
	VerifyUpload bool `yaml:"verify_upload"`
}

type EnclaveConfig struct {
	ID        string `yaml:"id"`
	MREnclave string `yaml:"mrenclave"`
	// Hardware marks statements as hardware attested. Only set inside a real TEE.
	Hardware bool `yaml:"hardware"`
}

// SignerConfig selects the enclave signing key. Exactly one source applies:
// KMSKey, SeedHex, KeyFile, or a named key in the key store.
type SignerConfig struct {
	Scheme  string `yaml:"scheme"`
	SeedHex string `yaml:"seed_hex"`
	KeyFile string `yaml:"key_file"`
	KeyName string `yaml:"key_name"`
	Role    string `yaml:"role"`
	KeyDir  string `yaml:"key_dir"`
	// KMSKey is a Cloud KMS CryptoKeyVersion resource name.
	KMSKey string `yaml:"kms_key"`
}

type InferenceConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	// StaticFile holds the JSON answer served by the static provider.
	StaticFile string `yaml:"static_file"`
}

type ReplayConfig struct {
	Backend       string        `yaml:"backend"`
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	Prefix        string        `yaml:"prefix"`
	MaxSkew       time.Duration `yaml:"max_skew"`
}

type DisclosureConfig struct {
	Enabled bool              `yaml:"enabled"`
	Policy  disclosure.Policy `yaml:"policy"`
}

// Default returns a configuration that runs fully offline: in-memory storage,
// in-memory replay protection and the OpenAI provider (which still needs a key).
func Default() Config {
	return Config{
		Logging: logging.Config{Service: "walmarket-oracle"},
		Signer:  SignerConfig{Scheme: string(keys.SchemeEd25519), Role: "oracle"},
		Inference: InferenceConfig{
			Provider: ProviderOpenAI,
		},
		Storage: blobconfig.Config{
			Backends: []blobconfig.BackendConfig{{Type: blobconfig.TypeMemory}},
		},
		Replay: ReplayConfig{Backend: ReplayMemory},
	}
}

// Load is Read followed by Validate.
func Load(path string, envFiles ...string) (Config, error) {
	cfg, err := Read(path, envFiles...)
	if err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// Read reads path (optional) over Default, then applies variables from
// envFiles and the process environment. Process variables win over .env
// files, matching godotenv.Load. Missing .env files are ignored.
func Read(path string, envFiles ...string) (Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	fileEnv := map[string]string{}
	for _, f := range envFiles {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		m, err := godotenv.Read(f)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", f, err)
		}
		for k, v := range m {
			fileEnv[k] = v
		}
	}
	lookup := func(key string) (string, bool) {
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := fileEnv[key]
		return v, ok
	}
	return cfg, cfg.ApplyEnv(lookup)
}

// ApplyEnv overlays WALMARKET_* variables. OPENAI_API_KEY is honoured when
// WALMARKET_OPENAI_API_KEY is unset.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	var firstErr error
	boolean := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = b
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("config: %s: %w", key, err)
			}
			*dst = d
		}
	}

	str("WALMARKET_LOG_LEVEL", &c.Logging.Level)
	boolean("WALMARKET_DEVELOPMENT", &c.Logging.Development)
	boolean("WALMARKET_ENCLAVE_MODE", &c.Logging.Enclave)

	str("WALMARKET_ENCLAVE_ID", &c.Enclave.ID)
	str("WALMARKET_MRENCLAVE", &c.Enclave.MREnclave)
	boolean("WALMARKET_HARDWARE_ATTESTATION", &c.Enclave.Hardware)

	str("WALMARKET_SIGNER_SCHEME", &c.Signer.Scheme)
	str("WALMARKET_SIGNER_SEED", &c.Signer.SeedHex)
	str("WALMARKET_SIGNER_KEY_FILE", &c.Signer.KeyFile)
	str("WALMARKET_SIGNER_KEY_NAME", &c.Signer.KeyName)
	str("WALMARKET_SIGNER_ROLE", &c.Signer.Role)
	str("WALMARKET_KEY_DIR", &c.Signer.KeyDir)
	str("WALMARKET_KMS_KEY", &c.Signer.KMSKey)

	str("WALMARKET_INFERENCE_PROVIDER", &c.Inference.Provider)
	if _, ok := lookup("WALMARKET_OPENAI_API_KEY"); ok {
		str("WALMARKET_OPENAI_API_KEY", &c.Inference.APIKey)
	} else {
		str("OPENAI_API_KEY", &c.Inference.APIKey)
	}
	str("WALMARKET_OPENAI_BASE_URL", &c.Inference.BaseURL)
	str("WALMARKET_MODEL", &c.Inference.Model)
	str("WALMARKET_STATIC_ANSWER", &c.Inference.StaticFile)
	duration("WALMARKET_INFERENCE_TIMEOUT", &c.Inference.Timeout)

	str("WALMARKET_REPLAY_BACKEND", &c.Replay.Backend)
	str("WALMARKET_REDIS_ADDR", &c.Replay.RedisAddr)
	str("WALMARKET_REDIS_PASSWORD", &c.Replay.RedisPassword)
	duration("WALMARKET_MAX_SKEW", &c.Replay.MaxSkew)

	boolean("WALMARKET_VERIFY_UPLOAD", &c.VerifyUpload)

	var publisher, aggregator string
	str("WALMARKET_WALRUS_PUBLISHER", &publisher)
	str("WALMARKET_WALRUS_AGGREGATOR", &aggregator)
	if publisher != "" || aggregator != "" {
		for i := range c.Storage.Backends {
			if c.Storage.Backends[i].Type != blobconfig.TypeWalrus {
				continue
			}
			if publisher != "" {
				c.Storage.Backends[i].Walrus.Publisher = publisher
			}
			if aggregator != "" {
				c.Storage.Backends[i].Walrus.Aggregator = aggregator
			}
		}
	}
	return firstErr
}

func (c Config) Validate() error {
	if c.Enclave.ID == "" {
		return errors.New("config: enclave.id is required")
	}
	if c.Enclave.MREnclave == "" {
		return errors.New("config: enclave.mrenclave is required")
	}
	if c.Signer.KMSKey == "" {
		if _, err := keys.ParseScheme(c.Signer.Scheme); err != nil {
			return fmt.Errorf("config: signer.scheme: %w", err)
		}
	} else if c.Signer.Scheme != "" && c.Signer.Scheme != string(keys.SchemeECDSAP256) {
		return fmt.Errorf("config: kms signer requires scheme %q", keys.SchemeECDSAP256)
	}

	switch c.Inference.Provider {
	case ProviderOpenAI:
		if c.Inference.APIKey == "" {
			return errors.New("config: inference.api_key (or OPENAI_API_KEY) is required for the openai provider")
		}
	case ProviderStatic:
		if c.Inference.StaticFile == "" {
			return errors.New("config: inference.static_file is required for the static provider")
		}
	default:
		return fmt.Errorf("config: unknown inference provider %q", c.Inference.Provider)
	}

	switch c.Replay.Backend {
	case "", ReplayMemory:
	case ReplayRedis:
		if c.Replay.RedisAddr == "" {
			return errors.New("config: replay.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("config: unknown replay backend %q", c.Replay.Backend)
	}
	if c.Replay.MaxSkew < 0 {
		return errors.New("config: replay.max_skew must not be negative")
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("config: storage: %w", err)
	}
	if c.Disclosure.Enabled {
		if err := c.Disclosure.Policy.Validate(); err != nil {
			return fmt.Errorf("config: disclosure: %w", err)
		}
	}
	return nil
}
