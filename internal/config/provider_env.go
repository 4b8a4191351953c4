package config

import (
	"context"
	"os"
)

// EnvVarProvider resolves "SSM paths" as plain environment variable names.
// It lets docker-compose setups exercise the *_SSM_PARAM indirection without
// AWS.
type EnvVarProvider struct {
	lookup func(string) (string, bool)
}

func NewEnvVarProvider() *EnvVarProvider {
	return &EnvVarProvider{lookup: os.LookupEnv}
}

func (p *EnvVarProvider) GetParametersBatch(_ context.Context, keys []string) (map[string]string, error) {
	result := make(map[string]string, len(keys))
	for _, key := range keys {
		if val, ok := p.lookup(key); ok {
			result[key] = val
		}
	}
	return result, nil
}
