package pay_server

import (
	"time"

	"github.com/eventtix/psp-server/pkg/config"
	"github.com/eventtix/psp-server/pkg/config/env"
	"github.com/eventtix/psp-server/pkg/config/memory"
	"github.com/eventtix/psp-server/pkg/config/wrapper"
)

const (
	envConfigPrefix = "WEBHOOK_SERVER_"

	HandleTimeoutConfigEnvName = envConfigPrefix + "HANDLE_TIMEOUT"
	defaultHandleTimeout       = 10 * time.Second

	MaxBodyBytesConfigEnvName = envConfigPrefix + "MAX_BODY_BYTES"
	defaultMaxBodyBytes       = 1 << 20
)

type conf struct {
	handleTimeout config.Duration
	maxBodyBytes  config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			handleTimeout: env.NewDurationConfig(HandleTimeoutConfigEnvName, defaultHandleTimeout),
			maxBodyBytes:  env.NewUint64Config(MaxBodyBytesConfigEnvName, defaultMaxBodyBytes),
		}
	}
}

type testOverrides struct {
	handleTimeout time.Duration
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	if overrides.handleTimeout == 0 {
		overrides.handleTimeout = defaultHandleTimeout
	}

	return func() *conf {
		return &conf{
			handleTimeout: wrapper.NewDurationConfig(memory.NewConfig(overrides.handleTimeout), defaultHandleTimeout),
			maxBodyBytes:  wrapper.NewUint64Config(memory.NewConfig(uint64(defaultMaxBodyBytes)), defaultMaxBodyBytes),
		}
	}
}
