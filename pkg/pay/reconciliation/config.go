package reconciliation

import (
	"time"

	"github.com/eventtix/psp-server/pkg/config"
	"github.com/eventtix/psp-server/pkg/config/env"
	"github.com/eventtix/psp-server/pkg/config/memory"
	"github.com/eventtix/psp-server/pkg/config/wrapper"
)

const (
	envConfigPrefix = "RECONCILIATION_"

	DedupWindowConfigEnvName = envConfigPrefix + "DEDUP_WINDOW"
	defaultDedupWindow       = 10 * time.Minute

	PollRetryCeilingConfigEnvName = envConfigPrefix + "POLL_RETRY_CEILING"
	defaultPollRetryCeiling       = 10

	PspCallTimeoutConfigEnvName = envConfigPrefix + "PSP_CALL_TIMEOUT"
	defaultPspCallTimeout       = 20 * time.Second

	StripedLockParallelizationConfigEnvName = envConfigPrefix + "STRIPED_LOCK_PARALLELIZATION"
	defaultStripedLockParallelization       = 1024
)

type conf struct {
	dedupWindow                config.Duration
	pollRetryCeiling           config.Uint64
	pspCallTimeout             config.Duration
	stripedLockParallelization config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			dedupWindow:                env.NewDurationConfig(DedupWindowConfigEnvName, defaultDedupWindow),
			pollRetryCeiling:           env.NewUint64Config(PollRetryCeilingConfigEnvName, defaultPollRetryCeiling),
			pspCallTimeout:             env.NewDurationConfig(PspCallTimeoutConfigEnvName, defaultPspCallTimeout),
			stripedLockParallelization: env.NewUint64Config(StripedLockParallelizationConfigEnvName, defaultStripedLockParallelization),
		}
	}
}

type testOverrides struct {
	dedupWindow      time.Duration
	pollRetryCeiling uint64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	if overrides.dedupWindow == 0 {
		overrides.dedupWindow = defaultDedupWindow
	}
	if overrides.pollRetryCeiling == 0 {
		overrides.pollRetryCeiling = defaultPollRetryCeiling
	}

	return func() *conf {
		return &conf{
			dedupWindow:                wrapper.NewDurationConfig(memory.NewConfig(overrides.dedupWindow), defaultDedupWindow),
			pollRetryCeiling:           wrapper.NewUint64Config(memory.NewConfig(overrides.pollRetryCeiling), defaultPollRetryCeiling),
			pspCallTimeout:             wrapper.NewDurationConfig(memory.NewConfig(defaultPspCallTimeout), defaultPspCallTimeout),
			stripedLockParallelization: wrapper.NewUint64Config(memory.NewConfig(uint64(64)), defaultStripedLockParallelization),
		}
	}
}
