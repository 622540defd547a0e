package async_poller

import (
	"github.com/eventtix/psp-server/pkg/config"
	"github.com/eventtix/psp-server/pkg/config/env"
	"github.com/eventtix/psp-server/pkg/config/memory"
	"github.com/eventtix/psp-server/pkg/config/wrapper"
)

const (
	envConfigPrefix = "PAYMENT_POLLER_"

	WorkerBatchSizeConfigEnvName = envConfigPrefix + "WORKER_BATCH_SIZE"
	defaultWorkerBatchSize       = 100

	PspCallsPerSecondConfigEnvName = envConfigPrefix + "PSP_CALLS_PER_SECOND"
	defaultPspCallsPerSecond       = 10
)

type conf struct {
	workerBatchSize   config.Uint64
	pspCallsPerSecond config.Uint64
}

// ConfigProvider defines how config values are pulled
type ConfigProvider func() *conf

// WithEnvConfigs returns configuration pulled from environment variables
func WithEnvConfigs() ConfigProvider {
	return func() *conf {
		return &conf{
			workerBatchSize:   env.NewUint64Config(WorkerBatchSizeConfigEnvName, defaultWorkerBatchSize),
			pspCallsPerSecond: env.NewUint64Config(PspCallsPerSecondConfigEnvName, defaultPspCallsPerSecond),
		}
	}
}

type testOverrides struct {
	workerBatchSize uint64
}

func withManualTestOverrides(overrides *testOverrides) ConfigProvider {
	if overrides.workerBatchSize == 0 {
		overrides.workerBatchSize = defaultWorkerBatchSize
	}

	return func() *conf {
		return &conf{
			workerBatchSize:   wrapper.NewUint64Config(memory.NewConfig(overrides.workerBatchSize), defaultWorkerBatchSize),
			pspCallsPerSecond: wrapper.NewUint64Config(memory.NewConfig(uint64(1000)), defaultPspCallsPerSecond),
		}
	}
}
