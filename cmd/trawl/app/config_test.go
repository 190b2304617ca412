package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/trawlhq/trawl/pkg/blobstore"
)

func TestConfig_CheckConfig(t *testing.T) {
	tt := []struct {
		name   string
		config *Config
		expect []ConfigWarning
	}{
		{
			name: "default config warns about the local blob store and the missing notifier",
			config: func() *Config {
				return NewDefaultConfig()
			}(),
			expect: []ConfigWarning{warnBlobstoreLocal, warnNotifierDisabled},
		},
		{
			name: "fully provisioned config has no warnings",
			config: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Blobstore.Backend = blobstore.S3
				cfg.Notifier.Address = "kafka:9092"
				return cfg
			}(),
			expect: nil,
		},
		{
			name: "short record retention",
			config: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Blobstore.Backend = blobstore.S3
				cfg.Notifier.Address = "kafka:9092"
				cfg.Queue.RecordTTL = time.Minute
				return cfg
			}(),
			expect: []ConfigWarning{warnRecordTTLBelowWaitBudget},
		},
		{
			name: "mirror url without a sample rate",
			config: func() *Config {
				cfg := NewDefaultConfig()
				cfg.Blobstore.Backend = blobstore.S3
				cfg.Notifier.Address = "kafka:9092"
				cfg.Admission.Mirror.URL = "http://shadow:8080/jobs"
				cfg.Admission.Mirror.SampleRPS = 0
				return cfg
			}(),
			expect: []ConfigWarning{warnMirrorWithoutSampling},
		},
	}

	for _, tc := range tt {
		t.Run(tc.name, func(t *testing.T) {
			warnings := tc.config.CheckConfig()
			assert.Equal(t, tc.expect, warnings)
		})
	}
}

func TestConfig_Defaults(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, 3002, cfg.HTTPListenPort)
	assert.True(t, cfg.WorkerEnabled)
	assert.Equal(t, 60*time.Second, cfg.Admission.ActiveTTL)
	assert.Equal(t, 500*time.Millisecond, cfg.Waiter.PollInterval)
	assert.Equal(t, 2, cfg.Overrides.Concurrency.Crawl)
}
