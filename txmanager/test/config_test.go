package txmanager_test

import (
	"testing"
	"time"

	"github.com/bionicotaku/lingo-uow/txmanager"
	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestConfig_BuildPresets_DefaultValues(t *testing.T) {
	// 零值配置应落到默认值
	presets := txmanager.Config{}.BuildPresets()

	assert.Equal(t, txmanager.ReadCommitted, presets.Default.Isolation, "默认隔离级别应为 ReadCommitted")
	assert.Equal(t, txmanager.ReadWrite, presets.Default.AccessMode, "默认访问模式应为 ReadWrite")
	assert.Equal(t, txmanager.PropagationRequired, presets.Default.Propagation, "默认传播方式应为 Required")
	assert.Zero(t, presets.Default.Timeout, "默认不设置事务超时")
	assert.Zero(t, presets.Default.LockTimeout)
}

func TestConfig_BuildPresets_CustomIsolation(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected txmanager.IsoLevel
	}{
		{"serializable", "serializable", txmanager.Serializable},
		{"serial", "serial", txmanager.Serializable},
		{"repeatable_read", "repeatable_read", txmanager.RepeatableRead},
		{"read_committed", "read_committed", txmanager.ReadCommitted},
		{"empty string", "", txmanager.ReadCommitted},
		{"unknown", "invalid", txmanager.ReadCommitted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			presets := txmanager.Config{DefaultIsolation: tt.input}.BuildPresets()
			assert.Equal(t, tt.expected, presets.Default.Isolation)
		})
	}
}

func TestConfig_BuildPresets_Timeout(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected time.Duration
	}{
		{"zero timeout", 0, 0},
		{"negative timeout clamps to zero", -1, 0},
		{"custom timeout", 10 * time.Second, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			presets := txmanager.Config{DefaultTimeout: tt.input}.BuildPresets()
			assert.Equal(t, tt.expected, presets.Default.Timeout)
		})
	}
}

func TestConfig_BuildPresets_LockTimeout(t *testing.T) {
	tests := []struct {
		name     string
		input    time.Duration
		expected time.Duration
	}{
		{"negative lock timeout", -1 * time.Second, 0},
		{"zero lock timeout", 0, 0},
		{"positive lock timeout", 5 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			presets := txmanager.Config{LockTimeout: tt.input}.BuildPresets()
			assert.Equal(t, tt.expected, presets.Default.LockTimeout)
		})
	}
}

func TestConfig_BuildPresets_ReadOnly(t *testing.T) {
	cfg := txmanager.Config{
		DefaultIsolation: "read_committed",
		DefaultTimeout:   5 * time.Second,
		LockTimeout:      1 * time.Second,
		Propagation:      "nested",
	}

	presets := cfg.BuildPresets()

	assert.Equal(t, txmanager.ReadOnly, presets.ReadOnly.AccessMode, "ReadOnly preset 访问模式应为 ReadOnly")
	assert.True(t, presets.ReadOnly.ReadOnly())
	assert.Equal(t, 5*time.Second, presets.ReadOnly.Timeout, "ReadOnly preset 应继承默认超时")
	assert.Equal(t, 1*time.Second, presets.ReadOnly.LockTimeout, "ReadOnly preset 应继承 LockTimeout")
	assert.Equal(t, txmanager.PropagationNested, presets.ReadOnly.Propagation, "ReadOnly preset 应继承传播方式")
}

func TestConfig_BuildPresets_Serializable(t *testing.T) {
	cfg := txmanager.Config{
		DefaultIsolation: "read_committed",
		DefaultTimeout:   5 * time.Second,
	}

	presets := cfg.BuildPresets()

	assert.Equal(t, txmanager.Serializable, presets.Serializable.Isolation, "Serializable preset 隔离级别应为 Serializable")
	assert.Equal(t, txmanager.ReadWrite, presets.Serializable.AccessMode, "Serializable preset 访问模式应为 ReadWrite")
	assert.Equal(t, 5*time.Second, presets.Serializable.Timeout, "Serializable preset 应继承默认超时")
}

// TestConfig_YAMLDecoding 验证配置可直接从 YAML 解码
func TestConfig_YAMLDecoding(t *testing.T) {
	raw := `
defaultIsolation: serializable
defaultTimeout: 2s
lockTimeout: 500ms
propagation: requires_new
metricsEnabled: false
`
	var cfg txmanager.Config
	assert.NoError(t, yaml.Unmarshal([]byte(raw), &cfg))

	presets := cfg.BuildPresets()
	assert.Equal(t, txmanager.Serializable, presets.Default.Isolation)
	assert.Equal(t, 2*time.Second, presets.Default.Timeout)
	assert.Equal(t, 500*time.Millisecond, presets.Default.LockTimeout)
	assert.Equal(t, txmanager.PropagationRequiresNew, presets.Default.Propagation)
	if assert.NotNil(t, cfg.MetricsEnabled) {
		assert.False(t, *cfg.MetricsEnabled)
	}
}
