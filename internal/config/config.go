package config

import (
	"github.com/spf13/viper"
	"github.com/wal-g/tracelog"
)

const (
	BufferSizeSetting    = "WALB_BUFFER_SIZE"
	MaxIoSizeSetting     = "WALB_MAX_IO_SIZE"
	MergeBufferLbSetting = "WALB_MERGE_BUFFER_LB"
	MaxIoBlocksSetting   = "WALB_MAX_IO_BLOCKS"
	LogLevelSetting      = "WALB_LOG_LEVEL"
)

var defaultConfigValues = map[string]interface{}{
	BufferSizeSetting:    4 << 20,
	MaxIoSizeSetting:     1 << 20,
	MergeBufferLbSetting: 1024,
	MaxIoBlocksSetting:   0,
	LogLevelSetting:      tracelog.NormalLogLevel,
}

// InitConfig wires the WALB_* environment variables into viper with
// their defaults. Called once from the command entry point.
func InitConfig() {
	config := viper.GetViper()
	config.AutomaticEnv()
	for setting, value := range defaultConfigValues {
		config.SetDefault(setting, value)
	}
}

// ConfigureLogging applies the configured log level.
func ConfigureLogging() error {
	if viper.IsSet(LogLevelSetting) {
		return tracelog.UpdateLogLevel(viper.GetString(LogLevelSetting))
	}
	return nil
}

// GetSetting extracts a setting by key if set.
func GetSetting(key string) (value string, ok bool) {
	if viper.IsSet(key) {
		return viper.GetString(key), true
	}
	return "", false
}

// BufferSize returns the in-flight write budget in bytes.
func BufferSize() int { return viper.GetInt(BufferSizeSetting) }

// MaxIoSize returns the merged write cap in bytes.
func MaxIoSize() int { return viper.GetInt(MaxIoSizeSetting) }

// MergeBufferLb returns the initial merge window in logical blocks.
func MergeBufferLb() uint64 { return viper.GetUint64(MergeBufferLbSetting) }

// MaxIoBlocks returns the output diff record size limit in logical
// blocks. 0 means no limit.
func MaxIoBlocks() uint16 { return uint16(viper.GetUint32(MaxIoBlocksSetting)) }
