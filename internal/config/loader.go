package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/any-hub/p2-hub/internal/hubmodule"
)

const (
	defaultDatabaseName      = "p2-hub.db"
	defaultTempDirName       = ".tmp"
	defaultCompositeMaxDepth = 8
)

// envPrefix 作用于全局键，例如 P2_HUB_LISTENPORT、P2_HUB_STORAGEPATH。
const envPrefix = "P2_HUB"

// globalDefaults 同时作为 viper 默认值与环境变量覆盖的键集合，
// viper 只会为已知键读取环境变量。
var globalDefaults = map[string]any{
	"ListenPort":        5000,
	"LogLevel":          "info",
	"LogFilePath":       "",
	"LogMaxSize":        100,
	"LogMaxBackups":     10,
	"LogCompress":       true,
	"StoragePath":       "./storage",
	"DatabasePath":      "",
	"TempPath":          "",
	"CacheTTL":          "168h",
	"MetadataTTL":       "1h",
	"MaxRetries":        3,
	"InitialBackoff":    "1s",
	"UpstreamTimeout":   "30s",
	"CompositeMaxDepth": defaultCompositeMaxDepth,
}

// removedHubKeys 列出已不再支持的 Hub 级字段及提示。
var removedHubKeys = map[string]string{
	"Port": "字段已弃用，请移除并使用全局 ListenPort",
}

// Load 读取 TOML 配置，叠加默认值与 P2_HUB_* 环境变量后解码、校验，
// 并推导数据库与临时目录路径。path 为空时读取 ./config.toml。
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.toml"
	}

	v := newViper(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}
	if err := rejectRemovedHubKeys(v.Get("Hub")); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	applyGlobalDefaults(&cfg.Global)
	for i := range cfg.Hubs {
		applyHubDefaults(&cfg.Hubs[i])
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := resolveStorageLayout(&cfg.Global); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func newViper(path string) *viper.Viper {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	for key, value := range globalDefaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	return v
}

// resolveStorageLayout 将 StoragePath 转为绝对路径，数据库与临时目录默认放在其下。
func resolveStorageLayout(g *GlobalConfig) error {
	abs, err := filepath.Abs(g.StoragePath)
	if err != nil {
		return fmt.Errorf("无法解析缓存目录: %w", err)
	}
	g.StoragePath = abs
	if g.DatabasePath == "" {
		g.DatabasePath = filepath.Join(abs, defaultDatabaseName)
	}
	if g.TempPath == "" {
		g.TempPath = filepath.Join(abs, defaultTempDirName)
	}
	return nil
}

func applyGlobalDefaults(g *GlobalConfig) {
	if g.ListenPort == 0 {
		g.ListenPort = globalDefaults["ListenPort"].(int)
	}
	setDurationDefault(&g.CacheTTL, 7*24*time.Hour)
	setDurationDefault(&g.MetadataTTL, time.Hour)
	setDurationDefault(&g.InitialBackoff, time.Second)
	setDurationDefault(&g.UpstreamTimeout, 30*time.Second)
	if g.CompositeMaxDepth == 0 {
		g.CompositeMaxDepth = defaultCompositeMaxDepth
	}
}

func setDurationDefault(d *Duration, fallback time.Duration) {
	if d.DurationValue() == 0 {
		*d = Duration(fallback)
	}
}

// applyHubDefaults 负数 TTL 视为未覆盖，Type 缺省为 p2。
func applyHubDefaults(h *HubConfig) {
	if h.CacheTTL.DurationValue() < 0 {
		h.CacheTTL = 0
	}
	if h.MetadataTTL.DurationValue() < 0 {
		h.MetadataTTL = 0
	}
	if strings.TrimSpace(h.Type) == "" {
		h.Type = hubmodule.DefaultModuleKey()
	}
	if h.ValidationMode == "" {
		h.ValidationMode = string(hubmodule.ValidationModeETag)
	}
}

// durationDecodeHook 让 Duration 字段接受 "30s" 这类字符串或以秒为单位的数字。
func durationDecodeHook() mapstructure.DecodeHookFunc {
	target := reflect.TypeOf(Duration(0))
	return func(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != target {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			var d Duration
			if err := d.UnmarshalText([]byte(v)); err != nil {
				if seconds, ferr := strconv.ParseFloat(strings.TrimSpace(v), 64); ferr == nil {
					return Duration(seconds * float64(time.Second)), nil
				}
				return nil, fmt.Errorf("无法解析 Duration 字段: %s", v)
			}
			return d, nil
		case int:
			return Duration(time.Duration(v) * time.Second), nil
		case int64:
			return Duration(time.Duration(v) * time.Second), nil
		case float64:
			return Duration(v * float64(time.Second)), nil
		case time.Duration:
			return Duration(v), nil
		case Duration:
			return v, nil
		}
		return nil, fmt.Errorf("不支持的 Duration 类型: %T", data)
	}
}

// rejectRemovedHubKeys 检查原始 [[Hub]] 表。viper 会把键转成小写，这里按不区分大小写比较。
func rejectRemovedHubKeys(raw interface{}) error {
	hubs, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	for idx, entry := range hubs {
		table, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		name := fmt.Sprintf("#%d", idx)
		for key, value := range table {
			if strings.EqualFold(key, "Name") {
				if s, ok := value.(string); ok && s != "" {
					name = s
				}
			}
		}
		for key := range table {
			for removed, reason := range removedHubKeys {
				if strings.EqualFold(key, removed) {
					return newFieldError(hubField(name, removed), reason)
				}
			}
		}
	}
	return nil
}
