package viper

import (
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	spfviper "github.com/spf13/viper"
)

// Config 封装 spf13/viper 实例，对外提供精简的 YAML/JSON 配置加载接口。
type Config struct {
	v *spfviper.Viper
}

// New 创建一个空的 Config。
// 未调用 LoadFile 时，Unmarshal/UnmarshalKey 只使用默认值与环境变量。
func New() *Config {
	return &Config{
		v: spfviper.New(),
	}
}

func (c *Config) viper() *spfviper.Viper {
	if c.v == nil {
		c.v = spfviper.New()
	}
	return c.v
}

// LoadFile 将 YAML 或 JSON 配置文件加载到 Config 中。
// 文件类型通过扩展名（.yaml/.yml/.json）推断。
func (c *Config) LoadFile(path string) error {
	v := c.viper()
	v.SetConfigFile(path)

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		v.SetConfigType("yaml")
	case ".json":
		v.SetConfigType("json")
	default:
		// 让 viper 自行推断类型，或在读取时返回清晰的错误信息。
	}

	return v.ReadInConfig()
}

// SetDefault 设置 key 的默认值，优先级低于配置文件与环境变量。
func (c *Config) SetDefault(key string, value any) {
	c.viper().SetDefault(key, value)
}

// AutomaticEnv 开启环境变量覆盖。
// 环境变量名为 prefix_KEY，key 中的 "." 与 "-" 替换为 "_"，
// 例如 prefix 为 EVLITE 时 engine.session-capacity 对应 EVLITE_ENGINE_SESSION_CAPACITY。
// 只有设置过默认值或出现在配置文件中的 key 才会参与 Unmarshal。
func (c *Config) AutomaticEnv(prefix string) {
	v := c.viper()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// IsSet 判断 key 是否在任一配置来源中出现。
func (c *Config) IsSet(key string) bool {
	return c.viper().IsSet(key)
}

// Get 返回 key 对应的原始值。
func (c *Config) Get(key string) any {
	return c.viper().Get(key)
}

// Unmarshal 将完整配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
func (c *Config) Unmarshal(dst interface{}) error {
	return c.viper().Unmarshal(dst)
}

// UnmarshalKey 将指定 key 对应的子配置反序列化到 dst。
// dst 应为结构体或 map 的指针。
//
// 与 spf13/viper 的同名方法不同，子配置中的每个字段同样应用环境变量覆盖。
func (c *Config) UnmarshalKey(key string, dst interface{}) error {
	var sub any = c.viper().AllSettings()
	for _, part := range strings.Split(strings.ToLower(key), ".") {
		m, ok := sub.(map[string]any)
		if !ok {
			return nil
		}
		if sub, ok = m[part]; !ok {
			return nil
		}
	}
	return decode(sub, dst)
}

func decode(input, dst any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Metadata:         nil,
		Result:           dst,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(input)
}
