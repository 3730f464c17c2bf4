package config

// Validator 可自校验的配置段
type Validator interface {
	Validate() error
}

// Section 以 defaults 为底读取 key 下的配置段
// 配置中缺失的字段保持默认值；实现 Validator 时会在返回前校验
func Section[T any](c *Config, key string, defaults T) (T, error) {
	out := defaults
	if c == nil {
		return out, validate(&out)
	}
	if key == "" {
		if err := c.Unmarshal(&out); err != nil {
			return defaults, err
		}
	} else if c.IsSet(key) {
		if err := c.UnmarshalKey(key, &out); err != nil {
			return defaults, err
		}
	}
	return out, validate(&out)
}

func validate(v any) error {
	if val, ok := v.(Validator); ok {
		return val.Validate()
	}
	return nil
}
