package config

import (
	"context"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"quotehub.com/pkg/logger"
)

// LoadAndWatch 读取 config/{service}.yaml 到 out，并监听文件变更。
// onChange 在每次热更新成功后回调，可为 nil。
//
// 环境变量覆盖：QUOTE_GATEWAY_SERVER_ADDR 覆盖 server.addr
func LoadAndWatch(service string, out interface{}, onChange func()) (*viper.Viper, error) {
	v, err := Load(service, out)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		logger.Info(ctx, "config file changed", zap.String("service", service), zap.String("file", e.Name))

		if err := v.Unmarshal(out); err != nil {
			logger.Error(ctx, "reload config error", zap.String("service", service), zap.Error(err))
			return
		}
		if onChange != nil {
			onChange()
		}
		logger.Info(ctx, "config reloaded OK", zap.String("service", service))
	})

	return v, nil
}

// Load 只读取不监听，测试和一次性命令用
func Load(service string, out interface{}, paths ...string) (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName(service)
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}
	v.AddConfigPath("./config")
	v.AddConfigPath(".") // 兜底

	v.SetEnvPrefix(envPrefix(service))
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(out); err != nil {
		return nil, err
	}

	logger.Info(context.Background(), "config loaded", zap.String("service", service), zap.String("file", v.ConfigFileUsed()))
	return v, nil
}

// quote-gateway -> QUOTE_GATEWAY
func envPrefix(service string) string {
	return strings.ToUpper(strings.ReplaceAll(service, "-", "_"))
}
