package main

import (
	"io"
	"log/slog"

	"kb-tracker/internal/config"

	"github.com/spf13/cobra"
)

type rootOptions struct {
	envFile string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "kb-tracker",
		Short: "对局记录服务",
		Long: `kb-tracker 接收浏览器扩展转发的实时对局帧，记录完整对局并提供查询接口。

不带子命令运行时等同于 serve。`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "启动前加载的 .env 文件")

	root.AddCommand(
		newServeCmd(opts),
		newReplayCmd(opts),
		newVersionCmd(),
	)
	return root
}

// loadConfig 加载 .env 与环境变量
func loadConfig(opts *rootOptions) *config.Config {
	if opts.envFile != "" {
		if err := config.LoadEnvFile(opts.envFile); err != nil {
			slog.Debug("未找到 .env 文件，使用环境变量", "file", opts.envFile)
		}
	}
	return config.Load()
}

// setupLogger 按配置初始化默认日志
func setupLogger(w io.Writer, cfg *config.Config) *slog.Logger {
	handlerOpts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(w, handlerOpts)
	} else {
		handler = slog.NewTextHandler(w, handlerOpts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
