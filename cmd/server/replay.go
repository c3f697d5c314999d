package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"kb-tracker/internal/archive"
	"kb-tracker/internal/handler"
	"kb-tracker/internal/recorder"
	"kb-tracker/internal/registry"
	"kb-tracker/internal/sink"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

type replayOptions struct {
	player     string
	format     string
	archiveDir string
}

func newReplayCmd(root *rootOptions) *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <file>...",
		Short: "离线回放帧日志，每个完成的对局输出一行 JSON",
		Long: `逐行读取抓取到的原始帧（"-" 表示标准输入），走与实时采集相同的流程。
空行和以 # 开头的行会被跳过。完成的对局记录以 JSON Lines 写到标准输出，不写数据库。`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd, root, opts, args)
		},
	}
	cmd.Flags().StringVar(&opts.player, "player", "", "本地玩家提示：玩家键、显示名或内部 ID")
	cmd.Flags().StringVar(&opts.format, "format", "", "覆盖记录中的赛制，默认使用 FORMAT_OVERRIDE")
	cmd.Flags().StringVar(&opts.archiveDir, "archive-dir", "", "同时写入归档目录")
	return cmd
}

// jsonLines 将记录逐行写出，满足 sink.Store
type jsonLines struct {
	mu  sync.Mutex
	enc *json.Encoder
}

func (j *jsonLines) SaveGame(_ context.Context, rec *recorder.GameRecord) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.enc.Encode(rec)
}

func runReplay(cmd *cobra.Command, root *rootOptions, opts *replayOptions, files []string) error {
	cfg := loadConfig(root)
	// 标准输出留给记录
	logger := setupLogger(cmd.ErrOrStderr(), cfg)

	format := cfg.FormatOverride
	if opts.format != "" {
		format = opts.format
	}

	sinkOpts := sink.Options{
		Store:          &jsonLines{enc: json.NewEncoder(cmd.OutOrStdout())},
		FormatOverride: format,
		Logger:         logger.With("component", "sink"),
	}
	if opts.archiveDir != "" {
		sinkOpts.Archive = archive.New(afero.NewOsFs(), opts.archiveDir)
	}
	out := sink.New(sinkOpts)
	defer func() { _ = out.Close() }()

	ctx := cmd.Context()
	completed := 0
	var failed error
	reg := registry.New(true, func(rec recorder.GameRecord) {
		completed++
		if err := out.Deliver(ctx, &rec); err != nil && failed == nil {
			failed = err
		}
	}, recorder.Options{Logger: logger.With("component", "recorder")})
	ingestor := handler.NewIngestor(reg, logger.With("component", "ingest"))

	for _, name := range files {
		if err := replayFile(ctx, ingestor, name, opts.player, cmd.InOrStdin()); err != nil {
			return err
		}
	}

	for _, info := range reg.Active() {
		slog.Warn("对局未结束，没有输出记录", "gameId", info.GameID, "state", info.State, "round", info.Round)
	}
	stats := ingestor.Stats()
	slog.Info("回放完成",
		"frames", stats.Frames,
		"gameStates", stats.GameStates,
		"malformed", stats.Malformed,
		"completed", completed,
	)
	return failed
}

func replayFile(ctx context.Context, in *handler.Ingestor, name, hint string, stdin io.Reader) error {
	var r io.Reader
	if name == "-" {
		r = stdin
	} else {
		f, err := os.Open(name)
		if err != nil {
			return fmt.Errorf("打开帧日志失败: %w", err)
		}
		defer f.Close()
		r = f
	}

	lines, err := in.IngestReader(ctx, r, hint)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	slog.Debug("帧日志已读取", "file", name, "lines", lines)
	return nil
}
