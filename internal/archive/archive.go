// Package archive 将完成的对局记录以 gzip JSON 形式归档到文件系统
package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"kb-tracker/internal/recorder"
	"kb-tracker/pkg/utils"

	"github.com/spf13/afero"
)

// ErrNotFound 归档不存在
var ErrNotFound = errors.New("归档不存在")

const fileSuffix = ".json.gz"

// Archive 按月份分目录存放：<dir>/<yyyy-mm>/<gameId>.json.gz
type Archive struct {
	fs  afero.Fs
	dir string
}

// New 创建归档，fs 为空时使用操作系统文件系统
func New(fs afero.Fs, dir string) *Archive {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Archive{fs: fs, dir: dir}
}

// Path 返回对局归档路径
func (a *Archive) Path(gameID string, completedAt time.Time) string {
	return filepath.Join(a.dir, completedAt.UTC().Format("2006-01"), gameID+fileSuffix)
}

// Write 写入对局记录，已存在时覆盖
func (a *Archive) Write(rec *recorder.GameRecord) (string, error) {
	gameID, ok := utils.NormalizeGameID(rec.GameID)
	if !ok {
		return "", fmt.Errorf("非法的对局ID: %q", rec.GameID)
	}
	stored := *rec
	stored.GameID = gameID

	completedAt := stored.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	path := a.Path(gameID, completedAt)

	data, err := utils.GzipJSON(&stored)
	if err != nil {
		return "", err
	}
	if err := a.fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("创建归档目录失败: %w", err)
	}

	// 先写临时文件再改名，避免读到半个文件
	tmp := path + ".tmp"
	if err := afero.WriteFile(a.fs, tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("写入归档失败: %w", err)
	}
	if err := a.fs.Rename(tmp, path); err != nil {
		_ = a.fs.Remove(tmp)
		return "", fmt.Errorf("写入归档失败: %w", err)
	}
	return path, nil
}

// find 在所有月份目录中查找对局归档
func (a *Archive) find(gameID string) (string, error) {
	gameID, ok := utils.NormalizeGameID(gameID)
	if !ok {
		return "", ErrNotFound
	}
	matches, err := afero.Glob(a.fs, filepath.Join(a.dir, "*", gameID+fileSuffix))
	if err != nil {
		return "", fmt.Errorf("查找归档失败: %w", err)
	}
	if len(matches) == 0 {
		return "", ErrNotFound
	}
	// 同名归档只可能来自覆盖写入，取最新月份
	return matches[len(matches)-1], nil
}

// ReadRaw 读取对局归档的 JSON 内容
func (a *Archive) ReadRaw(gameID string) (json.RawMessage, error) {
	path, err := a.find(gameID)
	if err != nil {
		return nil, err
	}
	data, err := afero.ReadFile(a.fs, path)
	if err != nil {
		return nil, fmt.Errorf("读取归档失败: %w", err)
	}
	return utils.GunzipJSON(bytes.NewReader(data))
}

// Read 读取并解析对局记录
func (a *Archive) Read(gameID string) (*recorder.GameRecord, error) {
	raw, err := a.ReadRaw(gameID)
	if err != nil {
		return nil, err
	}
	var rec recorder.GameRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("解析归档失败: %w", err)
	}
	return &rec, nil
}

// Delete 删除对局归档，不存在时不报错
func (a *Archive) Delete(gameID string) error {
	path, err := a.find(gameID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := a.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除归档失败: %w", err)
	}
	return nil
}

// Prune 删除修改时间早于 before 的归档，返回删除数量
func (a *Archive) Prune(before time.Time) (int, error) {
	exists, err := afero.DirExists(a.fs, a.dir)
	if err != nil || !exists {
		return 0, err
	}

	removed := 0
	err = afero.Walk(a.fs, a.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".gz" {
			return nil
		}
		if info.ModTime().Before(before) {
			if err := a.fs.Remove(path); err != nil {
				return fmt.Errorf("删除归档 %s 失败: %w", path, err)
			}
			removed++
		}
		return nil
	})
	if removed > 0 {
		slog.Info("清理过期归档", "count", removed)
	}
	return removed, err
}
