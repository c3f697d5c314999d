package utils

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"regexp"

	"github.com/google/uuid"
)

// GameIDRegex 非 UUID 形式的对局ID
var GameIDRegex = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// MaxBodySize 最大请求体大小 (1MB)
const MaxBodySize = 1 << 20

// NormalizeGameID 校验对局ID，UUID 统一转为小写标准格式
func NormalizeGameID(gameID string) (string, bool) {
	if u, err := uuid.Parse(gameID); err == nil {
		return u.String(), true
	}
	if GameIDRegex.MatchString(gameID) {
		return gameID, true
	}
	return "", false
}

// ValidateGameID 验证对局ID格式
func ValidateGameID(gameID string) bool {
	_, ok := NormalizeGameID(gameID)
	return ok
}

// GzipJSON 序列化并 Gzip 压缩
func GzipJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("JSON序列化失败: %w", err)
	}

	var buf bytes.Buffer
	writer := gzip.NewWriter(&buf)
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return nil, fmt.Errorf("gzip压缩失败: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("gzip关闭失败: %w", err)
	}
	return buf.Bytes(), nil
}

// GunzipJSON 解压 Gzip 数据并校验 JSON 格式
func GunzipJSON(r io.Reader) (json.RawMessage, error) {
	reader, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("gzip解压初始化失败: %w", err)
	}
	defer func(reader *gzip.Reader) { _ = reader.Close() }(reader)

	decompressed, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("gzip解压失败: %w", err)
	}

	if !json.Valid(decompressed) {
		return nil, fmt.Errorf("无效的JSON格式")
	}
	return decompressed, nil
}
