package utils

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeGameID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{in: "3F2504E0-4F89-11D3-9A0C-0305E82C3301", want: "3f2504e0-4f89-11d3-9a0c-0305e82c3301", ok: true},
		{in: "lobby-42", want: "lobby-42", ok: true},
		{in: "", ok: false},
		{in: "../etc/passwd", ok: false},
		{in: "game id", ok: false},
		{in: string(bytes.Repeat([]byte("a"), 65)), ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := NormalizeGameID(tt.in)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.ok, ValidateGameID(tt.in))
		})
	}
}

func TestGzipJSON(t *testing.T) {
	data, err := GzipJSON(map[string]int{"rounds": 7})
	require.NoError(t, err)

	raw, err := GunzipJSON(bytes.NewReader(data))
	require.NoError(t, err)
	assert.JSONEq(t, `{"rounds":7}`, string(raw))

	_, err = GunzipJSON(bytes.NewReader([]byte("plain")))
	assert.Error(t, err)
}

func TestCreateZip(t *testing.T) {
	data, err := CreateZip([]FileEntry{
		{Name: "record.json", Data: []byte(`{"a":1}`)},
		{Name: "events.json", Data: []byte(`[]`)},
	})
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)

	f, err := zr.File[0].Open()
	require.NoError(t, err)
	content, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(content))
}

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{name: "forwarded chain", headers: map[string]string{"X-Forwarded-For": "10.0.0.1, 10.0.0.2"}, want: "10.0.0.1"},
		{name: "real ip", headers: map[string]string{"X-Real-IP": "10.0.0.9"}, want: "10.0.0.9"},
		{name: "remote addr", remote: "192.168.1.5:5555", want: "192.168.1.5"},
		{name: "ipv6 remote addr", remote: "[::1]:8080", want: "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.remote != "" {
				r.RemoteAddr = tt.remote
			}
			for k, v := range tt.headers {
				r.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, GetClientIP(r))
		})
	}
}

func TestErrorResponse(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorResponse(w, http.StatusNotFound, "对局不存在", nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "对局不存在", body["error"])
}

func TestQueryInt(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/?limit=20&offset=x", nil)
	assert.Equal(t, 20, QueryInt(r, "limit", 50))
	assert.Equal(t, 0, QueryInt(r, "offset", 0))
	assert.Equal(t, 5, QueryInt(r, "missing", 5))
}
