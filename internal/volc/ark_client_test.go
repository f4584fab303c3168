package volc

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisestory/internal/imagegen"
)

func TestArkClient_TextToImage(t *testing.T) {
	ctx := context.Background()

	t.Run("解码b64_json", func(t *testing.T) {
		var body map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/v3/images/generations", r.URL.Path)
			assert.Equal(t, "Bearer ark-key", r.Header.Get("Authorization"))
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			_ = json.NewEncoder(w).Encode(map[string]any{
				"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString([]byte("img")), "format": "jpeg"}},
			})
		}))
		defer srv.Close()

		c := NewArkClient("ark-key", time.Second, false)
		c.BaseURL = srv.URL
		img, err := c.TextToImage(ctx, imagegen.Request{Prompt: "a whale", GuidanceScale: 7.5})

		require.NoError(t, err)
		assert.Equal(t, []byte("img"), img.Data)
		assert.Equal(t, "image/jpeg", img.ContentType)
		assert.Equal(t, "doubao-seedream-4.0", body["model"])
		assert.Equal(t, "b64_json", body["response_format"])
		assert.Equal(t, "1024x1024", body["size"])
	})

	t.Run("返回URL时下载图片", func(t *testing.T) {
		mux := http.NewServeMux()
		srv := httptest.NewServer(mux)
		defer srv.Close()
		mux.HandleFunc("/api/v3/images/generations", func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": srv.URL + "/files/1.png"}}})
		})
		mux.HandleFunc("/files/1.png", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png"))
		})

		c := NewArkClient("k", time.Second, false)
		c.BaseURL = srv.URL
		img, err := c.TextToImage(ctx, imagegen.Request{Model: "seedream", Prompt: "p"})

		require.NoError(t, err)
		assert.Equal(t, []byte("png"), img.Data)
		assert.Equal(t, "image/png", img.ContentType)
	})

	t.Run("空结果", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"data":[]}`))
		}))
		defer srv.Close()

		c := NewArkClient("k", time.Second, false)
		c.BaseURL = srv.URL
		_, err := c.TextToImage(ctx, imagegen.Request{Prompt: "p"})
		require.EqualError(t, err, "no images returned")
	})

	t.Run("上游错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte("rate limited"))
		}))
		defer srv.Close()

		c := NewArkClient("k", time.Second, false)
		c.BaseURL = srv.URL
		_, err := c.TextToImage(ctx, imagegen.Request{Prompt: "p"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http 429")
	})

	t.Run("mock模式", func(t *testing.T) {
		img, err := NewArkClient("", 0, true).TextToImage(ctx, imagegen.Request{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.ContentType)
	})
}
