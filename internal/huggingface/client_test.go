package huggingface

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wisestory/internal/imagegen"
)

func TestClient_TextToImage(t *testing.T) {
	ctx := context.Background()

	t.Run("返回图片字节", func(t *testing.T) {
		var gotPath, gotAuth string
		var gotBody inferenceRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotPath = r.URL.Path
			gotAuth = r.Header.Get("Authorization")
			require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write([]byte("png-bytes"))
		}))
		defer srv.Close()

		c := NewClient(srv.URL, "hf-key", time.Second, false)
		img, err := c.TextToImage(ctx, imagegen.Request{
			Model: "stabilityai/stable-diffusion-xl-base-1.0", Prompt: "a fox", Steps: 20, GuidanceScale: 7.5,
		})

		require.NoError(t, err)
		assert.Equal(t, "/models/stabilityai/stable-diffusion-xl-base-1.0", gotPath)
		assert.Equal(t, "Bearer hf-key", gotAuth)
		assert.Equal(t, "a fox", gotBody.Inputs)
		assert.Equal(t, 20, gotBody.Parameters.NumInferenceSteps)
		assert.InDelta(t, 7.5, gotBody.Parameters.GuidanceScale, 1e-9)
		assert.Equal(t, []byte("png-bytes"), img.Data)
		assert.Equal(t, "image/png", img.ContentType)
	})

	t.Run("缺少Content-Type时默认jpeg", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header()["Content-Type"] = nil
			_, _ = w.Write([]byte{0xff, 0xd8})
		}))
		defer srv.Close()

		img, err := NewClient(srv.URL, "k", time.Second, false).TextToImage(ctx, imagegen.Request{Model: "m", Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "image/jpeg", img.ContentType)
	})

	t.Run("上游错误", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "model overloaded", http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "k", time.Second, false).TextToImage(ctx, imagegen.Request{Model: "m", Prompt: "p"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "http 503")
	})

	t.Run("模型加载中返回JSON", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"error":"loading"}`))
		}))
		defer srv.Close()

		_, err := NewClient(srv.URL, "k", time.Second, false).TextToImage(ctx, imagegen.Request{Model: "m", Prompt: "p"})
		require.Error(t, err)
	})

	t.Run("mock模式", func(t *testing.T) {
		img, err := NewClient("", "", 0, true).TextToImage(ctx, imagegen.Request{Prompt: "p"})
		require.NoError(t, err)
		assert.Equal(t, "image/png", img.ContentType)
		assert.NotEmpty(t, img.Data)
	})
}
