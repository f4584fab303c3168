package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChatModel struct {
	reply string
	err   error
	got   []*schema.Message
}

func (f *fakeChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.got = input
	if f.err != nil {
		return nil, f.err
	}
	return schema.AssistantMessage(f.reply, nil), nil
}

func (f *fakeChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return schema.StreamReaderFromArray([]*schema.Message{schema.AssistantMessage(f.reply, nil)}), nil
}

func TestArkModel_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("返回模型输出", func(t *testing.T) {
		fake := &fakeChatModel{reply: `{"structure":{}}`}
		m, err := NewGraphModel(ctx, fake)
		require.NoError(t, err)

		out, err := m.Generate(ctx, "write a story")
		require.NoError(t, err)
		assert.Equal(t, `{"structure":{}}`, out)
		require.Len(t, fake.got, 2)
		assert.Equal(t, schema.System, fake.got[0].Role)
		assert.Equal(t, "write a story", fake.got[1].Content)
	})

	t.Run("模型错误", func(t *testing.T) {
		m, err := NewGraphModel(ctx, &fakeChatModel{err: errors.New("quota")})
		require.NoError(t, err)

		_, err = m.Generate(ctx, "p")
		require.Error(t, err)
	})

	t.Run("空输出", func(t *testing.T) {
		m, err := NewGraphModel(ctx, &fakeChatModel{})
		require.NoError(t, err)

		_, err = m.Generate(ctx, "p")
		require.EqualError(t, err, "empty chat content")
	})
}

func TestGeminiModel_Generate(t *testing.T) {
	ctx := context.Background()

	var gotPath string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"candidates":[{"content":{"role":"model","parts":[{"text":"{\"ok\":true}"}]}}]}`))
	}))
	defer srv.Close()

	m, err := NewGeminiModel(ctx, "test-key", "", WithBaseURL(srv.URL))
	require.NoError(t, err)

	out, err := m.Generate(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.True(t, strings.HasSuffix(gotPath, "/models/gemini-1.5-flash:generateContent"), gotPath)

	cfg, ok := gotBody["generationConfig"].(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 0.7, cfg["temperature"], 1e-6)
	assert.InDelta(t, 40, cfg["topK"], 1e-6)
	assert.InDelta(t, 0.8, cfg["topP"], 1e-6)
}

func TestNewGeminiModel_RequiresKey(t *testing.T) {
	_, err := NewGeminiModel(context.Background(), "", "")
	require.Error(t, err)
}
