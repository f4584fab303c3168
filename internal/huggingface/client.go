package huggingface

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wisestory/internal/imagegen"
)

const defaultBase = "https://api-inference.huggingface.co"

// 1x1 PNG
const mockPixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="

// Client Hugging Face推理接口客户端
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Mock       bool
	Log        logrus.FieldLogger
}

// NewClient 创建推理客户端
func NewClient(baseURL, apiKey string, timeout time.Duration, mock bool) *Client {
	if baseURL == "" {
		baseURL = defaultBase
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		APIKey:     apiKey,
		HTTPClient: &http.Client{Timeout: timeout},
		Mock:       mock,
		Log:        logrus.StandardLogger(),
	}
}

type inferenceRequest struct {
	Inputs     string              `json:"inputs"`
	Parameters inferenceParameters `json:"parameters"`
}

type inferenceParameters struct {
	NumInferenceSteps int     `json:"num_inference_steps"`
	GuidanceScale     float64 `json:"guidance_scale"`
}

// TextToImage 调用指定模型生成图片
func (c *Client) TextToImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	if c.Mock {
		data, _ := base64.StdEncoding.DecodeString(mockPixel)
		return &imagegen.Image{Data: data, ContentType: "image/png"}, nil
	}
	if req.Model == "" {
		return nil, fmt.Errorf("model required")
	}

	body := inferenceRequest{
		Inputs: req.Prompt,
		Parameters: inferenceParameters{
			NumInferenceSteps: req.Steps,
			GuidanceScale:     req.GuidanceScale,
		},
	}
	data, contentType, err := c.postJSON(ctx, "/models/"+req.Model, body)
	if err != nil {
		return nil, fmt.Errorf("huggingface %s: %w", req.Model, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("huggingface %s: empty response", req.Model)
	}
	if contentType == "" {
		contentType = imagegen.DefaultContentType
	}
	return &imagegen.Image{Data: data, ContentType: contentType}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body any) ([]byte, string, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(b))
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	c.Log.WithField("url", req.URL.String()).Debug("huggingface request")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer res.Body.Close()

	respBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, "", err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, "", fmt.Errorf("http %d: %s", res.StatusCode, truncate(respBytes, 256))
	}
	contentType := res.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		// 模型加载中等情况会以200返回JSON
		return nil, "", fmt.Errorf("unexpected json response: %s", truncate(respBytes, 256))
	}
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}
	return respBytes, contentType, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

var _ imagegen.Provider = (*Client)(nil)
