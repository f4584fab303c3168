package volc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"wisestory/internal/imagegen"
)

const (
	defaultBase  = "https://ark.cn-beijing.volces.com"
	defaultModel = "doubao-seedream-4.0"
	defaultSize  = "1024x1024"
)

// 1x1 PNG
const mockPixel = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAQAAAC1HAwCAAAAC0lEQVR4nGNgYAAAAAMAASsJTYQAAAAASUVORK5CYII="

// ArkClient 火山方舟图片生成客户端
type ArkClient struct {
	BaseURL    string
	APIKey     string
	Size       string
	HTTPClient *http.Client
	Mock       bool
	Log        logrus.FieldLogger
}

// NewArkClient 创建方舟客户端
func NewArkClient(apiKey string, timeout time.Duration, mock bool) *ArkClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ArkClient{
		BaseURL:    defaultBase,
		APIKey:     apiKey,
		Size:       defaultSize,
		HTTPClient: &http.Client{Timeout: timeout},
		Mock:       mock,
		Log:        logrus.StandardLogger(),
	}
}

type imageResponse struct {
	Data []struct {
		URL    string `json:"url"`
		B64    string `json:"b64_json"`
		Format string `json:"format"`
	} `json:"data"`
}

// TextToImage 调用Seedream生成单张图片
func (c *ArkClient) TextToImage(ctx context.Context, req imagegen.Request) (*imagegen.Image, error) {
	if c.Mock {
		data, _ := base64.StdEncoding.DecodeString(mockPixel)
		return &imagegen.Image{Data: data, ContentType: "image/png"}, nil
	}
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	size := c.Size
	if size == "" {
		size = defaultSize
	}
	body := map[string]any{
		"model":           model,
		"prompt":          req.Prompt,
		"size":            size,
		"response_format": "b64_json",
		"watermark":       false,
	}
	if req.GuidanceScale > 0 {
		body["guidance_scale"] = req.GuidanceScale
	}

	var resp imageResponse
	if err := c.postJSON(ctx, "/api/v3/images/generations", body, &resp); err != nil {
		return nil, fmt.Errorf("ark %s: %w", model, err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("no images returned")
	}

	d := resp.Data[0]
	if d.B64 != "" {
		data, err := base64.StdEncoding.DecodeString(d.B64)
		if err != nil {
			return nil, fmt.Errorf("decode b64_json: %w", err)
		}
		format := d.Format
		if format == "" {
			format = "png"
		}
		return &imagegen.Image{Data: data, ContentType: "image/" + format}, nil
	}
	if d.URL != "" {
		return c.fetch(ctx, d.URL)
	}
	return nil, errors.New("no images returned")
}

func (c *ArkClient) fetch(ctx context.Context, url string) (*imagegen.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch image: http %d", res.StatusCode)
	}
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &imagegen.Image{Data: data, ContentType: res.Header.Get("Content-Type")}, nil
}

func (c *ArkClient) postJSON(ctx context.Context, path string, body any, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.BaseURL, "/")+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")
	c.Log.WithField("url", req.URL.String()).Debug("ark request")

	res, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	bodyBytes, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return fmt.Errorf("http %d: %s", res.StatusCode, string(bodyBytes))
	}
	return json.Unmarshal(bodyBytes, out)
}

var _ imagegen.Provider = (*ArkClient)(nil)
