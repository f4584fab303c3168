package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"wisestory/internal/llm"
	"wisestory/internal/model"
)

const jsonOnlySuffix = "\n\nIMPORTANT: Respond ONLY with the JSON object. Do not add any additional text, explanations, or formatting."

const contentSchema = `{
  "structure": {
    "introduction": "string",
    "chapters": [
      {
        "title": "string",
        "content": "string",
        "mood": "string"
      }
    ],
    "conclusion": "string"
  },
  "scenes": [
    {
      "chapter": number,
      "setting": "string",
      "characters": ["string"],
      "action": "string",
      "mood": "string",
      "visualDetails": "string"
    }
  ],
  "imagePrompts": ["string"]
}`

var blankLines = regexp.MustCompile(`\n\s*\n`)

var smartQuotes = strings.NewReplacer("“", `"`, "”", `"`, "‘", "'", "’", "'")

// StoryContext 生成故事所需的上下文
type StoryContext struct {
	Title       string
	Description string
	AgeGroup    model.AgeGroup
	Language    model.Language
}

// ContentGenerator 调用文本模型生成结构化故事内容
type ContentGenerator struct {
	model llm.TextModel
	log   logrus.FieldLogger
}

// NewContentGenerator 创建内容生成器
func NewContentGenerator(m llm.TextModel, log logrus.FieldLogger) *ContentGenerator {
	return &ContentGenerator{model: m, log: log.WithField("component", "ContentGenerator")}
}

// Generate 单次调用模型，不做重试
func (g *ContentGenerator) Generate(ctx context.Context, sc StoryContext) (*model.StoryContent, error) {
	raw, err := g.model.Generate(ctx, BuildStoryPrompt(sc)+jsonOnlySuffix)
	if err != nil {
		return nil, &GenerationError{Reason: "model call failed", Cause: err}
	}

	cleaned, err := CleanJSON(raw)
	if err != nil {
		g.log.WithField("raw_len", len(raw)).Warn("model response contained no valid json")
		return nil, err
	}
	content, err := decodeContent(cleaned)
	if err != nil {
		return nil, err
	}
	g.log.WithFields(logrus.Fields{
		"title":    sc.Title,
		"chapters": len(content.Structure.Chapters),
		"prompts":  len(content.ImagePrompts),
	}).Info("story content generated")
	return content, nil
}

// BuildStoryPrompt 构造生成指令
func BuildStoryPrompt(sc StoryContext) string {
	var b strings.Builder
	b.WriteString("You are a JSON-only story generation API. Generate a children's story with these parameters:\n")
	fmt.Fprintf(&b, "- Age: %s\n", sc.AgeGroup)
	fmt.Fprintf(&b, "- Title: %q\n", sc.Title)
	if sc.Description != "" {
		fmt.Fprintf(&b, "- Description: %q\n", sc.Description)
	}
	fmt.Fprintf(&b, "- Language: %s\n\n", sc.Language)
	b.WriteString("Return ONLY a JSON object with this structure (no other text):\n")
	b.WriteString(contentSchema)
	return b.String()
}

// CleanJSON 从模型输出中提取合法JSON：原文、首个{到最后一个}、再替换智能引号并合并空行
func CleanJSON(raw string) (string, error) {
	if json.Valid([]byte(raw)) {
		return raw, nil
	}
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return "", &GenerationError{Reason: "no valid JSON found"}
	}
	candidate := raw[start : end+1]
	if json.Valid([]byte(candidate)) {
		return candidate, nil
	}
	cleaned := strings.TrimSpace(blankLines.ReplaceAllString(smartQuotes.Replace(candidate), "\n"))
	if json.Valid([]byte(cleaned)) {
		return cleaned, nil
	}
	return "", &GenerationError{Reason: "no valid JSON found"}
}

func decodeContent(cleaned string) (*model.StoryContent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(cleaned), &fields); err != nil {
		return nil, &GenerationError{Reason: "missing required fields", Cause: err}
	}
	if !isObject(fields["structure"]) || !isArray(fields["scenes"]) || !isArray(fields["imagePrompts"]) {
		return nil, &GenerationError{Reason: "missing required fields"}
	}

	var content model.StoryContent
	if err := json.Unmarshal([]byte(cleaned), &content); err != nil {
		return nil, &GenerationError{Reason: "malformed story content", Cause: err}
	}
	return &content, nil
}

func isObject(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '{'
}

func isArray(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) > 0 && trimmed[0] == '['
}
