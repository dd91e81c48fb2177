// Package generator turns a task description into an automation script by
// asking an external LLM.
package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
	"time"

	"github.com/cloudwego/hertz/pkg/app/client"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	"automation-engine-service/internal/task-manager/apperr"
)

const (
	DefaultGeminiBaseURL  = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel    = "gemini-1.5-flash"
	DefaultTimeout        = 60 * time.Second
	DefaultRatePerMinute  = 15
	maxErrorBodyInMessage = 512
)

// Result is one generated script. ScriptID identifies this particular
// generation; calling Generate again may return a different one.
type Result struct {
	ScriptID string `json:"script_id"`
	Script   string `json:"script"`
}

// Client generates scripts.
type Client interface {
	Generate(ctx context.Context, description string, recordID uint) (*Result, error)
}

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	APIKey        string
	Model         string
	BaseURL       string
	Timeout       time.Duration
	RatePerMinute int
}

// GeminiClient calls the generateContent endpoint. It never retries.
type GeminiClient struct {
	cfg     GeminiConfig
	http    *client.Client
	limiter *rate.Limiter
}

func NewGeminiClient(cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultGeminiBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RatePerMinute <= 0 {
		cfg.RatePerMinute = DefaultRatePerMinute
	}

	c, err := client.NewClient(client.WithDialTimeout(5 * time.Second))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini http client: %w", err)
	}
	return &GeminiClient{
		cfg:     cfg,
		http:    c,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RatePerMinute)), 1),
	}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

func (g *GeminiClient) Generate(ctx context.Context, description string, recordID uint) (*Result, error) {
	if strings.TrimSpace(description) == "" {
		return nil, fmt.Errorf("%w: description is empty", apperr.ErrInvalidInput)
	}
	if g.cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY is not configured", apperr.ErrGenerationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait for record %d: %v", apperr.ErrGenerationFailed, recordID, err)
	}

	body, err := json.Marshal(geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: buildPrompt(description)}}}}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal gemini request: %w", err)
	}

	req := protocol.AcquireRequest()
	resp := protocol.AcquireResponse()
	defer protocol.ReleaseRequest(req)
	defer protocol.ReleaseResponse(resp)

	endpoint := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		g.cfg.BaseURL, url.PathEscape(g.cfg.Model), url.QueryEscape(g.cfg.APIKey))
	req.SetMethod(consts.MethodPost)
	req.SetRequestURI(endpoint)
	req.Header.SetContentTypeBytes([]byte("application/json"))
	req.SetBody(body)

	deadline, _ := ctx.Deadline()
	if err := g.http.DoDeadline(ctx, req, resp, deadline); err != nil {
		return nil, fmt.Errorf("%w: gemini call for record %d: %v", apperr.ErrGenerationFailed, recordID, err)
	}

	raw := resp.Body()
	if code := resp.StatusCode(); code < 200 || code >= 300 {
		hlog.Warnf("Generator: gemini returned HTTP %d for record %d", code, recordID)
		return nil, fmt.Errorf("%w: gemini returned HTTP %d: %s", apperr.ErrGenerationFailed, code, truncate(string(raw), maxErrorBodyInMessage))
	}

	text := gjson.GetBytes(raw, "candidates.0.content.parts.0.text")
	if !text.Exists() || strings.TrimSpace(text.String()) == "" {
		return nil, fmt.Errorf("%w: gemini response for record %d has no candidate text", apperr.ErrGenerationFailed, recordID)
	}

	script := ExtractScript(text.String())
	if script == "" {
		return nil, fmt.Errorf("%w: gemini response for record %d has an empty script", apperr.ErrGenerationFailed, recordID)
	}
	scriptID := gjson.GetBytes(raw, "responseId").String()
	if scriptID == "" {
		scriptID = uuid.NewString()
	}
	hlog.Infof("Generator: generated script %s for record %d (%d bytes)", scriptID, recordID, len(script))
	return &Result{ScriptID: scriptID, Script: script}, nil
}

func buildPrompt(description string) string {
	var b strings.Builder
	b.WriteString("You write browser automation scripts with Puppeteer for Node.js.\n")
	b.WriteString("Translate the following task into one complete, runnable script. ")
	b.WriteString("Launch the browser headless, perform every step in order, print a short summary of what was done to stdout and close the browser. ")
	b.WriteString("Return only the code in a single fenced code block.\n\n")
	b.WriteString("Task:\n")
	b.WriteString(description)
	return b.String()
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*[ \t]*\r?\n(.*?)```")

// ExtractScript returns the body of the first fenced code block in text, or
// the trimmed text itself when there is no fence.
func ExtractScript(text string) string {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(text)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
