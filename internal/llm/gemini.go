package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/tbourn/study-assistant/internal/config"
	"github.com/tbourn/study-assistant/internal/domain"
	"github.com/tbourn/study-assistant/internal/storage"
)

const (
	roleModel = "model"

	// defaultFilePrompt is sent when a message carries only an attachment.
	defaultFilePrompt = "Please analyze this file and summarize its key points."
)

// Gemini calls the generateContent REST endpoint of the Gemini API.
type Gemini struct {
	APIKey   string
	Model    string
	Endpoint string
	// MaxAttachmentBytes caps the size of a fetched attachment.
	MaxAttachmentBytes int64
	// AllowedURLPrefixes lists where attachments may be fetched from. An
	// empty list fetches nothing.
	AllowedURLPrefixes []string
	Client             *http.Client
}

// ErrAttachmentOrigin is returned for attachments outside AllowedURLPrefixes,
// including redirects that leave them.
var ErrAttachmentOrigin = errors.New("attachment url not allowed")

// NewGemini constructs a Gemini client from configuration. Timeouts are
// applied per call by Bounded, not by the HTTP client.
func NewGemini(cfg config.GeminiConfig) *Gemini {
	return &Gemini{
		APIKey:             cfg.APIKey,
		Model:              cfg.Model,
		Endpoint:           strings.TrimRight(cfg.Endpoint, "/"),
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		Client:             &http.Client{},
	}
}

type geminiRequest struct {
	Contents         []geminiContent  `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopK            int     `json:"topK"`
	TopP            float64 `json:"topP"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback,omitempty"`
}

var defaultGenerationConfig = generationConfig{
	Temperature:     0.9,
	TopK:            1,
	TopP:            1,
	MaxOutputTokens: 2048,
}

var defaultSafetySettings = []safetySetting{
	{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
	{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_MEDIUM_AND_ABOVE"},
}

// Generate sends history plus the new prompt (and the attachment, inlined as
// base64) and returns the text of the first candidate.
func (g *Gemini) Generate(ctx context.Context, prompt string, history []Turn, attachment *domain.Attachment) (string, error) {
	if g.APIKey == "" {
		return "", fmt.Errorf("gemini: api key not configured")
	}

	contents := make([]geminiContent, 0, len(history)+1)
	for _, t := range history {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		contents = append(contents, geminiContent{Role: providerRole(t.Role), Parts: []geminiPart{{Text: t.Content}}})
	}

	parts := make([]geminiPart, 0, 2)
	if attachment != nil {
		data, mimeType, err := g.fetchAttachment(ctx, attachment)
		if err != nil {
			return "", err
		}
		parts = append(parts, geminiPart{InlineData: &inlineData{MimeType: mimeType, Data: data}})
		if strings.TrimSpace(prompt) == "" {
			prompt = defaultFilePrompt
		}
	}
	parts = append(parts, geminiPart{Text: prompt})
	contents = append(contents, geminiContent{Role: domain.RoleUser, Parts: parts})

	body, err := json.Marshal(geminiRequest{
		Contents:         contents,
		GenerationConfig: defaultGenerationConfig,
		SafetySettings:   defaultSafetySettings,
	})
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.Endpoint, g.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.APIKey)

	res, err := g.client().Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	resBody, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return "", err
	}
	if res.StatusCode != http.StatusOK {
		return "", fmt.Errorf("gemini: status %d: %s", res.StatusCode, truncate(string(resBody), 512))
	}

	var out geminiResponse
	if err := json.Unmarshal(resBody, &out); err != nil {
		return "", fmt.Errorf("gemini: decode response: %w", err)
	}
	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini: prompt blocked: %s", out.PromptFeedback.BlockReason)
	}
	var sb strings.Builder
	if len(out.Candidates) > 0 {
		for _, p := range out.Candidates[0].Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", ErrEmptyResponse
	}
	return sb.String(), nil
}

// fetchAttachment downloads the attachment and returns it base64-encoded
// with its MIME type.
func (g *Gemini) fetchAttachment(ctx context.Context, a *domain.Attachment) (string, string, error) {
	if !storage.URLAllowed(a.URL, g.AllowedURLPrefixes) {
		return "", "", fmt.Errorf("attachment: %w", ErrAttachmentOrigin)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.URL, nil)
	if err != nil {
		return "", "", fmt.Errorf("attachment: %w", err)
	}
	res, err := g.attachmentClient().Do(req)
	if err != nil {
		return "", "", fmt.Errorf("attachment: %w", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("attachment: status %d", res.StatusCode)
	}

	limit := g.MaxAttachmentBytes
	if limit <= 0 {
		limit = 20 << 20
	}
	raw, err := io.ReadAll(io.LimitReader(res.Body, limit+1))
	if err != nil {
		return "", "", fmt.Errorf("attachment: %w", err)
	}
	if int64(len(raw)) > limit {
		return "", "", fmt.Errorf("attachment: larger than %d bytes", limit)
	}

	mimeType := attachmentMIME(res.Header.Get("Content-Type"), a.Name, raw)
	return base64.StdEncoding.EncodeToString(raw), mimeType, nil
}

func (g *Gemini) client() *http.Client {
	if g.Client != nil {
		return g.Client
	}
	return http.DefaultClient
}

// attachmentClient is client with every redirect hop held to
// AllowedURLPrefixes.
func (g *Gemini) attachmentClient() *http.Client {
	c := *g.client()
	next := c.CheckRedirect
	c.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !storage.URLAllowed(req.URL.String(), g.AllowedURLPrefixes) {
			return ErrAttachmentOrigin
		}
		if next != nil {
			return next(req, via)
		}
		if len(via) >= 10 {
			return errors.New("stopped after 10 redirects")
		}
		return nil
	}
	return &c
}

// providerRole maps stored roles to Gemini roles.
func providerRole(role string) string {
	if role == domain.RoleAssistant {
		return roleModel
	}
	return domain.RoleUser
}

// attachmentMIME prefers the server's Content-Type, then the file
// extension, then content sniffing.
func attachmentMIME(header, name string, raw []byte) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "" && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(path.Ext(name)); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	mt, _, _ := mime.ParseMediaType(http.DetectContentType(raw))
	return mt
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
