package whatsapp

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"whatsapp-voice-subscription/internal/domain"
	"whatsapp-voice-subscription/internal/domain/model"
	"whatsapp-voice-subscription/internal/domain/ports/adapter"
)

var (
	_ adapter.MessagingAdapter = (*Client)(nil)
	_ adapter.MediaFetcher     = (*Client)(nil)
)

const (
	maxTextRunes   = 4096
	maxMediaBytes  = 16 << 20
	defaultVersion = "v22.0"
)

type Config struct {
	Token         string
	VerifyToken   string
	PhoneNumberID string
	APIVersion    string
	BaseURL       string
	SendRPS       float64
}

// Client talks to the WhatsApp Cloud API (Graph).
type Client struct {
	cfg     Config
	base    string
	http    *http.Client
	limiter *rate.Limiter
	log     *zerolog.Logger
}

func NewClient(cfg Config, logger *zerolog.Logger) (*Client, error) {
	if cfg.Token == "" || cfg.PhoneNumberID == "" {
		return nil, errors.New("whatsapp token and phone number id are required")
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = defaultVersion
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.SendRPS <= 0 {
		cfg.SendRPS = 20
	}
	l := logger.With().Str("component", "WhatsAppClient").Logger()
	return &Client{
		cfg:     cfg,
		base:    strings.TrimRight(cfg.BaseURL, "/") + "/" + cfg.APIVersion,
		http:    &http.Client{Timeout: 30 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.SendRPS), int(cfg.SendRPS)+1),
		log:     &l,
	}, nil
}

// VerifyChallenge implements the hub.mode/hub.verify_token handshake.
func (c *Client) VerifyChallenge(mode, token, challenge string) (string, error) {
	if mode == "" || token == "" || challenge == "" {
		return "", domain.ErrInvalidVerification
	}
	if mode != "subscribe" || subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.VerifyToken)) != 1 {
		return "", domain.ErrInvalidVerification
	}
	return challenge, nil
}

type textMessage struct {
	MessagingProduct string `json:"messaging_product"`
	RecipientType    string `json:"recipient_type"`
	To               string `json:"to"`
	Type             string `json:"type"`
	Text             struct {
		Body       string `json:"body"`
		PreviewURL bool   `json:"preview_url"`
	} `json:"text"`
}

// Send delivers text, split into chunks when it exceeds the per-message limit.
func (c *Client) Send(ctx context.Context, to, text string, channel model.ChannelContext) error {
	pnid := channel.PhoneNumberID
	if pnid == "" {
		pnid = c.cfg.PhoneNumberID
	}
	for _, part := range splitText(text, maxTextRunes) {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
		msg := textMessage{MessagingProduct: "whatsapp", RecipientType: "individual", To: to, Type: "text"}
		msg.Text.Body = part
		msg.Text.PreviewURL = strings.Contains(part, "https://")
		if err := c.post(ctx, "/"+pnid+"/messages", msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return apiError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// FetchMedia resolves a media id to its download URL and downloads it.
func (c *Client) FetchMedia(ctx context.Context, mediaRef string) (*adapter.Media, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/"+mediaRef, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, apiError(resp)
	}
	var meta struct {
		URL      string `json:"url"`
		MimeType string `json:"mime_type"`
		FileSize int64  `json:"file_size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode media meta: %w", err)
	}
	if meta.URL == "" {
		return nil, errors.New("media url missing")
	}
	if meta.FileSize > maxMediaBytes {
		return nil, fmt.Errorf("media too large: %d bytes", meta.FileSize)
	}

	dreq, err := http.NewRequestWithContext(ctx, http.MethodGet, meta.URL, nil)
	if err != nil {
		return nil, err
	}
	dreq.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	dresp, err := c.http.Do(dreq)
	if err != nil {
		return nil, err
	}
	defer dresp.Body.Close()
	if dresp.StatusCode >= 300 {
		return nil, apiError(dresp)
	}
	data, err := io.ReadAll(io.LimitReader(dresp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxMediaBytes {
		return nil, errors.New("media too large")
	}
	mime := meta.MimeType
	if mime == "" {
		mime = dresp.Header.Get("Content-Type")
	}
	c.log.Debug().Str("media_id", mediaRef).Int("bytes", len(data)).Str("mime", mime).Msg("media downloaded")
	return &adapter.Media{Data: data, MimeType: mime}, nil
}

func apiError(resp *http.Response) error {
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	var payload struct {
		Error struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		} `json:"error"`
	}
	if json.Unmarshal(b, &payload) == nil && payload.Error.Message != "" {
		return fmt.Errorf("whatsapp http %d: code %d: %s", resp.StatusCode, payload.Error.Code, payload.Error.Message)
	}
	return fmt.Errorf("whatsapp http %d", resp.StatusCode)
}

// splitText cuts s into chunks of at most n runes, preferring newline breaks.
func splitText(s string, n int) []string {
	r := []rune(s)
	if len(r) <= n {
		return []string{s}
	}
	var out []string
	for len(r) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if r[i-1] == '\n' {
				cut = i
				break
			}
		}
		out = append(out, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		out = append(out, string(r))
	}
	return out
}
