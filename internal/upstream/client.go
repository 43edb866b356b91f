// Package upstream talks to the GLM-style conversational web backend
// glmproxy fronts: listing/creating chats, reading user settings, and
// sending a message and streaming the reply back through streamparser, per
// spec.md §4.C.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/signature"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/token"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/history"
	"github.com/TAGOOZ/GLM4.7-opencode-proxy-sub000/internal/upstream/streamparser"
)

const chromeUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Config configures a Client.
type Config struct {
	BaseURL    string
	Token      string
	FEVersion  string
	Vendor     string
	HTTPClient *http.Client
}

// Client is the thin wrapper around the upstream chat HTTP API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	feVersion  string
	token      string
	vendor     string
}

// New builds a Client from cfg, defaulting the HTTP client to a sane timeout
// if the caller didn't supply one.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		httpClient: hc,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		feVersion:  cfg.FEVersion,
		token:      cfg.Token,
		vendor:     cfg.Vendor,
	}
}

// Message is a single role/content turn, independent of how the upstream
// chat's DAG stores it.
type Message struct {
	Role    string
	Content string
}

// ChatSummary is one row of a chat list.
type ChatSummary struct {
	ID        string
	Title     string
	UpdatedAt int64
}

// ChatDetail is a single chat's metadata plus its full message DAG.
type ChatDetail struct {
	ID      string
	Title   string
	History history.DAG
}

// UserSettings is the subset of the upstream user-settings payload glmproxy
// cares about, plus the raw decoded document for anything else callers need.
type UserSettings struct {
	DefaultModel string
	Raw          map[string]any
}

// SendMessageInput is the full set of inputs sendMessage accepts, per
// spec.md §4.C. SendMessage does not act on IncludeHistory: it never fetches
// or prepends upstream chat history, and sends ParentMessageID as given.
type SendMessageInput struct {
	ChatID           string
	Messages         []Message
	Model            string
	Stream           bool
	EnableThinking   bool
	IncludeHistory   bool
	ParentMessageID  string
	GenerationParams map[string]any
	Features         map[string]any
}

// ListChats returns the caller's chat list.
func (c *Client) ListChats(ctx context.Context) ([]ChatSummary, error) {
	var raw []struct {
		ID        string `json:"id"`
		Title     string `json:"title"`
		UpdatedAt int64  `json:"updated_at"`
	}
	if err := c.getJSON(ctx, "/api/chats", &raw); err != nil {
		return nil, err
	}
	out := make([]ChatSummary, len(raw))
	for i, r := range raw {
		out[i] = ChatSummary{ID: r.ID, Title: r.Title, UpdatedAt: r.UpdatedAt}
	}
	return out, nil
}

// GetChat fetches one chat's full message DAG.
func (c *Client) GetChat(ctx context.Context, chatID string) (ChatDetail, error) {
	var raw chatDetailWire
	if err := c.getJSON(ctx, "/api/chats/"+url.PathEscape(chatID), &raw); err != nil {
		return ChatDetail{}, err
	}
	return raw.toDetail(), nil
}

// CreateChat creates a new, empty chat with the given title.
func (c *Client) CreateChat(ctx context.Context, title string) (ChatDetail, error) {
	body, err := json.Marshal(map[string]string{"title": title})
	if err != nil {
		return ChatDetail{}, err
	}
	var raw chatDetailWire
	if err := c.postJSON(ctx, "/api/chats", body, &raw); err != nil {
		return ChatDetail{}, err
	}
	return raw.toDetail(), nil
}

// GetUserSettings fetches the caller's upstream account settings.
func (c *Client) GetUserSettings(ctx context.Context) (UserSettings, error) {
	var raw map[string]any
	if err := c.getJSON(ctx, "/api/users/settings", &raw); err != nil {
		return UserSettings{}, err
	}
	model, _ := raw["default_model"].(string)
	return UserSettings{DefaultModel: model, Raw: raw}, nil
}

type chatDetailWire struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	CurrentID string `json:"current_id"`
	History   map[string]struct {
		ID       string `json:"id"`
		ParentID string `json:"parent_id"`
		Role     string `json:"role"`
		Content  string `json:"content"`
	} `json:"history"`
}

func (w chatDetailWire) toDetail() ChatDetail {
	nodes := make(map[string]history.Node, len(w.History))
	for id, n := range w.History {
		nodes[id] = history.Node{ID: n.ID, ParentID: n.ParentID, Role: n.Role, Content: n.Content}
	}
	return ChatDetail{
		ID:    w.ID,
		Title: w.Title,
		History: history.DAG{
			Messages:  nodes,
			CurrentID: w.CurrentID,
		},
	}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type requestBody struct {
	Stream                     bool           `json:"stream"`
	Model                      string         `json:"model"`
	Messages                   []wireMessage  `json:"messages"`
	SignaturePrompt            string         `json:"signature_prompt"`
	Params                     map[string]any `json:"params,omitempty"`
	Features                   map[string]any `json:"features,omitempty"`
	Variables                  map[string]any `json:"variables,omitempty"`
	ChatID                     string         `json:"chat_id"`
	ID                         string         `json:"id"`
	CurrentUserMessageID       string         `json:"current_user_message_id"`
	CurrentUserMessageParentID string         `json:"current_user_message_parent_id"`
}

// SendMessage signs and posts in to the upstream chat endpoint and streams
// the reply through a fresh streamparser.Parser, invoking emit for every
// resulting chunk in order. It returns once the stream ends or a transport
// error stops it short; the terminal chunk emit receives is always a
// KindDone or a KindError, never silence.
func (c *Client) SendMessage(ctx context.Context, in SendMessageInput, emit func(streamparser.Chunk)) error {
	lastUser := lastUserContent(in.Messages)
	userID := token.UserID(c.token)

	sig, err := signature.Derive(lastUser, userID, time.Now().UnixMilli(), "")
	if err != nil {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: "signature_failed"})
		return err
	}

	userMsgID := uuid.NewString()
	body := requestBody{
		Stream:                     in.Stream,
		Model:                      in.Model,
		Messages:                   toWireMessages(in.Messages),
		SignaturePrompt:            lastUser,
		Params:                     in.GenerationParams,
		Features:                   mergeFeatures(in.EnableThinking, in.Features),
		Variables:                  map[string]any{},
		ChatID:                     in.ChatID,
		ID:                         sig.RequestID,
		CurrentUserMessageID:       userMsgID,
		CurrentUserMessageParentID: in.ParentMessageID,
	}

	raw, err := json.Marshal(body)
	if err != nil {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: "encode_failed"})
		return err
	}

	endpoint := c.baseURL + "/api/chat/completions?" + dossierQuery(in.ChatID, sig)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: "request_build_failed"})
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", sig.Signature)
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: "request_failed:network"})
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: fmt.Sprintf("request_failed:%d", resp.StatusCode)})
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}

	peek := make([]byte, 1)
	n, _ := io.ReadFull(resp.Body, peek)
	if n == 0 {
		emit(streamparser.Chunk{Kind: streamparser.KindError, Reason: "request_failed:empty_body"})
		return errors.New("empty upstream body")
	}

	streamparser.New().Run(io.MultiReader(bytes.NewReader(peek), resp.Body), emit)
	return nil
}

func lastUserContent(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Content
		}
	}
	return ""
}

func toWireMessages(messages []Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{Role: m.Role, Content: m.Content}
	}
	return out
}

func mergeFeatures(enableThinking bool, overrides map[string]any) map[string]any {
	out := map[string]any{
		"enable_thinking":  enableThinking,
		"web_search":       false,
		"auto_web_search":  false,
		"image_generation": false,
		"code_interpreter": false,
	}
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// dossierQuery builds the browser-fingerprint query string the upstream
// expects on every chat request. Most fields describe a fixed, generic
// desktop Chrome profile rather than the real caller's environment — the
// proxy has no browser to introspect, so it presents a single, stable
// fingerprint instead of a per-request random one.
func dossierQuery(chatID string, sig signature.Signed) string {
	v := url.Values{}
	v.Set("chat_id", chatID)
	v.Set("request_id", sig.RequestID)
	v.Set("timestamp", strconv.FormatInt(sig.Timestamp, 10))
	v.Set("signature", sig.Signature)
	v.Set("version", "1")
	v.Set("platform", "web")
	v.Set("os", "macOS")
	v.Set("os_version", "10.15.7")
	v.Set("browser", "Chrome")
	v.Set("browser_version", "124.0.0.0")
	v.Set("device_type", "desktop")
	v.Set("device_memory", "8")
	v.Set("hardware_concurrency", "8")
	v.Set("screen_width", "1920")
	v.Set("screen_height", "1080")
	v.Set("viewport_width", "1536")
	v.Set("viewport_height", "864")
	v.Set("pixel_ratio", "1")
	v.Set("color_depth", "24")
	v.Set("timezone", "UTC")
	v.Set("timezone_offset", "0")
	v.Set("language", "en-US")
	v.Set("languages", "en-US,en")
	v.Set("referrer", "")
	v.Set("connection_type", "4g")
	v.Set("touch_support", "0")
	v.Set("cookie_enabled", "1")
	v.Set("do_not_track", "0")
	v.Set("webgl_vendor", "Google Inc.")
	v.Set("webgl_renderer", "ANGLE (Google, ANGLE Metal Renderer, OpenGL 4.1)")
	v.Set("canvas_fingerprint", "")
	v.Set("audio_fingerprint", "")
	v.Set("installed_fonts", "")
	v.Set("plugins_count", "0")
	v.Set("local_storage", "1")
	v.Set("session_storage", "1")
	v.Set("indexed_db", "1")
	return v.Encode()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(ctx context.Context, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) authHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Cookie", "token="+c.token)
	req.Header.Set("X-FE-Version", c.feVersion)
	req.Header.Set("User-Agent", chromeUserAgent)
}
