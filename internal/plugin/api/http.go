package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/dshills/plughost/internal/plugin/script"
	"github.com/dshills/plughost/internal/plugin/security"
)

// HTTP limits.
const (
	MaxResponseBytes   = 4 << 20
	DefaultHTTPTimeout = 10 * time.Second
)

// RequestOptions are optional request settings.
type RequestOptions struct {
	Headers map[string]string
	Body    any // string is sent as-is; other values are JSON encoded
}

// Response is the result of an HTTP request. Network failures are
// reported with Success false and Status 0.
type Response struct {
	Success bool              `json:"success"`
	Status  int               `json:"status"`
	Data    string            `json:"data"`
	JSON    any               `json:"json,omitempty"`
	Error   string            `json:"error,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
}

// HTTP performs outbound requests for a plugin.
type HTTP struct {
	client  *http.Client
	checker *security.PermissionChecker
	log     zerolog.Logger
}

// NewHTTP creates the network capability. A nil client uses a client with
// DefaultHTTPTimeout.
func NewHTTP(client *http.Client, checker *security.PermissionChecker, log zerolog.Logger) *HTTP {
	if client == nil {
		client = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &HTTP{client: client, checker: checker, log: log}
}

// Get performs a GET request.
func (h *HTTP) Get(ctx context.Context, rawURL string, opts RequestOptions) Response {
	return h.Request(ctx, http.MethodGet, rawURL, opts)
}

// Post performs a POST request.
func (h *HTTP) Post(ctx context.Context, rawURL string, body any, opts RequestOptions) Response {
	opts.Body = body
	return h.Request(ctx, http.MethodPost, rawURL, opts)
}

// Request performs an HTTP request bounded by ctx.
func (h *HTTP) Request(ctx context.Context, method, rawURL string, opts RequestOptions) Response {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Response{Error: fmt.Sprintf("Invalid URL: %q", rawURL)}
	}
	if h.checker != nil {
		if err := h.checker.CheckNetwork(u.Host); err != nil {
			return Response{Error: err.Error()}
		}
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	body, contentType, err := encodeBody(opts.Body)
	if err != nil {
		return Response{Error: fmt.Sprintf("invalid request body: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return Response{Error: err.Error()}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		h.log.Debug().Err(err).Str("url", u.Redacted()).Msg("HTTP request failed")
		return Response{Error: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	out := Response{
		Status:  resp.StatusCode,
		Success: resp.StatusCode >= 200 && resp.StatusCode < 300,
		Headers: flattenHeaders(resp.Header),
	}
	if err != nil {
		out.Success = false
		out.Error = fmt.Sprintf("read response: %v", err)
	}
	if len(data) > MaxResponseBytes {
		data = data[:MaxResponseBytes]
		out.Success = false
		out.Error = fmt.Sprintf("response body exceeds %d bytes", MaxResponseBytes)
	}
	out.Data = string(data)
	if out.Error == "" && gjson.ValidBytes(data) {
		out.JSON = gjson.ParseBytes(data).Value()
	}
	if !out.Success && out.Error == "" {
		out.Error = resp.Status
	}
	return out
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "", nil
	case []byte:
		return strings.NewReader(string(b)), "", nil
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", err
		}
		return strings.NewReader(string(data)), "application/json", nil
	}
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out[strings.ToLower(k)] = strings.Join(h[k], ", ")
	}
	return out
}

// toMap converts a Response to a script table.
func (r Response) toMap() map[string]any {
	headers := make(map[string]any, len(r.Headers))
	for k, v := range r.Headers {
		headers[k] = v
	}
	m := map[string]any{
		"success": r.Success,
		"status":  r.Status,
		"data":    r.Data,
		"headers": headers,
	}
	if r.JSON != nil {
		m["json"] = r.JSON
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

func requestOptions(v any) RequestOptions {
	m, _ := v.(map[string]any)
	opts := RequestOptions{Body: m["body"]}
	if hdrs, ok := m["headers"].(map[string]any); ok {
		opts.Headers = make(map[string]string, len(hdrs))
		for k, v := range hdrs {
			opts.Headers[k] = fmt.Sprint(v)
		}
	}
	return opts
}

func (h *HTTP) namespace() script.Object {
	return script.Object{
		"request": script.Func(func(ctx context.Context, args []any) (any, error) {
			opts := requestOptions(script.Arg(args, 2))
			return h.Request(ctx, script.StringArg(args, 0, "GET"), script.StringArg(args, 1, ""), opts).toMap(), nil
		}),
		"get": script.Func(func(ctx context.Context, args []any) (any, error) {
			return h.Get(ctx, script.StringArg(args, 0, ""), requestOptions(script.Arg(args, 1))).toMap(), nil
		}),
		"post": script.Func(func(ctx context.Context, args []any) (any, error) {
			return h.Post(ctx, script.StringArg(args, 0, ""), script.Arg(args, 1), requestOptions(script.Arg(args, 2))).toMap(), nil
		}),
	}
}
