package workflow

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

const maxResponseBytes = 32 << 20

// Helpers bundles the utilities node types use for I/O and item shaping.
type Helpers struct {
	ec      *ExecutionContext
	client  *http.Client
	limiter *rate.Limiter
}

// RequestOptions describes an outbound HTTP call. A Body that is neither
// []byte nor string is sent as JSON.
type RequestOptions struct {
	Method  string
	URL     string
	Headers map[string]string
	Query   map[string]string
	Body    any
	Timeout time.Duration
}

// Response is a fully read HTTP response. JSON holds the decoded body when
// it is valid JSON.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	JSON       any
}

// Request performs an HTTP call bound to the node's context, throttled by
// the executor's outbound rate limit.
func (h *Helpers) Request(opts RequestOptions) (*Response, error) {
	ctx := h.ec.Context()
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	u, err := url.Parse(opts.URL)
	if err != nil {
		return nil, validationErrorf(h.ec.node.ID, "invalid url %q: %v", opts.URL, err)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, v := range opts.Query {
			q.Set(k, v)
		}
		u.RawQuery = q.Encode()
	}

	var body io.Reader
	isJSON := false
	switch b := opts.Body.(type) {
	case nil:
	case []byte:
		body = bytes.NewReader(b)
	case string:
		body = strings.NewReader(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		body = bytes.NewReader(data)
		isJSON = true
	}

	method := strings.ToUpper(opts.Method)
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if isJSON {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}

	client := h.client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	res := &Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       data,
	}
	if gjson.ValidBytes(data) {
		res.JSON = gjson.ParseBytes(data).Value()
	}
	return res, nil
}

// ReturnJSONArray wraps a decoded JSON value into items. Objects become one
// item each; other values are placed under a "data" key.
func (h *Helpers) ReturnJSONArray(data any) []ExecutionItem {
	switch v := data.(type) {
	case nil:
		return []ExecutionItem{}
	case map[string]any:
		return []ExecutionItem{{JSON: v}}
	case []map[string]any:
		res := make([]ExecutionItem, len(v))
		for i, m := range v {
			res[i] = ExecutionItem{JSON: m}
		}
		return res
	case []any:
		res := make([]ExecutionItem, 0, len(v))
		for _, el := range v {
			if m, ok := el.(map[string]any); ok {
				res = append(res, ExecutionItem{JSON: m})
			} else {
				res = append(res, ExecutionItem{JSON: map[string]any{"data": el}})
			}
		}
		return res
	}
	return []ExecutionItem{{JSON: map[string]any{"data": data}}}
}

// PrepareBinaryData encodes raw bytes for an item's binary map. The MIME
// type is sniffed from the content when not given.
func (h *Helpers) PrepareBinaryData(data []byte, fileName, mimeType string) BinaryData {
	detected := mimetype.Detect(data)
	if mimeType == "" {
		mimeType = detected.String()
	}
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	if ext == "" {
		ext = strings.TrimPrefix(detected.Extension(), ".")
	}
	return BinaryData{
		Data:          base64.StdEncoding.EncodeToString(data),
		MimeType:      mimeType,
		FileName:      fileName,
		FileExtension: ext,
		FileSize:      formatSize(len(data)),
	}
}

// GetBinaryDataBuffer decodes a binary property of an input item.
func (h *Helpers) GetBinaryDataBuffer(itemIndex int, property string) ([]byte, error) {
	items := h.ec.GetInputData(0)
	if itemIndex < 0 || itemIndex >= len(items) {
		return nil, validationErrorf(h.ec.node.ID, "no input item at index %d", itemIndex)
	}
	bin, ok := items[itemIndex].Binary[property]
	if !ok {
		return nil, validationErrorf(h.ec.node.ID,
			"item %d has no binary property %q", itemIndex, property)
	}
	data, err := base64.StdEncoding.DecodeString(bin.Data)
	if err != nil {
		return nil, fmt.Errorf("decode binary property %q: %w", property, err)
	}
	return data, nil
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f kB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}
