package campaign

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/whatsapp-automation/orchestrator/internal/domain"
)

const maxMediaBytes = 16 << 20

// HTTPMedia fetches campaign media from http(s) URLs or inline data URLs.
type HTTPMedia struct {
	client *http.Client
}

func NewHTTPMedia(timeout time.Duration) *HTTPMedia {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPMedia{client: &http.Client{Timeout: timeout}}
}

func (h *HTTPMedia) Resolve(ctx context.Context, ref string) (*domain.Media, error) {
	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid media url: %w", err)
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch media: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read media: %w", err)
	}
	if len(data) > maxMediaBytes {
		return nil, fmt.Errorf("media larger than %d bytes", maxMediaBytes)
	}

	mimeType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return &domain.Media{Data: data, MimeType: mimeType}, nil
}

func decodeDataURL(ref string) (*domain.Media, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok || !strings.HasSuffix(header, ";base64") {
		return nil, fmt.Errorf("unsupported data url")
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data url: %w", err)
	}
	mimeType := strings.TrimSuffix(header, ";base64")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return &domain.Media{Data: data, MimeType: mimeType}, nil
}
