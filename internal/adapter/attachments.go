package adapter

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/hpn/hpn-c-relay/internal/domain"
)

// DataURI is a decoded "data:<mime>;base64,<payload>" value.
type DataURI struct {
	MIMEType string
	Data     []byte
}

// FileName returns the upload name the upstream expects for the MIME type.
func (d DataURI) FileName() string {
	switch d.MIMEType {
	case "image/jpeg":
		return "image.jpg"
	case "image/png":
		return "image.png"
	case "application/pdf":
		return "document.pdf"
	default:
		return "file"
	}
}

// ParseDataURI decodes a base64 data URI. Any other encoding, a missing
// comma, or a missing media type is rejected with ErrAttachmentInvalid.
func ParseDataURI(raw string) (DataURI, error) {
	meta, payload, ok := strings.Cut(raw, ",")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: missing data separator in %q", domain.ErrAttachmentInvalid, truncate(raw, 50))
	}

	_, typeAndEncoding, ok := strings.Cut(meta, ":")
	if !ok {
		return DataURI{}, fmt.Errorf("%w: invalid content type %q", domain.ErrAttachmentInvalid, truncate(meta, 50))
	}

	mimeType, encoding, ok := strings.Cut(typeAndEncoding, ";")
	if !ok || encoding != "base64" {
		return DataURI{}, fmt.Errorf("%w: unsupported encoding %q", domain.ErrAttachmentInvalid, truncate(typeAndEncoding, 50))
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return DataURI{}, fmt.Errorf("%w: decode base64: %v", domain.ErrAttachmentInvalid, err)
	}

	return DataURI{MIMEType: mimeType, Data: data}, nil
}

// UploadFiles uploads each data URI in order. Empty entries are skipped; the
// first malformed or rejected entry fails the whole call.
func (c *ClaudeClient) UploadFiles(ctx context.Context, dataURIs []string) ([]string, error) {
	if len(dataURIs) == 0 {
		return nil, nil
	}
	if c.orgID == "" {
		return nil, newUpstreamError("upload", domain.ErrAttachmentUpload, 0, "organization not set", nil)
	}

	ids := make([]string, 0, len(dataURIs))
	for _, raw := range dataURIs {
		if raw == "" {
			continue
		}

		file, err := ParseDataURI(raw)
		if err != nil {
			return nil, err
		}

		id, err := c.uploadFile(ctx, file)
		if err != nil {
			return nil, err
		}

		c.logger.Info("file uploaded",
			slog.String("file_name", file.FileName()),
			slog.String("mime_type", file.MIMEType),
			slog.String("file_uuid", id),
		)
		ids = append(ids, id)
	}

	return ids, nil
}

func (c *ClaudeClient) uploadFile(ctx context.Context, file DataURI) (string, error) {
	const op = "upload"

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, file.FileName()))
	h.Set("Content-Type", file.MIMEType)
	part, err := w.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("failed to create multipart part: %w", err)
	}
	if _, err := part.Write(file.Data); err != nil {
		return "", fmt.Errorf("failed to write multipart part: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	path := fmt.Sprintf("/organizations/%s/upload", c.orgID)
	resp, err := c.do(ctx, op, http.MethodPost, path, &body, map[string]string{
		"Content-Type": w.FormDataContentType(),
		"Referer":      webOrigin + "/new",
	})
	if err != nil {
		return "", newUpstreamError(op, domain.ErrAttachmentUpload, 0, "", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", newUpstreamError(op, domain.ErrAttachmentUpload, resp.StatusCode, "read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", newUpstreamError(op, domain.ErrAttachmentUpload, resp.StatusCode, errorMessage(respBody), nil)
	}

	id := gjson.GetBytes(respBody, "file_uuid").String()
	if id == "" {
		return "", newUpstreamError(op, domain.ErrAttachmentUpload, resp.StatusCode, "response has no file_uuid", nil)
	}
	return id, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
