package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"os"
	"path/filepath"

	"chat-orchestrator/internal/domain"
)

// UploadFiles sends the staged attachments as one multipart request and
// returns the uploaded descriptors in request order.
func (c *Client) UploadFiles(ctx context.Context, files []domain.Attachment, conversationID string) ([]domain.Attachment, error) {
	if len(files) == 0 {
		return nil, nil
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, f := range files {
		if err := writeFilePart(writer, f); err != nil {
			return nil, fmt.Errorf("backend: upload files: %w", err)
		}
	}
	if conversationID != "" {
		if err := writer.WriteField("conversationId", conversationID); err != nil {
			return nil, fmt.Errorf("backend: upload files: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("backend: upload files: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/v1/files"), body)
	if err != nil {
		return nil, fmt.Errorf("backend: create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if err := c.authorize(ctx, req); err != nil {
		return nil, err
	}
	res, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: upload files: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	var out []domain.Attachment
	if err := decodeBody(res.Body, &out); err != nil {
		return nil, fmt.Errorf("backend: upload files: %w", err)
	}
	return out, nil
}

func writeFilePart(w *multipart.Writer, f domain.Attachment) error {
	if f.LocalPath == "" {
		return errors.New("attachment " + f.Filename + " has no local file")
	}
	src, err := os.Open(f.LocalPath)
	if err != nil {
		return err
	}
	defer func() { _ = src.Close() }()

	name := f.Filename
	if name == "" {
		name = filepath.Base(f.LocalPath)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
	contentType := f.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header.Set("Content-Type", contentType)
	part, err := w.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, src)
	return err
}

func (c *Client) ListConversationFiles(ctx context.Context, conversationID string) ([]domain.FileRecord, error) {
	path, err := conversationPath(conversationID, "/files")
	if err != nil {
		return nil, err
	}
	var out []domain.FileRecord
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, fmt.Errorf("backend: list conversation files: %w", err)
	}
	return out, nil
}
