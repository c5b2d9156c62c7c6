package usecase

import (
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"chat-orchestrator/internal/domain"
)

// UploadLimits bound what a single send may attach.
type UploadLimits struct {
	MaxFiles     int
	MaxFileBytes int64
	// AllowedTypes are lower-case file extensions without the dot.
	AllowedTypes []string
}

func DefaultUploadLimits() UploadLimits {
	return UploadLimits{
		MaxFiles:     5,
		MaxFileBytes: 20 << 20,
		AllowedTypes: []string{"pdf", "txt", "md", "csv", "png", "jpg", "jpeg", "docx", "xlsx"},
	}
}

func (l UploadLimits) allows(ext string) bool {
	for _, t := range l.AllowedTypes {
		if strings.EqualFold(strings.TrimPrefix(t, "."), ext) {
			return true
		}
	}
	return false
}

// validateUploads checks every staged attachment and returns all failures
// joined, or nil.
func validateUploads(atts []domain.Attachment, limits UploadLimits) error {
	var errs []error
	if limits.MaxFiles > 0 && len(atts) > limits.MaxFiles {
		errs = append(errs, fmt.Errorf("at most %d files can be attached, got %d", limits.MaxFiles, len(atts)))
	}
	for _, a := range atts {
		name := a.Filename
		if name == "" {
			name = filepath.Base(a.LocalPath)
		}
		if !a.Staged() || a.LocalPath == "" {
			errs = append(errs, fmt.Errorf("%s: not a local file", name))
			continue
		}
		ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
		if !limits.allows(ext) {
			errs = append(errs, fmt.Errorf("%s: file type %q is not allowed", name, ext))
		}
		if limits.MaxFileBytes > 0 && a.SizeBytes > limits.MaxFileBytes {
			errs = append(errs, fmt.Errorf("%s: %d bytes exceeds the %d byte limit", name, a.SizeBytes, limits.MaxFileBytes))
		}
	}
	return errors.Join(errs...)
}

// StageFile describes a local file as a staged attachment.
func StageFile(path string) (domain.Attachment, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return domain.Attachment{}, newError(ErrorInvalidInput, "empty_path", nil)
	}
	info, err := os.Stat(path)
	if err != nil {
		return domain.Attachment{}, newError(ErrorInvalidInput, "file_not_found", err)
	}
	if info.IsDir() {
		return domain.Attachment{}, newError(ErrorInvalidInput, "file_is_directory", nil)
	}
	name := filepath.Base(path)
	mimeType := mime.TypeByExtension(filepath.Ext(name))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	return domain.Attachment{
		Key:       newUUID(),
		Filename:  name,
		MimeType:  mimeType,
		SizeBytes: info.Size(),
		LocalPath: path,
	}, nil
}

// applyUploaded fills staged attachments with the uploaded descriptors, matched
// by position. The staged key is kept so the UI can track the same entry.
func applyUploaded(staged []domain.Attachment, uploaded []domain.Attachment) []domain.Attachment {
	out := make([]domain.Attachment, len(staged))
	for i, s := range staged {
		if i >= len(uploaded) {
			out[i] = s.Clone()
			continue
		}
		u := uploaded[i].Clone()
		u.Key = s.Key
		u.LocalPath = ""
		if u.Filename == "" {
			u.Filename = s.Filename
		}
		if u.MimeType == "" {
			u.MimeType = s.MimeType
		}
		if u.SizeBytes == 0 {
			u.SizeBytes = s.SizeBytes
		}
		out[i] = u
	}
	return out
}
