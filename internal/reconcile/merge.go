package reconcile

import "chat-orchestrator/internal/domain"

// Merge patches the attachments in msgs whose FileID matches a record.
// Absent record fields leave existing values untouched and no attachment is
// ever created, so merging the same record twice is a no-op. It reports how
// many attachments matched and whether any of them is still processing.
func Merge(msgs []domain.Message, records []domain.FileRecord) (matched int, pending bool) {
	if len(records) == 0 {
		return 0, false
	}
	byID := make(map[string]domain.FileRecord, len(records))
	for _, rec := range records {
		if rec.FileID != "" {
			byID[rec.FileID] = rec
		}
	}
	for i := range msgs {
		for j := range msgs[i].Attachments {
			att := &msgs[i].Attachments[j]
			if att.FileID == "" {
				continue
			}
			rec, ok := byID[att.FileID]
			if !ok {
				continue
			}
			patch(att, rec)
			matched++
			if InProgress(*att) {
				pending = true
			}
		}
	}
	return matched, pending
}

func patch(att *domain.Attachment, rec domain.FileRecord) {
	setString(&att.Status, rec.Status)
	setString(&att.OCRStatus, rec.OCRStatus)
	setString(&att.SemanticStatus, rec.SemanticStatus)
	setString(&att.EmbeddingStatus, rec.EmbeddingStatus)
	setString(&att.ResultType, rec.ResultType)
	setString(&att.ResultFileURL, rec.ResultFileURL)
	if rec.EmbeddingCount != nil {
		n := *rec.EmbeddingCount
		att.EmbeddingCount = &n
	}
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

// InProgress reports whether any processing stage of att is pending or
// processing.
func InProgress(att domain.Attachment) bool {
	for _, s := range []string{att.Status, att.OCRStatus, att.SemanticStatus, att.EmbeddingStatus} {
		if s == domain.FileStatusPending || s == domain.FileStatusProcessing {
			return true
		}
	}
	return false
}
