// Package ingest turns parsed inbound messages into stored emails. It owns
// attachment admission and the fire-and-forget persistence tail.
package ingest

import (
	"mime"
	"strings"

	"github.com/driftmail/driftmail/internal/config"
	"github.com/driftmail/driftmail/internal/metrics"
)

// Drop reasons reported by the admission filter.
const (
	dropReasonCount    = "over_count"
	dropReasonNoName   = "no_filename"
	dropReasonType     = "disallowed_type"
	dropReasonOversize = "oversize"
)

// RawAttachment is an attachment as it arrives from message parsing, before
// admission. ContentType is the declared type and may be empty or carry
// parameters.
type RawAttachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Filter applies the attachment admission rules. Rules run in a fixed order
// and drops are silent: callers only ever see the admitted list.
type Filter struct {
	maxCount int
	maxSize  int64
	allowed  map[string]struct{}
}

// NewFilter builds a filter from the inbox limits
func NewFilter(cfg *config.InboxConfig) *Filter {
	allowed := make(map[string]struct{}, len(cfg.AllowedTypes))
	for _, t := range cfg.AllowedTypes {
		allowed[strings.ToLower(t)] = struct{}{}
	}
	return &Filter{
		maxCount: cfg.MaxAttachments,
		maxSize:  cfg.MaxAttachmentSize,
		allowed:  allowed,
	}
}

// Admit filters attachments in order:
//  1. truncate the list to the first maxCount entries
//  2. drop entries with an empty filename
//  3. resolve the content type (declared type if non-empty, otherwise
//     application/octet-stream)
//  4. drop entries whose resolved type is not on the allow-list
//  5. drop entries whose content exceeds maxSize
//
// Admitted entries are returned with the resolved content type filled in.
// Input order is preserved.
func (f *Filter) Admit(attachments []RawAttachment) []RawAttachment {
	if len(attachments) == 0 {
		return nil
	}

	if len(attachments) > f.maxCount {
		metrics.AttachmentsDropped.WithLabelValues(dropReasonCount).Add(float64(len(attachments) - f.maxCount))
		attachments = attachments[:f.maxCount]
	}

	admitted := make([]RawAttachment, 0, len(attachments))
	for _, att := range attachments {
		if strings.TrimSpace(att.Filename) == "" {
			metrics.AttachmentsDropped.WithLabelValues(dropReasonNoName).Inc()
			continue
		}

		att.ContentType = resolveContentType(att.ContentType)

		if _, ok := f.allowed[att.ContentType]; !ok {
			metrics.AttachmentsDropped.WithLabelValues(dropReasonType).Inc()
			continue
		}

		if int64(len(att.Content)) > f.maxSize {
			metrics.AttachmentsDropped.WithLabelValues(dropReasonOversize).Inc()
			continue
		}

		admitted = append(admitted, att)
	}

	metrics.AttachmentsAdmitted.Add(float64(len(admitted)))

	if len(admitted) == 0 {
		return nil
	}
	return admitted
}

// resolveContentType uses the declared type when present, normalizing case
// and stripping parameters. An empty declaration resolves to
// application/octet-stream; the filename never participates.
func resolveContentType(declared string) string {
	declared = strings.TrimSpace(declared)
	if declared == "" {
		return "application/octet-stream"
	}
	if mediaType, _, err := mime.ParseMediaType(declared); err == nil {
		return strings.ToLower(mediaType)
	}
	return strings.ToLower(declared)
}
