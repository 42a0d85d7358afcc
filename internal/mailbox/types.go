package mailbox

// EmailSummaryDTO is one row of a mailbox listing
type EmailSummaryDTO struct {
	ID             string `json:"id"`
	From           string `json:"from"`
	Subject        string `json:"subject"`
	Preview        string `json:"preview"`
	ReceivedAt     int64  `json:"received_at"`
	HasAttachments bool   `json:"has_attachments"`
}

// MailboxPage is one page of a mailbox listing. NextCursor is empty on the
// last page; Total is the exact mailbox size at query time.
type MailboxPage struct {
	Emails     []EmailSummaryDTO `json:"emails"`
	Total      int               `json:"total"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// AttachmentDTO describes one attachment in an email detail response
type AttachmentDTO struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// EmailDetail is the full email view. BodyHTML is sanitized before it is
// placed here.
type EmailDetail struct {
	ID             string          `json:"id"`
	From           string          `json:"from"`
	Subject        string          `json:"subject"`
	BodyText       string          `json:"body_text"`
	BodyHTML       string          `json:"body_html"`
	ReceivedAt     int64           `json:"received_at"`
	HasAttachments bool            `json:"has_attachments"`
	Attachments    []AttachmentDTO `json:"attachments"`
}
