package remote

import "time"

// Record is a mail record as exposed by the record store API. Every record
// carries an UpdatedAt the server bumps on each mutation; conflict detection
// compares it against the enqueue time of a queued local operation.
type Record struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	FolderID  string    `json:"folder_id"`
	Subject   string    `json:"subject,omitempty"`
	Read      bool      `json:"is_read"`
	Starred   bool      `json:"is_starred"`
	Labels    []string  `json:"labels"`
	Deleted   bool      `json:"is_deleted"`
	UpdatedAt time.Time `json:"updated_at"`
}

// HasLabel reports whether the record currently carries the given label.
func (r *Record) HasLabel(label string) bool {
	for _, l := range r.Labels {
		if l == label {
			return true
		}
	}

	return false
}

// OutboundMessage is the payload for sending mail through the store's
// transport endpoint. The actual delivery provider sits behind the API.
type OutboundMessage struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

// Draft is a stored draft message.
type Draft struct {
	ID      string   `json:"id,omitempty"`
	To      []string `json:"to,omitempty"`
	Subject string   `json:"subject,omitempty"`
	Body    string   `json:"body,omitempty"`
}

// recordList is the wire envelope for record collection responses.
type recordList struct {
	Records []Record `json:"records"`
}
