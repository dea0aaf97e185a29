package queue

import (
	"encoding/json"
	"fmt"

	"github.com/nexamanager/mailsync/internal/remote"
)

// Payload is the kind-specific body of an Operation. Implementations are
// plain JSON-serializable structs; DecodePayload reverses EncodePayload
// given the operation kind.
type Payload interface {
	// Kind returns the operation kind this payload belongs to.
	Kind() Kind
	// RecordIDs returns the targeted record identifiers, nil if none.
	RecordIDs() []string
}

// MarkReadPayload sets the read flag on existing records.
type MarkReadPayload struct {
	IDs  []string `json:"ids"`
	Read bool     `json:"read"`
}

func (MarkReadPayload) Kind() Kind            { return KindMarkRead }
func (p MarkReadPayload) RecordIDs() []string { return p.IDs }

// MarkStarredPayload sets the starred flag on existing records.
type MarkStarredPayload struct {
	IDs     []string `json:"ids"`
	Starred bool     `json:"starred"`
}

func (MarkStarredPayload) Kind() Kind            { return KindMarkStarred }
func (p MarkStarredPayload) RecordIDs() []string { return p.IDs }

// MovePayload relocates records to another folder.
type MovePayload struct {
	IDs      []string `json:"ids"`
	FolderID string   `json:"folder_id"`
}

func (MovePayload) Kind() Kind            { return KindMove }
func (p MovePayload) RecordIDs() []string { return p.IDs }

// DeletePayload removes records.
type DeletePayload struct {
	IDs []string `json:"ids"`
}

func (DeletePayload) Kind() Kind            { return KindDelete }
func (p DeletePayload) RecordIDs() []string { return p.IDs }

// AddLabelPayload attaches labels to records.
type AddLabelPayload struct {
	IDs    []string `json:"ids"`
	Labels []string `json:"labels"`
}

func (AddLabelPayload) Kind() Kind            { return KindAddLabel }
func (p AddLabelPayload) RecordIDs() []string { return p.IDs }

// RemoveLabelPayload detaches labels from records.
type RemoveLabelPayload struct {
	IDs    []string `json:"ids"`
	Labels []string `json:"labels"`
}

func (RemoveLabelPayload) Kind() Kind            { return KindRemoveLabel }
func (p RemoveLabelPayload) RecordIDs() []string { return p.IDs }

// SendPayload submits a new outbound message.
type SendPayload struct {
	Message remote.OutboundMessage `json:"message"`
}

func (SendPayload) Kind() Kind          { return KindSend }
func (SendPayload) RecordIDs() []string { return nil }

// CreateDraftPayload stores a new draft.
type CreateDraftPayload struct {
	Draft remote.Draft `json:"draft"`
}

func (CreateDraftPayload) Kind() Kind          { return KindCreateDraft }
func (CreateDraftPayload) RecordIDs() []string { return nil }

// UpdateDraftPayload replaces an existing draft.
type UpdateDraftPayload struct {
	DraftID string       `json:"draft_id"`
	Draft   remote.Draft `json:"draft"`
}

func (UpdateDraftPayload) Kind() Kind          { return KindUpdateDraft }
func (UpdateDraftPayload) RecordIDs() []string { return nil }

// SyncAccountPayload requests a full incremental sync pass for the owner.
type SyncAccountPayload struct{}

func (SyncAccountPayload) Kind() Kind          { return KindSyncAccount }
func (SyncAccountPayload) RecordIDs() []string { return nil }

// EncodePayload serializes a payload for durable storage.
func EncodePayload(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("queue: encoding %s payload: %w", p.Kind(), err)
	}

	return data, nil
}

// DecodePayload deserializes a stored payload for the given kind.
func DecodePayload(kind Kind, data []byte) (Payload, error) {
	var (
		p   Payload
		err error
	)

	switch kind {
	case KindMarkRead:
		var v MarkReadPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindMarkStarred:
		var v MarkStarredPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindMove:
		var v MovePayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindDelete:
		var v DeletePayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindAddLabel:
		var v AddLabelPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindRemoveLabel:
		var v RemoveLabelPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindSend:
		var v SendPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindCreateDraft:
		var v CreateDraftPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindUpdateDraft:
		var v UpdateDraftPayload
		err = json.Unmarshal(data, &v)
		p = v
	case KindSyncAccount:
		var v SyncAccountPayload
		err = json.Unmarshal(data, &v)
		p = v
	default:
		return nil, fmt.Errorf("queue: unknown operation kind %q", kind)
	}

	if err != nil {
		return nil, fmt.Errorf("queue: decoding %s payload: %w", kind, err)
	}

	return p, nil
}
