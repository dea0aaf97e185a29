package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// getJSON performs a GET and decodes the JSON response into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	resp, err := c.Do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("remote: decoding %s response: %w", path, err)
	}

	return nil
}

// sendJSON performs a request with a JSON body, discarding the response body.
func (c *Client) sendJSON(ctx context.Context, method, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("remote: encoding %s request: %w", path, err)
	}

	resp, err := c.Do(ctx, method, path, bytes.NewReader(body))
	if err != nil {
		return err
	}

	return resp.Body.Close()
}

// GetRecords fetches the current server state for the given record IDs.
// Records the server no longer knows are absent from the result, not an error.
func (c *Client) GetRecords(ctx context.Context, owner string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	q := url.Values{}
	q.Set("owner", owner)
	q.Set("ids", strings.Join(ids, ","))

	var list recordList
	if err := c.getJSON(ctx, "/v1/records?"+q.Encode(), &list); err != nil {
		return nil, fmt.Errorf("remote: get records: %w", err)
	}

	return list.Records, nil
}

// ListChangedSince returns records whose UpdatedAt is strictly newer than
// since. This is the delta query behind incremental sync.
func (c *Client) ListChangedSince(ctx context.Context, owner string, since time.Time) ([]Record, error) {
	q := url.Values{}
	q.Set("owner", owner)
	q.Set("updated_after", since.UTC().Format(time.RFC3339Nano))

	var list recordList
	if err := c.getJSON(ctx, "/v1/records?"+q.Encode(), &list); err != nil {
		return nil, fmt.Errorf("remote: list changed records: %w", err)
	}

	return list.Records, nil
}

// recordMutation is the wire format for bulk record mutations.
type recordMutation struct {
	Owner    string   `json:"owner"`
	IDs      []string `json:"ids"`
	Read     *bool    `json:"is_read,omitempty"`
	Starred  *bool    `json:"is_starred,omitempty"`
	FolderID string   `json:"folder_id,omitempty"`
	Labels   []string `json:"labels,omitempty"`
}

// SetRead updates the read flag on the given records.
func (c *Client) SetRead(ctx context.Context, owner string, ids []string, read bool) error {
	return c.sendJSON(ctx, http.MethodPatch, "/v1/records/read",
		recordMutation{Owner: owner, IDs: ids, Read: &read})
}

// SetStarred updates the starred flag on the given records.
func (c *Client) SetStarred(ctx context.Context, owner string, ids []string, starred bool) error {
	return c.sendJSON(ctx, http.MethodPatch, "/v1/records/starred",
		recordMutation{Owner: owner, IDs: ids, Starred: &starred})
}

// Move relocates the given records to another folder.
func (c *Client) Move(ctx context.Context, owner string, ids []string, folderID string) error {
	return c.sendJSON(ctx, http.MethodPatch, "/v1/records/folder",
		recordMutation{Owner: owner, IDs: ids, FolderID: folderID})
}

// Delete removes the given records.
func (c *Client) Delete(ctx context.Context, owner string, ids []string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/v1/records",
		recordMutation{Owner: owner, IDs: ids})
}

// AddLabels attaches labels to the given records.
func (c *Client) AddLabels(ctx context.Context, owner string, ids, labels []string) error {
	return c.sendJSON(ctx, http.MethodPost, "/v1/records/labels",
		recordMutation{Owner: owner, IDs: ids, Labels: labels})
}

// RemoveLabels detaches labels from the given records.
func (c *Client) RemoveLabels(ctx context.Context, owner string, ids, labels []string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/v1/records/labels",
		recordMutation{Owner: owner, IDs: ids, Labels: labels})
}

// sendEnvelope wraps an outbound message with its owner.
type sendEnvelope struct {
	Owner   string          `json:"owner"`
	Message OutboundMessage `json:"message"`
}

// Send submits a message for delivery through the store's transport endpoint.
func (c *Client) Send(ctx context.Context, owner string, msg OutboundMessage) error {
	return c.sendJSON(ctx, http.MethodPost, "/v1/messages", sendEnvelope{Owner: owner, Message: msg})
}

// draftEnvelope wraps a draft with its owner.
type draftEnvelope struct {
	Owner string `json:"owner"`
	Draft Draft  `json:"draft"`
}

// CreateDraft stores a new draft.
func (c *Client) CreateDraft(ctx context.Context, owner string, draft Draft) error {
	return c.sendJSON(ctx, http.MethodPost, "/v1/drafts", draftEnvelope{Owner: owner, Draft: draft})
}

// UpdateDraft replaces an existing draft.
func (c *Client) UpdateDraft(ctx context.Context, owner, draftID string, draft Draft) error {
	return c.sendJSON(ctx, http.MethodPut, "/v1/drafts/"+url.PathEscape(draftID),
		draftEnvelope{Owner: owner, Draft: draft})
}

// Ping issues a lightweight HEAD probe against the API health endpoint.
// Used by the health monitor's network check.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.Do(ctx, http.MethodHead, "/v1/health", nil)
	if err != nil {
		return err
	}

	return resp.Body.Close()
}
