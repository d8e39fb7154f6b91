package entities

import "time"

// Account is the subset of the account entity the sync engine cares about.
// The UI layer decodes the full object separately if it needs avatars etc.
type Account struct {
	ID          string `json:"id"`
	Acct        string `json:"acct"`
	DisplayName string `json:"display_name"`
	URL         string `json:"url"`
}

// Status is a single post as delivered by the REST and streaming APIs.
type Status struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	Account     Account   `json:"account"`
	Content     string    `json:"content"`
	SpoilerText string    `json:"spoiler_text"`
	Sensitive   bool      `json:"sensitive"`
	Visibility  string    `json:"visibility"`
	Reblog      *Status   `json:"reblog,omitempty"`
	EditedAt    time.Time `json:"edited_at,omitempty"`
}

// TargetID returns the id aggregation should group on: the boosted status
// for a repost, the status itself otherwise.
func (s *Status) TargetID() string {
	if s.Reblog != nil {
		return s.Reblog.ID
	}
	return s.ID
}

// Notification is one entry in the notifications feed.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
	Account   Account   `json:"account"`
	Status    *Status   `json:"status,omitempty"`
}

// TargetID returns the id aggregation groups notifications on. Follows and
// follow requests target the actor's account; everything else the status.
func (n *Notification) TargetID() string {
	if n.Status != nil {
		return n.Status.ID
	}
	return n.Account.ID
}

// Conversation is a direct-message thread summary.
type Conversation struct {
	ID         string    `json:"id"`
	Accounts   []Account `json:"accounts"`
	LastStatus *Status   `json:"last_status,omitempty"`
	Unread     bool      `json:"unread"`
}

// LastActivity is the timestamp conversations are ordered by.
func (c *Conversation) LastActivity() time.Time {
	if c.LastStatus != nil {
		return c.LastStatus.CreatedAt
	}
	return time.Time{}
}

// Marker records the last-read position of a timeline.
type Marker struct {
	LastReadID string    `json:"last_read_id"`
	Version    int       `json:"version"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Relationship mirrors the follow state between the local actor and another
// account. Only the fields the streaming update path touches are kept.
type Relationship struct {
	ID         string `json:"id"`
	Following  bool   `json:"following"`
	FollowedBy bool   `json:"followed_by"`
	Requested  bool   `json:"requested"`
}
