package domain

import (
	"errors"
	"strings"
	"time"
)

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignFinished  CampaignStatus = "finished"
	CampaignPaused    CampaignStatus = "paused"
	CampaignError     CampaignStatus = "error"
)

type SubscriberStatus string

const (
	SubscriberUnknown      SubscriberStatus = "unknown"
	SubscriberSubscribed   SubscriberStatus = "subscribed"
	SubscriberUnsubscribed SubscriberStatus = "unsubscribed"
	SubscriberBounced      SubscriberStatus = "bounced"
	SubscriberComplained   SubscriberStatus = "complained"
)

type DeliveryStatus string

const (
	DeliveryClaimed   DeliveryStatus = "claimed"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryBounced   DeliveryStatus = "bounced"
)

// ErrNotFound is returned when a campaign, list, segment or subscriber
// referenced by an in-flight unit no longer exists.
var ErrNotFound = errors.New("not found")

// ErrNoWork means no sending campaign currently has an unclaimed subscriber.
var ErrNoWork = errors.New("no work available")

type Campaign struct {
	ID        int
	CID       string
	ListID    int
	SegmentID int // zero means the whole list
	Name      string
	FromName  string
	FromEmail string
	Subject   string
	HTML      string
	Text      string
	Status    CampaignStatus
	Delivered int
	Bounced   int
}

type List struct {
	ID   int
	CID  string
	Name string
}

type Subscriber struct {
	ID        int
	ListID    int
	CID       string
	Email     string
	FirstName string
	LastName  string
	Status    SubscriberStatus
	Fields    map[string]string
}

// FullName joins first and last name, omitting empty parts.
func (s Subscriber) FullName() string {
	parts := make([]string, 0, 2)
	if s.FirstName != "" {
		parts = append(parts, s.FirstName)
	}
	if s.LastName != "" {
		parts = append(parts, s.LastName)
	}
	return strings.Join(parts, " ")
}

type SegmentRule struct {
	Field string `json:"field"`
	Op    string `json:"op"`
	Value string `json:"value"`
}

type Segment struct {
	ID        int
	ListID    int
	Name      string
	MatchType string // "all" or "any"
	Rules     []SegmentRule
}

// Field describes a custom subscriber attribute configured on a list.
// Option-set fields carry sub-options, each with its own merge tag.
type Field struct {
	ID       int
	ListID   int
	Key      string
	Label    string
	MergeTag string
	Type     string // text, number, option-set
	Options  []FieldOption
	Visible  bool
}

type FieldOption struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	MergeTag string `json:"mergeTag"`
}

type DeliveryRecord struct {
	ID           int
	CampaignID   int
	ListID       int
	SegmentID    int
	SubscriberID int
	Status       DeliveryStatus
	Response     string
	ResponseID   string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ClaimedUnit is one reserved (campaign, list, subscriber) triple plus the
// ledger row that holds the claim.
type ClaimedUnit struct {
	RecordID   int
	CampaignID int
	ListID     int
	SegmentID  int
	Subscriber Subscriber
}
