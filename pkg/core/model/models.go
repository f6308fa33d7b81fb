package model

import "time"

type ResourceType string

const (
	ResourceNeed  ResourceType = "need"
	ResourceOffer ResourceType = "offer"
)

func (t ResourceType) IsValid() bool {
	return t == ResourceNeed || t == ResourceOffer
}

type Category string

const (
	CategoryWater    Category = "water"
	CategoryShelter  Category = "shelter"
	CategoryFood     Category = "food"
	CategorySupplies Category = "supplies"
	CategoryMedical  Category = "medical"
	CategorySafety   Category = "safety"
	CategoryOther    Category = "other"
)

type ResourceStatus string

const (
	StatusOpen       ResourceStatus = "open"
	StatusAddressing ResourceStatus = "addressing"
	StatusClosed     ResourceStatus = "closed"
)

// Resource is a need or an offer posted to the shared board.
// Only Status, AssignedTo and AssignedName change after creation.
type Resource struct {
	ID              string         `json:"id"`
	Type            ResourceType   `json:"type"`
	Category        Category       `json:"category"`
	Title           string         `json:"title"`
	Description     string         `json:"description"`
	Location        string         `json:"location"`
	LocationDetails string         `json:"locationDetails,omitempty"`
	Contact         string         `json:"contact,omitempty"`
	ContactName     string         `json:"contactName,omitempty"`
	Urgent          bool           `json:"urgent"`
	OwnerID         string         `json:"ownerId"`
	OwnerName       string         `json:"ownerName,omitempty"`
	Status          ResourceStatus `json:"status"`
	AssignedTo      string         `json:"assignedTo,omitempty"`
	AssignedName    string         `json:"assignedName,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// NewResource is the author-supplied part of a Resource
type NewResource struct {
	Type            ResourceType `validate:"required,oneof=need offer"`
	Category        Category     `validate:"required,oneof=water shelter food supplies medical safety other"`
	Title           string       `validate:"required,max=200"`
	Description     string       `validate:"max=4000"`
	Location        string       `validate:"required"`
	LocationDetails string
	Contact         string
	ContactName     string
	Urgent          bool
}

type ResponseKind string

const (
	// KindHelpOffer is recorded when a helper responds to a need
	KindHelpOffer ResponseKind = "help-offer"
	// KindRequest is recorded when an affected person requests an offer
	KindRequest ResponseKind = "request"
)

// KindFor returns the response kind produced by acting on a resource of type t
func KindFor(t ResourceType) ResponseKind {
	if t == ResourceNeed {
		return KindHelpOffer
	}
	return KindRequest
}

type ResponseStatus string

const (
	ResponsePending  ResponseStatus = "pending"
	ResponseAccepted ResponseStatus = "accepted"
	ResponseRejected ResponseStatus = "rejected"
)

func (s ResponseStatus) IsValid() bool {
	return s == ResponsePending || s == ResponseAccepted || s == ResponseRejected
}

// Response is a responder's recorded intent against one resource.
// Responses live only in the responder's own namespace.
type Response struct {
	ID            string         `json:"id"`
	RequestID     string         `json:"requestId"`
	ResponderID   string         `json:"responderId"`
	ResponderRole Role           `json:"responderRole"`
	ResponderName string         `json:"responderName"`
	Kind          ResponseKind   `json:"kind"`
	Category      Category       `json:"category"`
	Title         string         `json:"title"`
	Status        ResponseStatus `json:"status"`
	Time          time.Time      `json:"time"`
}

type NotificationType string

const (
	NotificationResponse NotificationType = "response"
	NotificationRequest  NotificationType = "request"
	NotificationReminder NotificationType = "reminder"
)

// Notification is a per-user inbox record
type Notification struct {
	ID      string           `json:"id"`
	Type    NotificationType `json:"type"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
	Time    time.Time        `json:"time"`
	Read    bool             `json:"read"`
	Link    string           `json:"link"`
}
