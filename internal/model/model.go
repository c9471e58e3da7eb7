// Package model defines client-held entities. Every entity here is a cached
// projection of a server-owned record; the server copy always wins.
package model

import "time"

// Roles as reported by the backend.
const (
	RoleMember     = "member"
	RoleAgency     = "agency"
	RoleAdmin      = "admin"
	RoleSuperAdmin = "superadmin"
)

// Agency verification statuses.
const (
	AgencyPending  = "pending"
	AgencyApproved = "approved"
	AgencyRejected = "rejected"
)

// Tokens collects issued access/refresh tokens (refresh optional).
type Tokens struct {
	AccessToken  string    `json:"token"`
	RefreshToken string    `json:"refreshToken,omitempty"`
	ExpiresAt    time.Time `json:"-"` // access token expiry, parsed from the JWT exp claim
}

// Subscription is the current billing state attached to a user.
type Subscription struct {
	PlanID    string     `json:"planId"`
	Active    bool       `json:"isActive"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// User is the reduced projection of the server user record kept client-side
// for instant UI. It must never carry secrets, only display/authorization
// fields.
type User struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	Name          string        `json:"name,omitempty"`
	Role          string        `json:"role"`
	EmailVerified bool          `json:"emailVerified"`
	AgencyStatus  string        `json:"agencyStatus,omitempty"`
	Subscription  *Subscription `json:"subscription,omitempty"`

	// Legacy premium fields, still emitted by older backend versions.
	IsPremium     bool       `json:"isPremium,omitempty"`
	PremiumExpiry *time.Time `json:"premiumExpiry,omitempty"`
}

// IsAgency reports whether the account is an agency account.
func (u *User) IsAgency() bool { return u != nil && u.Role == RoleAgency }

// IsAdmin reports whether the account has an admin role.
func (u *User) IsAdmin() bool {
	return u != nil && (u.Role == RoleAdmin || u.Role == RoleSuperAdmin)
}

// Profile is a browsable matrimonial profile.
type Profile struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Name      string    `json:"name"`
	Age       int       `json:"age"`
	Gender    string    `json:"gender"`
	Location  string    `json:"location,omitempty"`
	Religion  string    `json:"religion,omitempty"`
	Bio       string    `json:"bio,omitempty"`
	PhotoURL  string    `json:"photoUrl,omitempty"`
	Complete  bool      `json:"isComplete"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Interest statuses.
const (
	InterestPending  = "pending"
	InterestAccepted = "accepted"
	InterestDeclined = "declined"
)

// Interest is a connection request between two users.
type Interest struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// MessageStatus tracks the client-side delivery state of a message.
type MessageStatus string

const (
	// MessageSending marks an optimistic entry awaiting the server echo.
	MessageSending MessageStatus = "sending"
	// MessageSent marks an authoritative, server-confirmed entry.
	MessageSent MessageStatus = "sent"
	// MessageFailed marks an optimistic entry whose echo never arrived or
	// was rejected; the UI may offer a retry.
	MessageFailed MessageStatus = "failed"
)

// Message is one chat message. Optimistic entries carry a temporary ID and
// the correlation ID used to match the later server echo.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversationId"`
	SenderID       string        `json:"senderId"`
	ReceiverID     string        `json:"receiverId"`
	Content        string        `json:"content"`
	CreatedAt      time.Time     `json:"createdAt"`
	CorrelationID  string        `json:"correlationId,omitempty"`
	Optimistic     bool          `json:"-"`
	Status         MessageStatus `json:"-"`
}

// Conversation is a 1:1 chat thread. Unread maps user ID to that user's
// unread count; the API boundary normalizes whatever shape the server sends
// into this single representation.
type Conversation struct {
	ID           string         `json:"id"`
	Participants []string       `json:"participants"`
	OtherUser    *User          `json:"otherUser,omitempty"`
	LastMessage  *Message       `json:"lastMessage,omitempty"`
	Unread       map[string]int `json:"unreadCount"`
}

// UnreadFor returns the unread count for the given viewer.
func (c *Conversation) UnreadFor(userID string) int {
	if c == nil || c.Unread == nil {
		return 0
	}
	return c.Unread[userID]
}

// Notification is one entry of the notification feed.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Read      bool      `json:"isRead"`
	ActionURL string    `json:"actionUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Plan is a purchasable subscription plan.
type Plan struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Price        float64 `json:"price"`
	Currency     string  `json:"currency"`
	DurationDays int     `json:"durationDays"`
}

// CheckoutSession is the hosted-checkout handoff returned by the backend:
// a processor URL plus opaque form fields for a full-page form POST.
type CheckoutSession struct {
	OrderID string            `json:"orderId"`
	URL     string            `json:"url"`
	Fields  map[string]string `json:"fields"`
}

// Payment verification statuses. Pending is the only non-terminal one.
const (
	PaymentPending   = "pending"
	PaymentSucceeded = "succeeded"
	PaymentFailed    = "failed"
	PaymentCancelled = "cancelled"
)

// PaymentVerification is the backend's answer to a verify poll.
type PaymentVerification struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

// Terminal reports whether the verification reached a final state.
func (p PaymentVerification) Terminal() bool {
	return p.Status == PaymentSucceeded || p.Status == PaymentFailed || p.Status == PaymentCancelled
}

// AuthResult is what login/register return: the token pair plus the user
// snapshot to cache.
type AuthResult struct {
	Tokens Tokens `json:"-"`
	User   User   `json:"user"`
}
