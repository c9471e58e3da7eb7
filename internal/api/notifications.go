package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sangamlink/client-go/internal/model"
)

// NotificationPage is one page of the notification feed. UnreadCount is the
// server-reported global aggregate; it must be preferred over any locally
// recomputed count, which would undercount when only a page is loaded.
type NotificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	UnreadCount   int                  `json:"unreadCount"`
	Total         int                  `json:"total"`
	Page          int                  `json:"page"`
}

// Notifications fetches one page of the feed.
func (c *Client) Notifications(ctx context.Context, page, perPage int) (NotificationPage, error) {
	vals := url.Values{}
	if page > 0 {
		vals.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		vals.Set("perPage", strconv.Itoa(perPage))
	}
	var out NotificationPage
	err := c.get(ctx, "/notifications", &out, withQuery(vals))
	return out, err
}

// UnreadNotificationCount fetches just the global unread aggregate.
func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	err := c.get(ctx, "/notifications/unread-count", &out)
	return out.UnreadCount, err
}

// MarkNotificationRead marks one notification read and returns the server's
// new global unread count.
func (c *Client) MarkNotificationRead(ctx context.Context, id string) (int, error) {
	var out struct {
		UnreadCount int `json:"unreadCount"`
	}
	err := c.put(ctx, "/notifications/"+url.PathEscape(id)+"/read", nil, &out)
	return out.UnreadCount, err
}

// MarkAllNotificationsRead marks the whole feed read; the unread aggregate
// is zero afterwards.
func (c *Client) MarkAllNotificationsRead(ctx context.Context) error {
	return c.put(ctx, "/notifications/read-all", nil, nil)
}
