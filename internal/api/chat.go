package api

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"

	"github.com/sangamlink/client-go/internal/model"
)

// wireConversation tolerates the two unread-counter shapes older backend
// versions emit (a keyed object or an array of {userId, count}) and
// normalizes both into the single map representation right here, so nothing
// above this boundary ever branches on shape.
type wireConversation struct {
	ID           string          `json:"id"`
	Participants []string        `json:"participants"`
	OtherUser    *model.User     `json:"otherUser"`
	LastMessage  *model.Message  `json:"lastMessage"`
	Unread       json.RawMessage `json:"unreadCount"`
}

func (w wireConversation) normalize() model.Conversation {
	conv := model.Conversation{
		ID:           w.ID,
		Participants: w.Participants,
		OtherUser:    w.OtherUser,
		LastMessage:  w.LastMessage,
		Unread:       map[string]int{},
	}
	if len(w.Unread) == 0 {
		return conv
	}
	var asMap map[string]int
	if err := json.Unmarshal(w.Unread, &asMap); err == nil {
		conv.Unread = asMap
		if conv.Unread == nil {
			conv.Unread = map[string]int{}
		}
		return conv
	}
	var asList []struct {
		UserID string `json:"userId"`
		Count  int    `json:"count"`
	}
	if err := json.Unmarshal(w.Unread, &asList); err == nil {
		for _, e := range asList {
			conv.Unread[e.UserID] = e.Count
		}
	}
	return conv
}

// Conversations lists the current user's conversations.
func (c *Client) Conversations(ctx context.Context) ([]model.Conversation, error) {
	var out struct {
		Conversations []wireConversation `json:"conversations"`
	}
	if err := c.get(ctx, "/conversations", &out); err != nil {
		return nil, err
	}
	convs := make([]model.Conversation, 0, len(out.Conversations))
	for _, w := range out.Conversations {
		convs = append(convs, w.normalize())
	}
	return convs, nil
}

// Messages fetches one page of a conversation's history, newest last.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	vals := url.Values{}
	if limit > 0 {
		vals.Set("limit", strconv.Itoa(limit))
	}
	var out struct {
		Messages []model.Message `json:"messages"`
	}
	path := "/conversations/" + url.PathEscape(conversationID) + "/messages"
	if err := c.get(ctx, path, &out, withQuery(vals)); err != nil {
		return nil, err
	}
	for i := range out.Messages {
		out.Messages[i].Status = model.MessageSent
	}
	return out.Messages, nil
}

// MarkConversationRead zeroes the viewer's unread counter server-side.
func (c *Client) MarkConversationRead(ctx context.Context, conversationID string) error {
	path := "/conversations/" + url.PathEscape(conversationID) + "/read"
	return c.post(ctx, path, nil, nil)
}
