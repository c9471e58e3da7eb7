package api

import (
	"context"
	"net/url"

	"github.com/sangamlink/client-go/internal/model"
)

// SendInterest sends a connection request to another user.
func (c *Client) SendInterest(ctx context.Context, receiverID string) (*model.Interest, error) {
	body := map[string]string{"receiverId": receiverID}
	var out model.Interest
	if err := c.post(ctx, "/interests", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AcceptInterest accepts a received interest.
func (c *Client) AcceptInterest(ctx context.Context, interestID string) (*model.Interest, error) {
	return c.respondInterest(ctx, interestID, model.InterestAccepted)
}

// DeclineInterest declines a received interest.
func (c *Client) DeclineInterest(ctx context.Context, interestID string) (*model.Interest, error) {
	return c.respondInterest(ctx, interestID, model.InterestDeclined)
}

func (c *Client) respondInterest(ctx context.Context, interestID, status string) (*model.Interest, error) {
	body := map[string]string{"status": status}
	var out model.Interest
	if err := c.put(ctx, "/interests/"+url.PathEscape(interestID), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interests lists interests for the current user. Direction is "sent" or
// "received"; empty lists both.
func (c *Client) Interests(ctx context.Context, direction string) ([]model.Interest, error) {
	vals := url.Values{}
	if direction != "" {
		vals.Set("direction", direction)
	}
	var out struct {
		Interests []model.Interest `json:"interests"`
	}
	if err := c.get(ctx, "/interests", &out, withQuery(vals)); err != nil {
		return nil, err
	}
	return out.Interests, nil
}
