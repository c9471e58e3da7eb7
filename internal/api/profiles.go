package api

import (
	"context"
	"net/url"
	"strconv"

	"github.com/sangamlink/client-go/internal/model"
)

// SearchQuery narrows a profile search. Zero values mean "no filter".
type SearchQuery struct {
	Gender   string
	MinAge   int
	MaxAge   int
	Location string
	Religion string
	Page     int
	PerPage  int
}

// ProfilePage is one page of search results.
type ProfilePage struct {
	Profiles []model.Profile `json:"profiles"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
}

// SearchProfiles runs a filtered, paged profile search.
func (c *Client) SearchProfiles(ctx context.Context, q SearchQuery) (ProfilePage, error) {
	vals := url.Values{}
	if q.Gender != "" {
		vals.Set("gender", q.Gender)
	}
	if q.MinAge > 0 {
		vals.Set("minAge", strconv.Itoa(q.MinAge))
	}
	if q.MaxAge > 0 {
		vals.Set("maxAge", strconv.Itoa(q.MaxAge))
	}
	if q.Location != "" {
		vals.Set("location", q.Location)
	}
	if q.Religion != "" {
		vals.Set("religion", q.Religion)
	}
	if q.Page > 0 {
		vals.Set("page", strconv.Itoa(q.Page))
	}
	if q.PerPage > 0 {
		vals.Set("perPage", strconv.Itoa(q.PerPage))
	}
	var page ProfilePage
	err := c.get(ctx, "/profiles", &page, withQuery(vals))
	return page, err
}

// Profile fetches a single profile by ID.
func (c *Client) Profile(ctx context.Context, id string) (*model.Profile, error) {
	var p model.Profile
	if err := c.get(ctx, "/profiles/"+url.PathEscape(id), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// MyProfile fetches the current user's own profile.
func (c *Client) MyProfile(ctx context.Context) (*model.Profile, error) {
	var p model.Profile
	if err := c.get(ctx, "/profiles/me", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateProfile replaces the current user's profile fields.
func (c *Client) UpdateProfile(ctx context.Context, p model.Profile) (*model.Profile, error) {
	var out model.Profile
	if err := c.put(ctx, "/profiles/me", p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shortlist returns the current user's shortlisted profiles.
func (c *Client) Shortlist(ctx context.Context) ([]model.Profile, error) {
	var out struct {
		Profiles []model.Profile `json:"profiles"`
	}
	if err := c.get(ctx, "/shortlist", &out); err != nil {
		return nil, err
	}
	return out.Profiles, nil
}

// AddShortlist adds a profile to the shortlist.
func (c *Client) AddShortlist(ctx context.Context, profileID string) error {
	return c.post(ctx, "/shortlist/"+url.PathEscape(profileID), nil, nil)
}

// RemoveShortlist removes a profile from the shortlist.
func (c *Client) RemoveShortlist(ctx context.Context, profileID string) error {
	return c.delete(ctx, "/shortlist/"+url.PathEscape(profileID), nil)
}
