package memories

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"famlink/internal/api"
)

// Post is a timeline entry.
type Post struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	MediaURLs []string  `json:"media_urls,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Milestone marks a dated family event (first steps, graduations, ...).
type Milestone struct {
	ID       int64     `json:"id"`
	FamilyID int64     `json:"family_id"`
	Title    string    `json:"title"`
	About    string    `json:"about,omitempty"`
	Date     time.Time `json:"date"`
}

// Tradition is a recurring family ritual.
type Tradition struct {
	ID          int64  `json:"id"`
	FamilyID    int64  `json:"family_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Cadence     string `json:"cadence"` // yearly, monthly, weekly
}

// TimeCapsule is a message sealed until its unlock date. The server refuses
// to open it early; the client only relays that refusal.
type TimeCapsule struct {
	ID        int64     `json:"id"`
	FamilyID  int64     `json:"family_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"` // empty until opened
	UnlocksAt time.Time `json:"unlocks_at"`
	Opened    bool      `json:"opened"`
	CreatedAt time.Time `json:"created_at"`
}

type postList struct {
	Items []Post   `json:"items"`
	Meta  api.Meta `json:"meta"`
}

type postRequest struct {
	Body      string   `json:"body"`
	MediaURLs []string `json:"media_urls,omitempty"`
}

type milestoneRequest struct {
	Title string    `json:"title"`
	About string    `json:"about,omitempty"`
	Date  time.Time `json:"date"`
}

type traditionRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Cadence     string `json:"cadence"`
}

type capsuleRequest struct {
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	UnlocksAt time.Time `json:"unlocks_at"`
}

// Service is the memories feature: timeline posts, milestones, traditions and
// time capsules, all per family and all stored remotely.
type Service struct {
	api *api.Client
	log zerolog.Logger
}

// NewService builds the memories service.
func NewService(client *api.Client, log zerolog.Logger) *Service {
	return &Service{api: client, log: log}
}

// Posts returns one page of the family timeline, newest first.
func (s *Service) Posts(ctx context.Context, familyID int64, page, limit int) ([]Post, api.Meta, error) {
	var data postList
	path := fmt.Sprintf("/api/families/%d/posts?page=%d&limit=%d", familyID, page, limit)
	if err := s.api.Get(ctx, path, &data); err != nil {
		return nil, api.Meta{}, fmt.Errorf("list posts: %w", err)
	}
	return data.Items, data.Meta, nil
}

// CreatePost adds a timeline entry.
func (s *Service) CreatePost(ctx context.Context, familyID int64, body string, mediaURLs []string) (*Post, error) {
	var p Post
	if err := s.api.Post(ctx, fmt.Sprintf("/api/families/%d/posts", familyID), postRequest{Body: body, MediaURLs: mediaURLs}, &p); err != nil {
		return nil, fmt.Errorf("create post: %w", err)
	}
	return &p, nil
}

// UpdatePost edits a timeline entry's body.
func (s *Service) UpdatePost(ctx context.Context, postID int64, body string) (*Post, error) {
	var p Post
	if err := s.api.Put(ctx, fmt.Sprintf("/api/posts/%d", postID), postRequest{Body: body}, &p); err != nil {
		return nil, fmt.Errorf("update post: %w", err)
	}
	return &p, nil
}

// DeletePost removes a timeline entry. Destructive; confirm first.
func (s *Service) DeletePost(ctx context.Context, postID int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/posts/%d", postID)); err != nil {
		return fmt.Errorf("delete post: %w", err)
	}
	return nil
}

// Milestones lists a family's milestones.
func (s *Service) Milestones(ctx context.Context, familyID int64) ([]Milestone, error) {
	var ms []Milestone
	if err := s.api.Get(ctx, fmt.Sprintf("/api/families/%d/milestones", familyID), &ms); err != nil {
		return nil, fmt.Errorf("list milestones: %w", err)
	}
	return ms, nil
}

// CreateMilestone records a milestone.
func (s *Service) CreateMilestone(ctx context.Context, familyID int64, title, about string, date time.Time) (*Milestone, error) {
	var m Milestone
	if err := s.api.Post(ctx, fmt.Sprintf("/api/families/%d/milestones", familyID), milestoneRequest{Title: title, About: about, Date: date}, &m); err != nil {
		return nil, fmt.Errorf("create milestone: %w", err)
	}
	return &m, nil
}

// DeleteMilestone removes a milestone. Destructive; confirm first.
func (s *Service) DeleteMilestone(ctx context.Context, milestoneID int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/milestones/%d", milestoneID)); err != nil {
		return fmt.Errorf("delete milestone: %w", err)
	}
	return nil
}

// Traditions lists a family's traditions.
func (s *Service) Traditions(ctx context.Context, familyID int64) ([]Tradition, error) {
	var ts []Tradition
	if err := s.api.Get(ctx, fmt.Sprintf("/api/families/%d/traditions", familyID), &ts); err != nil {
		return nil, fmt.Errorf("list traditions: %w", err)
	}
	return ts, nil
}

// CreateTradition records a tradition.
func (s *Service) CreateTradition(ctx context.Context, familyID int64, title, description, cadence string) (*Tradition, error) {
	var t Tradition
	if err := s.api.Post(ctx, fmt.Sprintf("/api/families/%d/traditions", familyID), traditionRequest{Title: title, Description: description, Cadence: cadence}, &t); err != nil {
		return nil, fmt.Errorf("create tradition: %w", err)
	}
	return &t, nil
}

// UpdateTradition edits a tradition.
func (s *Service) UpdateTradition(ctx context.Context, traditionID int64, title, description, cadence string) (*Tradition, error) {
	var t Tradition
	if err := s.api.Put(ctx, fmt.Sprintf("/api/traditions/%d", traditionID), traditionRequest{Title: title, Description: description, Cadence: cadence}, &t); err != nil {
		return nil, fmt.Errorf("update tradition: %w", err)
	}
	return &t, nil
}

// DeleteTradition removes a tradition. Destructive; confirm first.
func (s *Service) DeleteTradition(ctx context.Context, traditionID int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/traditions/%d", traditionID)); err != nil {
		return fmt.Errorf("delete tradition: %w", err)
	}
	return nil
}

// Capsules lists a family's time capsules.
func (s *Service) Capsules(ctx context.Context, familyID int64) ([]TimeCapsule, error) {
	var cs []TimeCapsule
	if err := s.api.Get(ctx, fmt.Sprintf("/api/families/%d/capsules", familyID), &cs); err != nil {
		return nil, fmt.Errorf("list capsules: %w", err)
	}
	return cs, nil
}

// CreateCapsule seals a message until unlocksAt.
func (s *Service) CreateCapsule(ctx context.Context, familyID int64, title, message string, unlocksAt time.Time) (*TimeCapsule, error) {
	var c TimeCapsule
	if err := s.api.Post(ctx, fmt.Sprintf("/api/families/%d/capsules", familyID), capsuleRequest{Title: title, Message: message, UnlocksAt: unlocksAt}, &c); err != nil {
		return nil, fmt.Errorf("create capsule: %w", err)
	}
	return &c, nil
}

// OpenCapsule asks the server to open a capsule. Before the unlock date the
// server refuses and the error carries its message.
func (s *Service) OpenCapsule(ctx context.Context, capsuleID int64) (*TimeCapsule, error) {
	var c TimeCapsule
	if err := s.api.Post(ctx, fmt.Sprintf("/api/capsules/%d/open", capsuleID), nil, &c); err != nil {
		return nil, fmt.Errorf("open capsule: %w", err)
	}
	return &c, nil
}
