package family

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"famlink/internal/api"
)

// Family is a family group.
type Family struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	CreatedBy   int64     `json:"created_by"`
	MemberCount int       `json:"member_count"`
	CreatedAt   time.Time `json:"created_at"`
}

// Member is a family member as seen by the requesting user.
type Member struct {
	UserID   int64     `json:"user_id"`
	Name     string    `json:"name"`
	Role     string    `json:"role"`
	JoinedAt time.Time `json:"joined_at"`
}

// Invitation is a pending invite to join a family.
type Invitation struct {
	ID         int64     `json:"id"`
	FamilyID   int64     `json:"family_id"`
	FamilyName string    `json:"family_name"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	Code       string    `json:"code"`
	Status     string    `json:"status"`
	ExpiresAt  time.Time `json:"expires_at"`
}

type createRequest struct {
	Name string `json:"name"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type familyListData struct {
	Items []Family `json:"items"`
	Meta  api.Meta `json:"meta"`
}

// Service is the families feature: CRUD, membership and invitations. It is a
// thin layer over the REST client; all state lives on the server.
type Service struct {
	api *api.Client
	log zerolog.Logger
}

// NewService builds the family service.
func NewService(client *api.Client, log zerolog.Logger) *Service {
	return &Service{api: client, log: log}
}

// List returns the user's families.
func (s *Service) List(ctx context.Context) ([]Family, error) {
	var data familyListData
	if err := s.api.Get(ctx, "/api/families?page=1&limit=50", &data); err != nil {
		return nil, fmt.Errorf("list families: %w", err)
	}
	return data.Items, nil
}

// Create creates a family with the caller as admin.
func (s *Service) Create(ctx context.Context, name string) (*Family, error) {
	var f Family
	if err := s.api.Post(ctx, "/api/families", createRequest{Name: name}, &f); err != nil {
		return nil, fmt.Errorf("create family: %w", err)
	}
	return &f, nil
}

// Update renames a family.
func (s *Service) Update(ctx context.Context, id int64, name string) (*Family, error) {
	var f Family
	if err := s.api.Put(ctx, fmt.Sprintf("/api/families/%d", id), createRequest{Name: name}, &f); err != nil {
		return nil, fmt.Errorf("update family: %w", err)
	}
	return &f, nil
}

// Delete removes a family. Destructive; callers must confirm with the user
// before issuing it.
func (s *Service) Delete(ctx context.Context, id int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/families/%d", id)); err != nil {
		return fmt.Errorf("delete family: %w", err)
	}
	return nil
}

// Members lists a family's members.
func (s *Service) Members(ctx context.Context, familyID int64) ([]Member, error) {
	var members []Member
	if err := s.api.Get(ctx, fmt.Sprintf("/api/families/%d/members", familyID), &members); err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	return members, nil
}

// RemoveMember removes a member. Destructive; confirm first.
func (s *Service) RemoveMember(ctx context.Context, familyID, userID int64) error {
	if err := s.api.Delete(ctx, fmt.Sprintf("/api/families/%d/members/%d", familyID, userID)); err != nil {
		return fmt.Errorf("remove member: %w", err)
	}
	return nil
}

// Invite sends an invitation to join the family.
func (s *Service) Invite(ctx context.Context, familyID int64, email, role string) (*Invitation, error) {
	var inv Invitation
	if err := s.api.Post(ctx, fmt.Sprintf("/api/families/%d/invitations", familyID), inviteRequest{Email: email, Role: role}, &inv); err != nil {
		return nil, fmt.Errorf("invite: %w", err)
	}
	return &inv, nil
}

// Invitations lists invitations addressed to the current user.
func (s *Service) Invitations(ctx context.Context) ([]Invitation, error) {
	var invs []Invitation
	if err := s.api.Get(ctx, "/api/invitations", &invs); err != nil {
		return nil, fmt.Errorf("list invitations: %w", err)
	}
	return invs, nil
}

// Accept joins the family an invitation code points at.
func (s *Service) Accept(ctx context.Context, code string) (*Family, error) {
	var f Family
	if err := s.api.Post(ctx, fmt.Sprintf("/api/invitations/%s/accept", code), nil, &f); err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	return &f, nil
}

// Decline rejects an invitation.
func (s *Service) Decline(ctx context.Context, code string) error {
	if err := s.api.Post(ctx, fmt.Sprintf("/api/invitations/%s/decline", code), nil, nil); err != nil {
		return fmt.Errorf("decline invitation: %w", err)
	}
	return nil
}
