package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mmynk/trustfirst/internal/models"
)

// GroupInput describes a new group. Members are found by email; the creator
// is always a member.
type GroupInput struct {
	Name         string   `validate:"required,max=100"`
	Description  string   `validate:"max=500"`
	CreatorID    string   `validate:"required"`
	MemberEmails []string `validate:"dive,email"`
}

func member(u *models.User) models.GroupMember {
	return models.GroupMember{UserID: u.ID, Name: u.DisplayName, Email: u.Email}
}

// CreateGroup creates a group. Unknown member emails fail with
// models.ErrNotFound.
func (f *Funding) CreateGroup(ctx context.Context, in GroupInput) (*models.Group, error) {
	if err := f.check(in); err != nil {
		return nil, err
	}
	creator, err := f.store.GetUserByID(ctx, in.CreatorID)
	if err != nil {
		return nil, fmt.Errorf("creator %s: %w", in.CreatorID, err)
	}

	group := &models.Group{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		CreatedBy:   creator.ID,
		Members:     []models.GroupMember{member(creator)},
	}
	seen := map[string]bool{creator.ID: true}
	for _, email := range in.MemberEmails {
		u, err := f.store.GetUserByEmail(ctx, normalizeEmail(email))
		if err != nil {
			return nil, fmt.Errorf("member %s: %w", email, err)
		}
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true
		group.Members = append(group.Members, member(u))
	}

	if err := f.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	slog.Info("Group created", "group_id", group.ID, "members_count", len(group.Members))
	return group, nil
}

// GetGroup returns a group with its members.
func (f *Funding) GetGroup(ctx context.Context, id string) (*models.Group, error) {
	return f.store.GetGroup(ctx, id)
}

// ListGroupsForUser returns the groups the user belongs to.
func (f *Funding) ListGroupsForUser(ctx context.Context, userID string) ([]*models.Group, error) {
	return f.store.ListGroupsForUser(ctx, userID)
}

// AddMember adds the user with the given email. Only existing members may
// add others.
func (f *Funding) AddMember(ctx context.Context, groupID, requestorID, email string) (*models.Group, error) {
	group, err := f.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(requestorID) {
		return nil, fmt.Errorf("group %s: user %s is not a member: %w", groupID, requestorID, models.ErrForbidden)
	}
	u, err := f.store.GetUserByEmail(ctx, normalizeEmail(email))
	if err != nil {
		return nil, fmt.Errorf("member %s: %w", email, err)
	}
	if err := f.store.AddGroupMember(ctx, groupID, member(u)); err != nil {
		return nil, err
	}
	slog.Info("Group member added", "group_id", groupID, "user_id", u.ID)
	return f.store.GetGroup(ctx, groupID)
}
