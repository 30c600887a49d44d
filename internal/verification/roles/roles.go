// Package roles maps membership tiers to chat roles and swaps a member's
// verification role.
package roles

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	dErrors "qrverify/pkg/domain-errors"
)

// Role names granted by verification.
const (
	RoleMEGAvoter = "MEGAvoter"
	RolePatron    = "Patron"
)

// managed is the fixed set of roles verification owns, in removal order.
var managed = []string{RoleMEGAvoter, RolePatron}

// ErrUnmappedTier is returned when a tier has no role.
var ErrUnmappedTier = dErrors.New(dErrors.CodeInvalidInput, "membership tier has no role")

// RoleForTier returns the role for a tier. Only pioneer and patron map.
func RoleForTier(tier string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case "pioneer":
		return RoleMEGAvoter, true
	case "patron":
		return RolePatron, true
	default:
		return "", false
	}
}

// Member identifies a guild member.
type Member struct {
	GuildID string
	UserID  string
}

// Grant describes what the granter did.
type Grant struct {
	RoleName    string
	AlreadyHeld bool
}

// Granter gives a member the role for their tier.
type Granter interface {
	Grant(ctx context.Context, member Member, tier string) (Grant, error)
}

// RoleStore reads and mutates a member's roles on the chat platform by id.
type RoleStore interface {
	MemberRoles(ctx context.Context, member Member) ([]string, error)
	AddRole(ctx context.Context, member Member, roleID string) error
	RemoveRole(ctx context.Context, member Member, roleID string) error
}

// Assigner implements Granter over a RoleStore and configured role ids.
type Assigner struct {
	store   RoleStore
	roleIDs map[string]string
	logger  *slog.Logger
}

// NewAssigner creates an Assigner. roleIDs maps role names to platform ids.
func NewAssigner(store RoleStore, roleIDs map[string]string, logger *slog.Logger) *Assigner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Assigner{store: store, roleIDs: roleIDs, logger: logger}
}

// Grant removes the other managed role and adds the target. A member who
// already holds the target is left untouched.
func (a *Assigner) Grant(ctx context.Context, member Member, tier string) (Grant, error) {
	name, ok := RoleForTier(tier)
	if !ok {
		return Grant{}, ErrUnmappedTier
	}
	targetID := a.roleIDs[name]
	if targetID == "" {
		return Grant{}, dErrors.New(dErrors.CodeInternal, fmt.Sprintf("role %s is not configured", name))
	}

	current, err := a.store.MemberRoles(ctx, member)
	if err != nil {
		return Grant{}, fmt.Errorf("load member roles: %w", err)
	}
	if slices.Contains(current, targetID) {
		return Grant{RoleName: name, AlreadyHeld: true}, nil
	}

	for _, other := range managed {
		otherID := a.roleIDs[other]
		if other == name || otherID == "" || !slices.Contains(current, otherID) {
			continue
		}
		if err := a.store.RemoveRole(ctx, member, otherID); err != nil {
			return Grant{}, fmt.Errorf("remove role %s: %w", other, err)
		}
		a.logger.InfoContext(ctx, "removed role", "user_id", member.UserID, "role", other)
	}

	if err := a.store.AddRole(ctx, member, targetID); err != nil {
		return Grant{}, fmt.Errorf("add role %s: %w", name, err)
	}
	a.logger.InfoContext(ctx, "assigned role", "user_id", member.UserID, "role", name)
	return Grant{RoleName: name}, nil
}
