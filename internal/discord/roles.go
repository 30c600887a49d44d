package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"qrverify/internal/verification/roles"
)

// GuildMembers is the subset of the Discord REST API for member roles.
type GuildMembers interface {
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
	GuildMemberRoleAdd(guildID, userID, roleID string, options ...discordgo.RequestOption) error
	GuildMemberRoleRemove(guildID, userID, roleID string, options ...discordgo.RequestOption) error
}

// RoleStore implements roles.RoleStore against a guild.
type RoleStore struct {
	api GuildMembers
}

// NewRoleStore creates a RoleStore.
func NewRoleStore(api GuildMembers) *RoleStore {
	return &RoleStore{api: api}
}

func (s *RoleStore) MemberRoles(ctx context.Context, member roles.Member) ([]string, error) {
	m, err := s.api.GuildMember(member.GuildID, member.UserID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("fetch guild member %s: %w", member.UserID, err)
	}
	if m == nil {
		return nil, nil
	}
	return m.Roles, nil
}

func (s *RoleStore) AddRole(ctx context.Context, member roles.Member, roleID string) error {
	if err := s.api.GuildMemberRoleAdd(member.GuildID, member.UserID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("add role %s: %w", roleID, err)
	}
	return nil
}

func (s *RoleStore) RemoveRole(ctx context.Context, member roles.Member, roleID string) error {
	if err := s.api.GuildMemberRoleRemove(member.GuildID, member.UserID, roleID, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("remove role %s: %w", roleID, err)
	}
	return nil
}

var _ roles.RoleStore = (*RoleStore)(nil)
