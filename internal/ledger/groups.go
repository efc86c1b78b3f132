package ledger

import (
	"context"
	"strings"

	"github.com/mmynk/splitledger/internal/apperr"
	"github.com/mmynk/splitledger/internal/audit"
	"github.com/mmynk/splitledger/internal/id"
	"github.com/mmynk/splitledger/internal/models"
	"github.com/mmynk/splitledger/internal/storage"
)

// CreateGroup registers a group with its members in join order. Group
// management belongs to another service; this exists for operator tooling
// and tests. The creation is audited.
func (s *Service) CreateGroup(ctx context.Context, actor Actor, name string, members []string) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}
	if len(members) == 0 {
		return nil, apperr.Validation("group must have at least one member")
	}
	seen := make(map[string]bool, len(members))
	for _, m := range members {
		if m == "" {
			return nil, apperr.Validation("member id cannot be empty")
		}
		if seen[m] {
			return nil, apperr.Validation("duplicate member %s", m)
		}
		seen[m] = true
	}

	group := &models.Group{
		ID:        id.NewGroup(),
		Name:      name,
		Members:   members,
		CreatedAt: s.now().Unix(),
	}
	err := s.store.WithTx(ctx, func(tx storage.Tx) error {
		if err := tx.CreateGroup(ctx, group); err != nil {
			return apperr.Persistence(err, "failed to create group")
		}
		_, err := s.record(ctx, tx, actor, group.ID, audit.TargetGroup, group.ID, audit.GroupCreated{
			Name:    group.Name,
			Members: group.Members,
		})
		return err
	})
	if err != nil {
		if !apperr.Tagged(err) {
			err = apperr.Persistence(err, "failed to create group")
		}
		return nil, err
	}

	s.logger.Info("group created", "group_id", group.ID, "members_count", len(group.Members))
	return group, nil
}

// GetGroup returns a group the actor belongs to.
func (s *Service) GetGroup(ctx context.Context, actor Actor, groupID string) (*models.Group, error) {
	return loadGroup(ctx, s.store, groupID, actor.UserID)
}
