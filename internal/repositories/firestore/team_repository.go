package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/oiy-sale/api/internal/domain"
	pfirestore "github.com/oiy-sale/api/internal/platform/firestore"
	"github.com/oiy-sale/api/internal/repositories"
)

// TeamRepository reads delivery team membership from the members
// subcollection under each team document.
type TeamRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.TeamRepository = (*TeamRepository)(nil)

func NewTeamRepository(provider *pfirestore.Provider) (*TeamRepository, error) {
	if provider == nil {
		return nil, errors.New("firestore provider is required")
	}
	return &TeamRepository{provider: provider}, nil
}

func (r *TeamRepository) FindMember(ctx context.Context, teamID, userID string) (domain.TeamMember, error) {
	if r == nil || r.provider == nil {
		return domain.TeamMember{}, errors.New("team repository not initialised")
	}
	teamID = strings.TrimSpace(teamID)
	userID = strings.TrimSpace(userID)
	if teamID == "" || userID == "" {
		return domain.TeamMember{}, errors.New("team member find: team id and user id are required")
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return domain.TeamMember{}, pfirestore.WrapError("teams.findMember", err)
	}

	snap, err := client.Collection(teamsCollection).Doc(teamID).Collection(teamMembersCollection).Doc(userID).Get(ctx)
	if err != nil {
		return domain.TeamMember{}, pfirestore.WrapError("teams.findMember", err)
	}
	var doc teamMemberDocument
	if err := snap.DataTo(&doc); err != nil {
		return domain.TeamMember{}, fmt.Errorf("decode team member %s/%s: %w", teamID, userID, err)
	}
	return doc.toDomain(teamID, userID), nil
}
