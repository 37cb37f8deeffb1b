package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/freshmart/api/internal/domain"
	pfirestore "github.com/freshmart/api/internal/platform/firestore"
	"github.com/freshmart/api/internal/repositories"
)

const contactsCollection = "contacts"

// DirectoryRepository resolves order participants to their contact records.
type DirectoryRepository struct {
	base *pfirestore.BaseRepository[contactDocument]
}

// NewDirectoryRepository constructs a Firestore-backed directory repository.
func NewDirectoryRepository(provider *pfirestore.Provider) (*DirectoryRepository, error) {
	if provider == nil {
		return nil, errors.New("directory repository requires firestore provider")
	}
	base := pfirestore.NewBaseRepository[contactDocument](provider, contactsCollection, nil, nil)
	return &DirectoryRepository{base: base}, nil
}

// FindContact loads the contact record for a participant ID.
func (r *DirectoryRepository) FindContact(ctx context.Context, participantID string) (domain.Contact, error) {
	if r == nil || r.base == nil {
		return domain.Contact{}, errors.New("directory repository not initialised")
	}
	pid := strings.TrimSpace(participantID)
	if pid == "" {
		return domain.Contact{}, errors.New("directory repository: participant id is required")
	}

	doc, err := r.base.Get(ctx, pid)
	if err != nil {
		return domain.Contact{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// FindAdmins returns every contact carrying the admin role.
func (r *DirectoryRepository) FindAdmins(ctx context.Context) ([]domain.Contact, error) {
	if r == nil || r.base == nil {
		return nil, errors.New("directory repository not initialised")
	}

	docs, err := r.base.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("roles", "array-contains", string(domain.RoleAdmin))
	})
	if err != nil {
		return nil, err
	}

	contacts := make([]domain.Contact, 0, len(docs))
	for _, doc := range docs {
		contacts = append(contacts, doc.Data.toDomain(doc.ID))
	}
	return contacts, nil
}

type contactDocument struct {
	Name  string   `firestore:"name"`
	Email string   `firestore:"email"`
	Roles []string `firestore:"roles"`
}

func (d contactDocument) toDomain(id string) domain.Contact {
	roles := make([]domain.ActorRole, 0, len(d.Roles))
	for _, role := range d.Roles {
		roles = append(roles, domain.ActorRole(role))
	}
	return domain.Contact{
		ID:    id,
		Name:  d.Name,
		Email: d.Email,
		Roles: roles,
	}
}

var _ repositories.DirectoryRepository = (*DirectoryRepository)(nil)
