package ceremony

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jordancrombie/bsim-sub002/internal/services/auth/storage"
)

// Credentials lists the principal's registered credentials in creation order.
func (s *Service) Credentials(ctx context.Context, principalID string) ([]storage.Credential, error) {
	principalID = strings.TrimSpace(principalID)
	if principalID == "" {
		return nil, fmt.Errorf("principal id is required")
	}
	if _, err := s.principals.GetPrincipal(ctx, principalID); err != nil {
		return nil, err
	}
	return s.credentials.ListCredentialsByPrincipal(ctx, principalID)
}

// RemoveCredential deletes one of the principal's credentials. Credentials
// owned by other principals are reported as not found.
func (s *Service) RemoveCredential(ctx context.Context, principalID, credentialID string) error {
	principalID = strings.TrimSpace(principalID)
	credentialID = strings.TrimSpace(credentialID)
	if principalID == "" || credentialID == "" {
		return fmt.Errorf("principal id and credential id are required")
	}
	record, err := s.credentials.GetCredential(ctx, credentialID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return ErrCredentialNotFound
		}
		return err
	}
	if record.PrincipalID != principalID {
		return ErrCredentialNotFound
	}
	return s.credentials.DeleteCredential(ctx, credentialID)
}
