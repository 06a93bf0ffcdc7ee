package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/ralphx/ralphx/internal/domain"
	"github.com/ralphx/ralphx/pkg/apperrors"
)

func toCredential(m *credentialModel) *domain.Credential {
	return &domain.Credential{
		AccountID: m.AccountID, ProjectDir: m.ProjectDir,
		AccessToken: m.AccessToken, RefreshToken: m.RefreshToken,
		ExpiresAt: m.ExpiresAt, UpdatedAt: m.UpdatedAt,
	}
}

// UpsertCredential inserts or replaces the token record for (accountID,
// projectDir). projectDir empty denotes the global-scope record.
func (s *Store) UpsertCredential(ctx context.Context, cred *domain.Credential) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	now := time.Now().UTC()
	m := &credentialModel{
		AccountID: cred.AccountID, ProjectDir: cred.ProjectDir,
		AccessToken: cred.AccessToken, RefreshToken: cred.RefreshToken,
		ExpiresAt: cred.ExpiresAt, UpdatedAt: now,
	}
	err := s.db.WithContext(ctx).
		Where("account_id = ? AND project_dir = ?", m.AccountID, m.ProjectDir).
		Assign(map[string]any{
			"access_token": m.AccessToken, "refresh_token": m.RefreshToken,
			"expires_at": m.ExpiresAt, "updated_at": m.UpdatedAt,
		}).
		FirstOrCreate(m).Error
	if err != nil {
		return apperrors.NewInternalErrorWithCause("upsert credential", err)
	}
	return nil
}

// FindCredential looks up the most specific record for accountID: the
// project-scope row first, falling back to the global-scope row. Returns
// (nil, nil) when neither exists.
func (s *Store) FindCredential(ctx context.Context, accountID, projectDir string) (*domain.Credential, error) {
	if projectDir != "" {
		var m credentialModel
		err := s.db.WithContext(ctx).First(&m, "account_id = ? AND project_dir = ?", accountID, projectDir).Error
		if err == nil {
			return toCredential(&m), nil
		}
		if err != gorm.ErrRecordNotFound {
			return nil, apperrors.NewInternalErrorWithCause("find project credential", err)
		}
	}

	var m credentialModel
	err := s.db.WithContext(ctx).First(&m, "account_id = ? AND project_dir = ?", accountID, "").Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewInternalErrorWithCause("find global credential", err)
	}
	return toCredential(&m), nil
}

// ListCredentials returns every stored credential record — used by the
// background refresh task to find candidates nearing expiry.
func (s *Store) ListCredentials(ctx context.Context) ([]*domain.Credential, error) {
	var rows []credentialModel
	if err := s.db.WithContext(ctx).Find(&rows).Error; err != nil {
		return nil, apperrors.NewInternalErrorWithCause("list credentials", err)
	}
	creds := make([]*domain.Credential, len(rows))
	for i := range rows {
		creds[i] = toCredential(&rows[i])
	}
	return creds, nil
}
