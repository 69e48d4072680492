package challenges

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/tgfleet/internal/common"
	"github.com/dmitrijs2005/tgfleet/internal/cryptox"
	"github.com/dmitrijs2005/tgfleet/internal/dbx"
	"github.com/dmitrijs2005/tgfleet/internal/engine/models"
)

type SQLRepository struct {
	db      dbx.DBTX
	dialect dbx.Dialect
	sealer  cryptox.Sealer
}

func NewSQLRepository(db dbx.DBTX, d dbx.Dialect, s cryptox.Sealer) *SQLRepository {
	return &SQLRepository{db: db, dialect: d, sealer: s}
}

func (r *SQLRepository) Put(ctx context.Context, c *models.Challenge) error {
	sealed, err := r.sealer.Seal([]byte(c.PhoneCodeHash))
	if err != nil {
		return fmt.Errorf("seal code hash: %w", err)
	}
	c.KeyVersion = r.sealer.Current()

	query := r.dialect.Rebind(`INSERT INTO challenges (account_id, stage, code_hash, key_version, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			stage = excluded.stage, code_hash = excluded.code_hash, key_version = excluded.key_version,
			expires_at = excluded.expires_at, created_at = excluded.created_at`)

	_, err = r.db.ExecContext(ctx, query,
		c.AccountID, string(c.Stage), sealed, int64(c.KeyVersion), dbx.Nanos(c.ExpiresAt), dbx.Nanos(c.CreatedAt))
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *SQLRepository) Get(ctx context.Context, accountID string) (*models.Challenge, error) {
	query := r.dialect.Rebind(`SELECT stage, code_hash, key_version, expires_at, created_at FROM challenges WHERE account_id = ?`)

	var (
		c                  = &models.Challenge{AccountID: accountID}
		stage              string
		sealed             []byte
		version            int64
		expires, createdAt int64
	)
	err := r.db.QueryRowContext(ctx, query, accountID).Scan(&stage, &sealed, &version, &expires, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	plain, err := r.sealer.Open(sealed)
	if err != nil {
		return nil, fmt.Errorf("challenge %s: %w", accountID, err)
	}
	c.PhoneCodeHash = string(plain)
	c.Stage = models.ChallengeStage(stage)
	c.KeyVersion = uint32(version)
	c.ExpiresAt = dbx.Time(expires)
	c.CreatedAt = dbx.Time(createdAt)
	return c, nil
}

func (r *SQLRepository) Delete(ctx context.Context, accountID string) error {
	query := r.dialect.Rebind(`DELETE FROM challenges WHERE account_id = ?`)

	if _, err := r.db.ExecContext(ctx, query, accountID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
