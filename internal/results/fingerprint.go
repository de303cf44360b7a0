package results

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-kit/log/level"

	storeerrors "github.com/autosteer/autosteer/internal/errors"
)

// RegisterQueryFingerprint checks a result fingerprint against the one stored
// for the query. The first fingerprint is stored and accepted; later ones are
// accepted only if equal. A mismatch returns false and leaves the stored
// fingerprint untouched.
func (s *Store) RegisterQueryFingerprint(ctx context.Context, queryPath, fingerprint string) (match bool, err error) {
	defer s.metrics.Observe("register_fingerprint", time.Now(), &err)

	var stored sql.NullString
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		// Only fills a NULL fingerprint, so the first writer wins.
		if _, err := tx.ExecContext(ctx,
			"UPDATE queries SET result_fingerprint = ? WHERE query_path = ? AND result_fingerprint IS NULL",
			fingerprint, queryPath,
		); err != nil {
			return fmt.Errorf("results: failed to store fingerprint: %w", err)
		}

		err := tx.QueryRowContext(ctx, "SELECT result_fingerprint FROM queries WHERE query_path = ?", queryPath).Scan(&stored)
		if err == sql.ErrNoRows {
			return storeerrors.NewPrerequisiteError(storeerrors.CodeUnknownQuery,
				fmt.Sprintf("query %q is not registered", queryPath))
		}
		if err != nil {
			return fmt.Errorf("results: failed to read fingerprint: %w", err)
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	if stored.String != fingerprint {
		s.metrics.FingerprintMismatch()
		level.Warn(s.logger).Log("msg", "result fingerprint mismatch", "query", queryPath, "stored", stored.String, "got", fingerprint)
		return false, nil
	}
	return true, nil
}

// QueryFingerprint returns the stored fingerprint of a query; ok is false
// while none has been recorded.
func (s *Store) QueryFingerprint(ctx context.Context, queryPath string) (fingerprint string, ok bool, err error) {
	var stored sql.NullString
	err = s.readDB.QueryRowContext(ctx, "SELECT result_fingerprint FROM queries WHERE query_path = ?", queryPath).Scan(&stored)
	if err == sql.ErrNoRows {
		return "", false, storeerrors.NewPrerequisiteError(storeerrors.CodeUnknownQuery,
			fmt.Sprintf("query %q is not registered", queryPath))
	}
	if err != nil {
		return "", false, storeerrors.NewQueryError(storeerrors.CodeExecutionFailed, "failed to read fingerprint", err)
	}
	return stored.String, stored.Valid, nil
}
