package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/garnizeh/fieldops/pkg/models"
)

func (r *SQLiteRepo) SaveEvidence(ctx context.Context, rec *models.EvidenceRecord) error {
	if rec == nil || rec.Evidence.ID == "" {
		return fmt.Errorf("evidence id is required")
	}
	ev := rec.Evidence
	var value any
	if ev.Value != nil {
		value = *ev.Value
	}
	_, err := r.conn.Exec(ctx,
		`INSERT INTO evidence (id, work_order_id, item_id, kind, content_type, payload, object_key, value, unit, captured_at, synced, created) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, ?)`,
		ev.ID, rec.WorkOrderID, rec.ItemID, string(ev.Kind), ev.ContentType, ev.Payload, ev.ObjectKey, value, ev.Unit, toMillis(ev.CapturedAt), now())
	if err != nil {
		return fmt.Errorf("insert evidence: %w", err)
	}
	return nil
}

func (r *SQLiteRepo) GetEvidence(ctx context.Context, id string) (*models.EvidenceRecord, error) {
	row := r.conn.QueryRow(ctx,
		`SELECT id, work_order_id, item_id, kind, content_type, payload, object_key, value, unit, captured_at, synced FROM evidence WHERE id = ?`, id)
	var (
		rec         models.EvidenceRecord
		kind        string
		contentType sql.NullString
		objectKey   sql.NullString
		value       sql.NullFloat64
		unit        sql.NullString
		captured    int64
		synced      int
	)
	if err := row.Scan(&rec.Evidence.ID, &rec.WorkOrderID, &rec.ItemID, &kind, &contentType, &rec.Evidence.Payload, &objectKey, &value, &unit, &captured, &synced); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	rec.Evidence.Kind = models.EvidenceKind(kind)
	rec.Evidence.ContentType = contentType.String
	rec.Evidence.ObjectKey = objectKey.String
	rec.Evidence.Unit = unit.String
	if value.Valid {
		v := value.Float64
		rec.Evidence.Value = &v
	}
	rec.Evidence.CapturedAt = fromMillis(captured)
	rec.Synced = synced == 1
	return &rec, nil
}

func (r *SQLiteRepo) SetEvidenceObjectKey(ctx context.Context, id, objectKey string) error {
	_, err := r.conn.Exec(ctx, `UPDATE evidence SET object_key = ? WHERE id = ?`, objectKey, id)
	return err
}

func (r *SQLiteRepo) MarkEvidenceSynced(ctx context.Context, id string) error {
	_, err := r.conn.Exec(ctx, `UPDATE evidence SET synced = 1 WHERE id = ?`, id)
	return err
}

func (r *SQLiteRepo) DeleteUnsyncedEvidence(ctx context.Context) (int64, error) {
	res, err := r.conn.Exec(ctx, `DELETE FROM evidence WHERE synced = 0`)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
