package loyalty

import (
	"context"
	"encoding/json"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Запись события в outbox той же транзакцией, что и изменение.
// Доставку вниз по течению делает отдельный ретранслятор.
func (d *LoyaltyDB) OutboxAppend(ctx context.Context, merchantID uuid.UUID, eventType string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	sql, args, err := sq.Insert("outbox").
		Columns("id", "merchant_id", "event_type", "payload", "created_at").
		Values(uuid.New(), merchantID, eventType, body, time.Now()).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return d.sqlErr(err, sql, args)
	}
	if _, err = d.q.Exec(ctx, sql, args...); err != nil {
		return d.sqlErr(err, sql, args)
	}
	return nil
}
