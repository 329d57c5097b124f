package scheduling

import (
	"context"

	"github.com/google/uuid"
)

// ScheduleCache stores rendered schedules per doctor. Get reports the doctor's
// generation it read; Set must store under that generation, so an entry filled
// from data read before an Invalidate is never served after it.
type ScheduleCache interface {
	Get(ctx context.Context, doctorID uuid.UUID, key string) (value []byte, gen int64, ok bool, err error)
	Set(ctx context.Context, doctorID uuid.UUID, key string, gen int64, value []byte) error
	Invalidate(ctx context.Context, doctorID uuid.UUID) error
}

type noopCache struct{}

func (noopCache) Get(context.Context, uuid.UUID, string) ([]byte, int64, bool, error) {
	return nil, 0, false, nil
}

func (noopCache) Set(context.Context, uuid.UUID, string, int64, []byte) error { return nil }
func (noopCache) Invalidate(context.Context, uuid.UUID) error                 { return nil }
