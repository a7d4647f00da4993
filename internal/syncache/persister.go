package syncache

import (
	"context"

	"github.com/saixiaoxi/sipstop/internal/models"
)

// Persister is one storage tier for a collection.
type Persister[T models.Record[T]] interface {
	Load(ctx context.Context) ([]T, error)
	Create(ctx context.Context, record T) (T, error)
	Update(ctx context.Context, record T) (T, error)
	Delete(ctx context.Context, id int) error
}

// Tier names the persister that committed a mutation.
type Tier string

const (
	TierRemote Tier = "remote"
	TierLocal  Tier = "local"
)
