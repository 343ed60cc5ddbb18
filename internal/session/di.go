package session

import (
	"context"
	"time"

	"github.com/samber/do/v2"

	"github.com/pcider/printbot/internal/repository"
)

const loadTimeout = 15 * time.Second

func RegisterDI(injector do.Injector) {
	do.Provide(injector, func(i do.Injector) (*Store, error) {
		persister := do.MustInvoke[repository.Persister](i)
		store := NewStore(persister)

		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		store.Load(ctx)
		return store, nil
	})
}
