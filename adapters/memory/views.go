package memory

import (
	"context"

	"github.com/AshkanYarmoradi/go-fmodel/adapters"
)

// FetchView returns the view or ErrViewNotFound.
func (a *MemoryAdapter) FetchView(ctx context.Context, viewName, viewID string) (*adapters.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	record, ok := a.views[adapters.ViewKey{Name: viewName, ID: viewID}]
	if !ok {
		return nil, adapters.ErrViewNotFound
	}
	return &record, nil
}

// SaveView stores record if the current view token equals prior.
func (a *MemoryAdapter) SaveView(ctx context.Context, record adapters.ViewRecord, prior adapters.Version) (*adapters.ViewRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := adapters.ValidateView(record); err != nil {
		return nil, err
	}
	key := adapters.ViewKey{Name: record.ViewName, ID: record.ViewID}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil, adapters.ErrAdapterClosed
	}

	if err := adapters.CheckVersion(key.String(), prior, a.views[key].Version); err != nil {
		return nil, err
	}

	record.Version = adapters.NewToken()
	record.UpdatedAt = a.now()
	a.views[key] = record

	return &record, nil
}
