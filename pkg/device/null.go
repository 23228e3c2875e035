package device

import "context"

// NullDriver is used when no driver is attached. Every hand-off fails, so
// commands end up failed instead of waiting forever.
type NullDriver struct{}

// NewNullDriver creates a new NullDriver.
func NewNullDriver() *NullDriver {
	return &NullDriver{}
}

func (NullDriver) Execute(ctx context.Context, rec *CommandRecord) error {
	return ErrNotConnected
}

// NullStore keeps nothing. It lets the core run without persistence.
type NullStore struct{}

func (NullStore) LoadRecentStates(ctx context.Context, deviceID string, limit int) ([]*StateEntry, error) {
	return nil, nil
}

func (NullStore) LoadRecentCommands(ctx context.Context, deviceID string, limit int) ([]*CommandRecord, error) {
	return nil, nil
}

func (NullStore) UpsertCommand(ctx context.Context, rec *CommandRecord) error { return nil }

func (NullStore) UpsertState(ctx context.Context, entry *StateEntry) error { return nil }
