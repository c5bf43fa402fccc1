package application

import (
	"context"

	"vera-home/internal/domain"
	"vera-home/internal/infra/history"
)

// StateSink receives every accepted device update, in order. The snapshot's
// Alerts are only those carried by that update.
type StateSink interface {
	Name() string
	HandleState(ctx context.Context, snap domain.DeviceSnapshot) error
}

type ParamValidator interface {
	Validate(action domain.Action, params map[string]any) error
}

type CommandRecorder interface {
	RecordCommand(ctx context.Context, rec history.CommandRecord) error
}
