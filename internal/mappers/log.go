package mappers

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/jonathan/ats-sync/internal/logging"
)

func logger(ctx context.Context) *zerolog.Logger {
	l := logging.Ctx(ctx).With().Str("component", "mappers").Logger()
	return &l
}
