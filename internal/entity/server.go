package entity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// EnsureServer loads the server row for host and port, creating it on
// first run and migrating it to CurrentConfigVersion otherwise. Client
// name and the add-LEDs flag are refreshed from want.
//
// Parameters:
//   - ctx: Context for persistence
//   - repo: Entity repository
//   - want: Host, port, client name and add-LEDs flag from config
//
// Returns:
//   - *Server: The stored server row
//   - error: ErrUnsupportedVersion, or a persistence error
func EnsureServer(ctx context.Context, repo Repository, want Server, logger Logger) (*Server, error) {
	if logger == nil {
		logger = noopLogger{}
	}

	s, err := repo.GetServer(ctx, want.Host, want.Port)
	switch {
	case errors.Is(err, ErrServerNotFound):
		s = &Server{
			ID:            uuid.NewString(),
			UniqueID:      ServerUniqueID(want.Host, want.Port),
			Host:          want.Host,
			Port:          want.Port,
			ConfigVersion: CurrentConfigVersion,
		}
		logger.Info("registering openrgb server", "unique_id", s.UniqueID)
	case err != nil:
		return nil, fmt.Errorf("loading server: %w", err)
	default:
		from := s.ConfigVersion
		migrated, err := Migrate(s)
		if err != nil {
			return nil, err
		}
		if migrated {
			logger.Info("migrated server entry",
				"from_version", from,
				"to_version", s.ConfigVersion,
				"unique_id", s.UniqueID,
			)
		}
	}

	s.ClientName = want.ClientName
	s.AddLEDs = want.AddLEDs
	if err := repo.SaveServer(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}
