package loader

import (
	"context"

	"github.com/pkg/errors"

	"github.com/Ramsey-B/balsam/pkg/models"
)

// Static serves records already in memory, keyed by side. The path is ignored.
type Static map[models.Side][]models.RawRecord

func (s Static) Load(_ context.Context, side models.Side, _ string) ([]models.RawRecord, error) {
	records, ok := s[side]
	if !ok {
		return nil, errors.Errorf("no %s records loaded", side)
	}
	return records, nil
}
