// Package keys derives reconciliation keys from canonical records.
package keys

import (
	"strings"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
)

// Separator joins key parts. It is the ASCII unit separator, which does not occur in
// feed data, so ("AB","C") and ("A","BC") produce different keys.
const Separator = "\x1f"

// Extract builds the key for record from the model's key columns.
// A missing key column yields an *errors.InvalidKeyError.
func Extract(record models.CanonicalRecord, model *models.ProcessingModel) (models.ReconciliationKey, error) {
	return ExtractColumns(record, model.KeyColumns)
}

func ExtractColumns(record models.CanonicalRecord, columns []string) (models.ReconciliationKey, error) {
	if len(columns) == 0 {
		return "", apperrors.NewInvalidKeyError("")
	}

	parts := make([]string, len(columns))
	for i, col := range columns {
		v, ok := record.Lookup(col)
		if !ok {
			return "", apperrors.NewInvalidKeyError(col)
		}
		parts[i] = v
	}
	return Join(parts...), nil
}

// Join builds a key from already-known parts, e.g. from an operator request.
func Join(parts ...string) models.ReconciliationKey {
	return models.ReconciliationKey(strings.Join(parts, Separator))
}

// Split returns the parts of a key.
func Split(key models.ReconciliationKey) []string {
	return strings.Split(string(key), Separator)
}

// Display renders a key for humans, e.g. in exports and logs.
func Display(key models.ReconciliationKey) string {
	return strings.ReplaceAll(string(key), Separator, " | ")
}
