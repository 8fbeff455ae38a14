package loader

import (
	"os"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	apperrors "github.com/Ramsey-B/balsam/pkg/errors"
	"github.com/Ramsey-B/balsam/pkg/models"
)

// LoadModel reads a processing model from a YAML (or JSON) file and validates it.
func LoadModel(path string) (*models.ProcessingModel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read model file %s", path)
	}
	return ParseModel(data)
}

func ParseModel(data []byte) (*models.ProcessingModel, error) {
	var model models.ProcessingModel
	if err := yaml.Unmarshal(data, &model); err != nil {
		return nil, apperrors.NewConfigurationError("", "could not parse model: %s", err.Error())
	}
	if err := model.Validate(); err != nil {
		return nil, err
	}
	return &model, nil
}

type thresholdFile struct {
	Thresholds []struct {
		OwnerCode     string `yaml:"owner_code"`
		OperationType string `yaml:"operation_type"`
		Amount        string `yaml:"amount"`
	} `yaml:"thresholds"`
}

// LoadThresholds reads a threshold list from a YAML file. Amounts are decimal strings.
func LoadThresholds(path string) ([]models.Threshold, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read threshold file %s", path)
	}
	return ParseThresholds(data)
}

func ParseThresholds(data []byte) ([]models.Threshold, error) {
	var file thresholdFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, apperrors.NewConfigurationError("thresholds", "could not parse thresholds: %s", err.Error())
	}

	out := make([]models.Threshold, 0, len(file.Thresholds))
	for i, row := range file.Thresholds {
		amount, err := decimal.NewFromString(row.Amount)
		if err != nil {
			return nil, apperrors.NewConfigurationError("thresholds", "entry %d: invalid amount %q", i, row.Amount)
		}
		out = append(out, models.Threshold{
			OwnerCode:     row.OwnerCode,
			OperationType: row.OperationType,
			Amount:        amount,
		})
	}
	return out, nil
}
