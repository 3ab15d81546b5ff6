package planning

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/thechetan9/SO-PatchPilot/internal/domain"
	"github.com/thechetan9/SO-PatchPilot/internal/engine"
	"gopkg.in/yaml.v3"
)

// LoadPlanFile читает план из YAML-файла и валидирует его.
func LoadPlanFile(path string) (*domain.Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	plan, err := ParsePlan(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return plan, nil
}

// ParsePlan разбирает план из YAML. Неизвестные поля — ошибка.
// JSON — подмножество YAML, поэтому JSON-файлы тоже принимаются.
func ParsePlan(data []byte) (*domain.Plan, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var plan domain.Plan
	if err := dec.Decode(&plan); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, engine.NewInvalidPlanError("plan", "is empty")
		}
		return nil, fmt.Errorf("%w: %v", engine.ErrInvalidPlan, err)
	}

	if err := engine.ValidatePlan(&plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

// MarshalPlan сериализует план в YAML.
func MarshalPlan(plan *domain.Plan) ([]byte, error) {
	return yaml.Marshal(plan)
}
