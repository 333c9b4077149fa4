package worker

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
)

// DefaultOverridesPath is the legacy location of the exclusion file.
const DefaultOverridesPath = "/opt/doublezero-offchain-scheduler/overrides.csv"

// Override excludes one validator from debt collection for one epoch.
type Override struct {
	NodeID  string
	DZEpoch uint64
}

// LoadOverrides reads the (node_id, dz_epoch) exclusion CSV. A missing
// file yields no overrides; malformed rows are skipped.
func LoadOverrides(path string) ([]Override, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening overrides file %s: %w", path, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1

	var overrides []Override
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading overrides file %s: %w", path, err)
		}
		if len(row) < 2 {
			continue
		}
		epoch, err := strconv.ParseUint(row[1], 10, 64)
		if err != nil {
			continue
		}
		overrides = append(overrides, Override{NodeID: row[0], DZEpoch: epoch})
	}
	return overrides, nil
}

// IsOverridden reports whether the node is excluded for the epoch.
func IsOverridden(overrides []Override, nodeID string, epoch uint64) bool {
	for _, override := range overrides {
		if override.NodeID == nodeID && override.DZEpoch == epoch {
			return true
		}
	}
	return false
}
