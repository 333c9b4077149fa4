package shapley

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/malbeclabs/doublezero-offchain/pkg/runner"
)

// proportionTolerance is the allowed drift on the sum of aggregated
// proportions.
const proportionTolerance = 1e-9

// Orchestrator groups demands by origin city, fans the kernel out over
// cities, and folds the per-city outputs into a single distribution
// using the city weights.
type Orchestrator struct {
	log         *slog.Logger
	kernel      Kernel
	concurrency int
}

func NewOrchestrator(log *slog.Logger, kernel Kernel, concurrency int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Orchestrator{log: log, kernel: kernel, concurrency: concurrency}
}

// Compute runs the per-city kernels in parallel and aggregates. If any
// city's kernel fails the whole computation fails, naming the city.
func (o *Orchestrator) Compute(ctx context.Context, inputs *Inputs, settings Settings) (*Result, error) {
	demandsByCity := make(map[string][]Demand)
	for _, demand := range inputs.Demands {
		demandsByCity[demand.Start] = append(demandsByCity[demand.Start], demand)
	}
	cities := make([]string, 0, len(demandsByCity))
	for city := range demandsByCity {
		cities = append(cities, city)
	}
	sort.Strings(cities)

	type cityOutput struct {
		city   string
		values []OperatorValue
	}
	outputs, err := runner.Map(ctx, o.concurrency, cities, func(ctx context.Context, city string) (cityOutput, error) {
		values, err := o.kernel.Compute(KernelInput{
			PrivateLinks: inputs.PrivateLinks,
			Devices:      inputs.Devices,
			Demands:      demandsByCity[city],
			PublicLinks:  inputs.PublicLinks,
			Settings:     settings,
		})
		if err != nil {
			return cityOutput{}, fmt.Errorf("failed to compute Shapley values for %s: %w", city, err)
		}
		o.log.Debug("Shapley city computed", "city", city, "operators", len(values))
		return cityOutput{city: city, values: values}, nil
	})
	if err != nil {
		return nil, err
	}

	result := &Result{
		PerCity:    make(map[string][]OperatorValue, len(outputs)),
		Aggregated: make(map[string]AggregatedValue),
	}
	for _, output := range outputs {
		result.PerCity[output.city] = output.values
	}

	// Stake-weighted aggregation across cities.
	totals := make(map[string]float64)
	for city, values := range result.PerCity {
		weight := inputs.CityWeights[city]
		for _, value := range values {
			totals[value.Operator] += weight * value.Value
		}
	}
	var grandTotal float64
	for _, v := range totals {
		grandTotal += v
	}
	for operator, value := range totals {
		var proportion float64
		if grandTotal > 0 {
			proportion = value / grandTotal
		}
		result.Aggregated[operator] = AggregatedValue{Value: value, Proportion: proportion}
	}

	if len(result.Aggregated) > 0 && grandTotal > 0 {
		var sum float64
		for _, v := range result.Aggregated {
			sum += v.Proportion
		}
		if math.Abs(sum-1) > proportionTolerance {
			return nil, fmt.Errorf("aggregated proportions sum to %.12f, want 1", sum)
		}
	}

	o.log.Info("Shapley computation complete",
		"cities", len(result.PerCity), "operators", len(result.Aggregated))
	return result, nil
}
