package shapley

import (
	"container/heap"
	"fmt"
	"math/rand"
	"sort"
	"strings"
)

// maxExactOperators bounds the exact subset enumeration; beyond it the
// kernel falls back to deterministic permutation sampling.
const (
	maxExactOperators   = 12
	samplingPermutations = 20_000
)

// MarginalKernel computes per-operator Shapley values for one city's
// demand set. A coalition's worth is the reliability-weighted demand it
// can deliver over the private links owned by its members; the public
// internet contributes nothing, so operators are rewarded exactly for
// the delivery the network adds.
type MarginalKernel struct{}

// NewMarginalKernel returns the default kernel.
func NewMarginalKernel() *MarginalKernel {
	return &MarginalKernel{}
}

// deviceCity strips the two-digit counter off a CITY## label.
func deviceCity(label string) string {
	if len(label) <= 2 {
		return label
	}
	return strings.TrimRight(label, "0123456789")
}

type cityEdge struct {
	to          string
	reliability float64
	operators   map[string]bool
}

// coalitionGraph is the city-level reachability graph induced by the
// private links whose both endpoint devices belong to the coalition.
type coalitionGraph struct {
	edges map[string][]cityEdge
}

func buildGraph(input KernelInput, members map[string]bool) *coalitionGraph {
	deviceOperator := make(map[string]string, len(input.Devices))
	for _, device := range input.Devices {
		deviceOperator[device.Device] = device.Operator
	}
	g := &coalitionGraph{edges: make(map[string][]cityEdge)}
	for _, link := range input.PrivateLinks {
		if link.Uptime <= 0 {
			continue
		}
		op1, ok1 := deviceOperator[link.Device1]
		op2, ok2 := deviceOperator[link.Device2]
		if !ok1 || !ok2 || !members[op1] || !members[op2] {
			continue
		}
		reliability := link.Uptime * input.Settings.OperatorUptime
		if reliability <= 0 {
			continue
		}
		city1 := deviceCity(link.Device1)
		city2 := deviceCity(link.Device2)
		ops := map[string]bool{op1: true, op2: true}
		g.edges[city1] = append(g.edges[city1], cityEdge{to: city2, reliability: reliability, operators: ops})
		g.edges[city2] = append(g.edges[city2], cityEdge{to: city1, reliability: reliability, operators: ops})
	}
	return g
}

type pathItem struct {
	city        string
	reliability float64
}

type pathQueue []pathItem

func (q pathQueue) Len() int            { return len(q) }
func (q pathQueue) Less(i, j int) bool  { return q[i].reliability > q[j].reliability }
func (q pathQueue) Swap(i, j int)       { q[i], q[j] = q[j], q[i] }
func (q *pathQueue) Push(x any)         { *q = append(*q, x.(pathItem)) }
func (q *pathQueue) Pop() any {
	old := *q
	item := old[len(old)-1]
	*q = old[:len(old)-1]
	return item
}

// bestReliability is the maximum product of edge reliabilities over any
// path from origin to dest, or zero when unreachable.
func (g *coalitionGraph) bestReliability(origin, dest string) float64 {
	if origin == dest {
		return 1
	}
	best := map[string]float64{origin: 1}
	q := &pathQueue{{city: origin, reliability: 1}}
	for q.Len() > 0 {
		item := heap.Pop(q).(pathItem)
		if item.city == dest {
			return item.reliability
		}
		if item.reliability < best[item.city] {
			continue
		}
		for _, edge := range g.edges[item.city] {
			r := item.reliability * edge.reliability
			if r > best[edge.to] {
				best[edge.to] = r
				heap.Push(q, pathItem{city: edge.to, reliability: r})
			}
		}
	}
	return 0
}

// coalitionValue is the worth of a coalition: reliability-weighted
// deliverable demand, with the contiguity bonus for demands a single
// member could carry end to end.
func coalitionValue(input KernelInput, members map[string]bool, cache map[string]float64, key string) float64 {
	if v, ok := cache[key]; ok {
		return v
	}
	g := buildGraph(input, members)

	singleGraphs := make(map[string]*coalitionGraph, len(members))
	for op := range members {
		singleGraphs[op] = buildGraph(input, map[string]bool{op: true})
	}

	var total float64
	for _, demand := range input.Demands {
		reliability := g.bestReliability(demand.Start, demand.End)
		if reliability <= 0 {
			continue
		}
		value := demand.Traffic * demand.Priority * float64(demand.Receivers) * input.Settings.DemandMultiplier * reliability

		for _, sg := range singleGraphs {
			if sg.bestReliability(demand.Start, demand.End) >= reliability {
				value *= 1 + input.Settings.ContiguityBonus/100
				break
			}
		}
		total += value
	}
	cache[key] = total
	return total
}

func coalitionKey(operators []string, mask uint64) string {
	var sb strings.Builder
	for i, op := range operators {
		if mask&(1<<uint(i)) != 0 {
			sb.WriteString(op)
			sb.WriteByte('|')
		}
	}
	return sb.String()
}

func membersFromMask(operators []string, mask uint64) map[string]bool {
	members := make(map[string]bool)
	for i, op := range operators {
		if mask&(1<<uint(i)) != 0 {
			members[op] = true
		}
	}
	return members
}

// Compute returns each operator's Shapley value for the input's demand
// set. With up to maxExactOperators operators the computation is exact;
// beyond that it uses deterministic permutation sampling.
func (k *MarginalKernel) Compute(input KernelInput) ([]OperatorValue, error) {
	operatorSet := make(map[string]bool)
	for _, device := range input.Devices {
		if device.Operator == "" {
			return nil, fmt.Errorf("device %s has no operator", device.Device)
		}
		operatorSet[device.Operator] = true
	}
	operators := make([]string, 0, len(operatorSet))
	for op := range operatorSet {
		operators = append(operators, op)
	}
	sort.Strings(operators)
	if len(operators) == 0 {
		return nil, nil
	}

	values := make(map[string]float64, len(operators))
	cache := make(map[string]float64)

	if len(operators) <= maxExactOperators {
		n := len(operators)
		factorials := make([]float64, n+1)
		factorials[0] = 1
		for i := 1; i <= n; i++ {
			factorials[i] = factorials[i-1] * float64(i)
		}
		for mask := uint64(0); mask < 1<<uint(n); mask++ {
			size := 0
			for i := 0; i < n; i++ {
				if mask&(1<<uint(i)) != 0 {
					size++
				}
			}
			if size == n {
				// The grand coalition has no operator left to add.
				continue
			}
			base := coalitionValue(input, membersFromMask(operators, mask), cache, coalitionKey(operators, mask))
			weight := factorials[size] * factorials[n-size-1] / factorials[n]
			for i := 0; i < n; i++ {
				bit := uint64(1) << uint(i)
				if mask&bit != 0 {
					continue
				}
				with := coalitionValue(input, membersFromMask(operators, mask|bit), cache, coalitionKey(operators, mask|bit))
				values[operators[i]] += weight * (with - base)
			}
		}
	} else {
		// Deterministic sampling keeps the kernel pure for large
		// operator sets.
		rng := rand.New(rand.NewSource(1))
		perm := make([]string, len(operators))
		for sample := 0; sample < samplingPermutations; sample++ {
			copy(perm, operators)
			rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
			members := make(map[string]bool, len(perm))
			prev := 0.0
			var keyParts []string
			for _, op := range perm {
				members[op] = true
				keyParts = append(keyParts, op)
				sorted := append([]string(nil), keyParts...)
				sort.Strings(sorted)
				with := coalitionValue(input, members, cache, strings.Join(sorted, "|"))
				values[op] += (with - prev) / samplingPermutations
				prev = with
			}
		}
	}

	out := make([]OperatorValue, 0, len(operators))
	for _, op := range operators {
		out = append(out, OperatorValue{Operator: op, Value: values[op]})
	}
	return out, nil
}
