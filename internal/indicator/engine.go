package indicator

import (
	"github.com/moznion/go-optional"

	"github.com/marlinquant/marlin-trading/internal/types"
	"github.com/marlinquant/marlin-trading/pkg/errors"
)

// DefaultHistoryDepth is the trailing history kept per indicator. Crossover
// rules only need the previous reading, so a short tail is enough.
const DefaultHistoryDepth = 8

type namedIndicator struct {
	name types.IndicatorType
	ind  Indicator
}

// Engine computes a full IndicatorSet from a bar window. Indicators are
// registered under role names so the same formula can serve several roles
// (e.g. a fast and a slow WMA). A failure in one indicator marks that value
// unavailable; the rest still compute.
type Engine struct {
	indicators   []namedIndicator
	byName       map[types.IndicatorType]Indicator
	historyDepth int
}

// NewEngine creates an indicator engine keeping historyDepth trailing values.
func NewEngine(historyDepth int) *Engine {
	if historyDepth <= 0 {
		historyDepth = DefaultHistoryDepth
	}

	return &Engine{
		indicators:   nil,
		byName:       make(map[types.IndicatorType]Indicator),
		historyDepth: historyDepth,
	}
}

// Register adds an indicator under the given role name.
func (e *Engine) Register(name types.IndicatorType, ind Indicator) error {
	if _, exists := e.byName[name]; exists {
		return errors.Newf(errors.ErrCodeIndicatorAlreadyExists, "indicator %s already registered", name)
	}

	e.byName[name] = ind
	e.indicators = append(e.indicators, namedIndicator{name: name, ind: ind})

	return nil
}

// Names returns the registered role names in registration order.
func (e *Engine) Names() []types.IndicatorType {
	names := make([]types.IndicatorType, 0, len(e.indicators))
	for _, ni := range e.indicators {
		names = append(names, ni.name)
	}

	return names
}

// Compute derives all registered indicators from the window. The trailing
// history for each indicator is rebuilt from successive sub-windows ending
// at each of the last historyDepth bars, so the set is a pure function of
// the window and never drifts from partial updates.
func (e *Engine) Compute(window []types.Bar) (*types.IndicatorSet, error) {
	if len(window) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidWindow, "cannot compute indicators over an empty window")
	}

	last := window[len(window)-1]

	set := &types.IndicatorSet{
		Symbol:  last.Symbol,
		Time:    last.Time,
		Values:  make(map[types.IndicatorType]types.IndicatorValue, len(e.indicators)),
		History: make(map[types.IndicatorType][]float64, len(e.indicators)),
	}

	for _, ni := range e.indicators {
		set.Values[ni.name] = e.computeLatest(ni, window)
		set.History[ni.name] = e.computeHistory(ni, window)
	}

	return set, nil
}

func (e *Engine) computeLatest(ni namedIndicator, window []types.Bar) types.IndicatorValue {
	value, err := ni.ind.Compute(window)
	if err != nil {
		return types.IndicatorValue{Name: ni.name, Value: optional.None[float64]()}
	}

	return types.IndicatorValue{Name: ni.name, Value: optional.Some(value)}
}

func (e *Engine) computeHistory(ni namedIndicator, window []types.Bar) []float64 {
	depth := e.historyDepth
	if depth > len(window) {
		depth = len(window)
	}

	history := make([]float64, 0, depth)

	for i := len(window) - depth; i < len(window); i++ {
		value, err := ni.ind.Compute(window[:i+1])
		if err != nil {
			continue
		}

		history = append(history, value)
	}

	return history
}
