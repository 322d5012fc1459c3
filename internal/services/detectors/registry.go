package detectors

import (
	"fmt"
	"sort"

	"SignalGate/internal/domain/models"
	"SignalGate/pkg/config"
)

// Factory builds a detector from the detectors section of the config.
type Factory func(cfg config.DetectorsConfig, opts ...Option) Detector

var registry = map[string]Factory{
	models.AlgorithmOrderFlow: func(cfg config.DetectorsConfig, opts ...Option) Detector {
		return NewOrderFlow(cfg.OrderFlow, cfg.HistorySize, opts...)
	},
	models.AlgorithmLiquidity: func(cfg config.DetectorsConfig, opts ...Option) Detector {
		return NewLiquidity(cfg.Liquidity, cfg.HistorySize, opts...)
	},
	models.AlgorithmVolumePrice: func(cfg config.DetectorsConfig, opts ...Option) Detector {
		return NewVolumePrice(cfg.VolumePrice, cfg.HistorySize, opts...)
	},
}

// Available lists the registered detector names in sorted order.
func Available() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Set is the group of detectors enabled for one symbol, split by the samples they consume.
type Set struct {
	All       []Detector
	Trades    []TradeConsumer
	Liquidity []LiquidityConsumer
	PriceVol  []PriceVolumeConsumer
}

// Build instantiates the enabled detectors in the configured order. opts apply to every detector.
func Build(cfg config.DetectorsConfig, opts ...Option) (*Set, error) {
	s := &Set{}
	seen := make(map[string]bool, len(cfg.Enabled))
	for _, name := range cfg.Enabled {
		if seen[name] {
			continue
		}
		seen[name] = true

		factory, ok := registry[name]
		if !ok {
			return nil, fmt.Errorf("unknown detector %q (available: %v)", name, Available())
		}
		d := factory(cfg, opts...)
		s.All = append(s.All, d)
		if c, ok := d.(TradeConsumer); ok {
			s.Trades = append(s.Trades, c)
		}
		if c, ok := d.(LiquidityConsumer); ok {
			s.Liquidity = append(s.Liquidity, c)
		}
		if c, ok := d.(PriceVolumeConsumer); ok {
			s.PriceVol = append(s.PriceVol, c)
		}
	}
	return s, nil
}

// Find returns the detector with the given name.
func (s *Set) Find(name string) (Detector, bool) {
	for _, d := range s.All {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Consumers returns the detectors fed by the given sample stream.
func (s *Set) Consumers(stream models.Stream) []Detector {
	var out []Detector
	for _, d := range s.All {
		var ok bool
		switch stream {
		case models.StreamTrades:
			_, ok = d.(TradeConsumer)
		case models.StreamLiquidity:
			_, ok = d.(LiquidityConsumer)
		case models.StreamPrices, models.StreamVolumes:
			_, ok = d.(PriceVolumeConsumer)
		}
		if ok {
			out = append(out, d)
		}
	}
	return out
}
