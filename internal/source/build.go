package source

import (
	"trade-signal-pipeline/internal/config"
	"trade-signal-pipeline/internal/secrets"
)

// TechnicalFromConfig builds the enabled bar-driven adapters over bars.
func TechnicalFromConfig(c config.SourcesConfig, bars BarProvider) []Adapter {
	var out []Adapter
	if !c.Momentum.Disabled {
		out = append(out, NewMomentum(bars, c.Momentum.Period, c.Momentum.FullScalePct, c.BarLookback))
	}
	if !c.RSI.Disabled {
		out = append(out, NewRSI(bars, c.RSI.Period, c.BarLookback))
	}
	if !c.Trend.Disabled {
		out = append(out, NewTrend(bars, c.Trend.FastPeriod, c.Trend.SlowPeriod, c.BarLookback))
	}
	if !c.Volume.Disabled {
		out = append(out, NewVolume(bars, c.Volume.Period, c.Volume.SurgeRatio, c.BarLookback))
	}
	return out
}

// RemoteFromConfig builds the enabled HTTP adapters.
func RemoteFromConfig(c config.SourcesConfig, sp secrets.Provider) []Adapter {
	var out []Adapter
	for _, r := range []struct {
		id  string
		cfg config.RemoteConfig
	}{
		{SentimentID, c.Sentiment},
		{AnalysisID, c.Analysis},
	} {
		if !r.cfg.Enabled {
			continue
		}
		out = append(out, NewRemote(RemoteOptions{
			ID:            r.id,
			BaseURL:       r.cfg.BaseURL,
			SecretName:    r.cfg.SecretName,
			Secrets:       sp,
			RatePerSecond: r.cfg.RatePerSecond,
			Burst:         r.cfg.Burst,
		}))
	}
	return out
}
