package daemon

import (
	"github.com/matheus3301/wallwatch/internal/config"
	"github.com/matheus3301/wallwatch/internal/fetch"
	"github.com/matheus3301/wallwatch/internal/remote"
	intsync "github.com/matheus3301/wallwatch/internal/sync"
	"github.com/matheus3301/wallwatch/internal/watch"
)

func managerOptions(w config.WatcherConfig) watch.Options {
	return watch.Options{
		Cadence: watch.CadenceConfig{
			BaseShort:      w.BaseShortPeriod.Duration,
			BaseLong:       w.BaseLongPeriod.Duration,
			ShortIncrement: w.ShortPeriodIncrement.Duration,
			LongIncrement:  w.LongPeriodIncrement.Duration,
			MaxShort:       w.MaxShortPeriod.Duration,
			MaxLong:        w.MaxLongPeriod.Duration,
		},
		Fetch: fetch.Config{
			MaxPageSize:        w.MaxPageSize,
			ReconnectionWindow: w.ReconnectionWindow.Duration,
			RetryDelay:         w.RetryDelay.Duration,
			APIAttempts:        w.APIAttempts,
		},
		FirstPageSize: w.FirstPageSize,
		CountOffset:   w.CountOffset,
	}
}

func specFromConfig(wc config.WatchConfig) watch.Spec {
	return watch.Spec{
		WallID:       wc.WallID,
		WatchEditing: wc.WatchEditing,
		Window:       window(wc.Window),
		ShortWindow:  window(wc.ShortWindow),
	}
}

func window(w config.WindowConfig) intsync.Window {
	return intsync.Window{Period: w.Period.Duration, Limit: w.Limit}
}

func remoteConfig(s config.SourceConfig) remote.Config {
	return remote.Config{BaseURL: s.BaseURL, Token: s.Token, Timeout: s.Timeout.Duration}
}
