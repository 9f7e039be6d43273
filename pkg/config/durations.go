package config

import "time"

func hz(rate int) time.Duration {
	return time.Second / time.Duration(rate)
}

func (c LinkConfig) ConnectTimeout() time.Duration {
	return time.Duration(c.ConnectTimeoutMs) * time.Millisecond
}

func (c LinkConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

func (c LinkConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalMs) * time.Millisecond
}

func (c LinkConfig) TelemetryInterval() time.Duration { return hz(c.TelemetryHz) }

func (c InputConfig) PollInterval() time.Duration { return hz(c.PollHz) }

func (c DispatchConfig) Interval() time.Duration { return hz(c.RateHz) }
