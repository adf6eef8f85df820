package hub

import "time"

// Options tunes per-connection transport behaviour and the hub loop.
type Options struct {
	SendBufferSize    int
	WriteTimeout      time.Duration
	PongTimeout       time.Duration
	PingInterval      time.Duration
	CleanupInterval   time.Duration
	MaxBroadcastBytes int64
}

func DefaultOptions() Options {
	return Options{
		SendBufferSize:    256,
		WriteTimeout:      10 * time.Second,
		PongTimeout:       60 * time.Second,
		PingInterval:      54 * time.Second,
		CleanupInterval:   30 * time.Second,
		MaxBroadcastBytes: 1 << 20,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = d.WriteTimeout
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = d.PongTimeout
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = d.CleanupInterval
	}
	if o.MaxBroadcastBytes <= 0 {
		o.MaxBroadcastBytes = d.MaxBroadcastBytes
	}
	return o
}
