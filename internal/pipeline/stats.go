package pipeline

import "sync/atomic"

// Stats counts what happened to utterances since the pipeline started.
type Stats struct {
	heard        atomic.Uint64
	local        atomic.Uint64
	remote       atomic.Uint64
	unknown      atomic.Uint64
	dispatched   atomic.Uint64
	sendFailures atomic.Uint64
	noise        atomic.Uint64
	outages      atomic.Uint64
}

type StatsSnapshot struct {
	Heard        uint64 `json:"heard"`
	Local        uint64 `json:"local"`
	Remote       uint64 `json:"remote"`
	Unknown      uint64 `json:"unknown"`
	Dispatched   uint64 `json:"dispatched"`
	SendFailures uint64 `json:"send_failures"`
	Noise        uint64 `json:"noise"`
	Outages      uint64 `json:"outages"`
}

func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		Heard:        s.heard.Load(),
		Local:        s.local.Load(),
		Remote:       s.remote.Load(),
		Unknown:      s.unknown.Load(),
		Dispatched:   s.dispatched.Load(),
		SendFailures: s.sendFailures.Load(),
		Noise:        s.noise.Load(),
		Outages:      s.outages.Load(),
	}
}
