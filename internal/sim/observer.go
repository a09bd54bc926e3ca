package sim

import "github.com/atmx/risk-engine/internal/model"

// Observer receives progress snapshots at batch boundaries. It is called
// while the reduction lock is held and must not block.
type Observer func(model.Snapshot)

// Notify delivers s to obs if obs is set.
func Notify(obs Observer, s model.Snapshot) {
	if obs != nil {
		obs(s)
	}
}

// ChannelObserver forwards snapshots to ch, dropping them when ch is full.
func ChannelObserver(ch chan<- model.Snapshot) Observer {
	return func(s model.Snapshot) {
		select {
		case ch <- s:
		default:
		}
	}
}

// Tee fans a snapshot out to several observers.
func Tee(observers ...Observer) Observer {
	return func(s model.Snapshot) {
		for _, o := range observers {
			Notify(o, s)
		}
	}
}
