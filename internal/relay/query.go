package relay

// Status returns a consistent snapshot of the connection state.
func (r *Relay) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := Status{
		Connected:       r.state == StateConnected,
		State:           r.state,
		Endpoint:        r.cfg.Endpoint,
		SubscribedTopic: r.cfg.SubscribeTopic,
		PublishTopic:    r.cfg.PublishTopic,
		Subscribed:      r.subscribed,
		LastError:       r.lastError,
		Reconnects:      r.reconnects,
	}
	if !r.connectedSince.IsZero() {
		since := r.connectedSince
		status.ConnectedSince = &since
	}
	return status
}

// Connected reports whether the broker connection is up.
func (r *Relay) Connected() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state == StateConnected
}

// Latest pairs the most recent message with its classification.
// Found is false before the first frame arrives.
type Latest struct {
	Message Message
	Control bool
	Found   bool
}

// PeekLatest returns the most recently ingested message, control or not.
func (r *Relay) PeekLatest() Latest {
	msg, ok := r.store.Latest()
	if !ok {
		return Latest{}
	}
	return Latest{Message: msg, Control: IsControl(msg), Found: true}
}

// VisibleHistory returns retained content messages in receipt order,
// with control messages removed.
func (r *Relay) VisibleHistory() []Message {
	return r.store.History(IsContent)
}

// History returns every retained message, control messages included.
func (r *Relay) History() []Message {
	return r.store.History(nil)
}

// StoreStats returns message store counters.
func (r *Relay) StoreStats() StoreStats {
	return r.store.Stats()
}
