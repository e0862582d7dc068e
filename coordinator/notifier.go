package coordinator

// ChangeNotifier is the process-local single-slot dirty signal. Any
// successful catalog mutation raises it once; the reconciliation loop drains
// it and re-synchronizes promptly instead of waiting for its next scheduled
// sync. Raising an already-raised signal is a no-op, so writers never block.
type ChangeNotifier struct {
	dirty chan struct{}
}

// NewChangeNotifier creates a notifier with an empty slot.
func NewChangeNotifier() *ChangeNotifier {
	return &ChangeNotifier{dirty: make(chan struct{}, 1)}
}

// MarkDirty raises the signal. Never blocks.
func (n *ChangeNotifier) MarkDirty() {
	select {
	case n.dirty <- struct{}{}:
	default:
	}
}

// Dirty returns the channel the reconciliation loop drains. A receive
// consumes the signal.
func (n *ChangeNotifier) Dirty() <-chan struct{} {
	return n.dirty
}
