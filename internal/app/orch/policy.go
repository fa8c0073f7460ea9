package orch

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	KickSubscriber
)

// Policy decides what happens to a controller whose send queue is full.
type Policy interface {
	OnBackPressure(client string) BackpressureAction
}

// SimplePolicy drops the event; the controller can resync with "sessions".
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(string) BackpressureAction {
	return DropFrame
}

// StrictPolicy disconnects slow controllers.
type StrictPolicy struct{}

func (StrictPolicy) OnBackPressure(string) BackpressureAction {
	return KickSubscriber
}
