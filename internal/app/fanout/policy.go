package fanout

import "fmt"

type BackpressureAction int

const (
	DropNotification BackpressureAction = iota
	Disconnect
)

// Policy decides what happens to a consumer whose channel is full.
type Policy interface {
	OnBackPressure(sub *Subscription, channel string) BackpressureAction
}

// DropPolicy drops the notification and keeps the consumer.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(*Subscription, string) BackpressureAction {
	return DropNotification
}

// DisconnectPolicy removes consumers that cannot keep up.
type DisconnectPolicy struct{}

func (DisconnectPolicy) OnBackPressure(*Subscription, string) BackpressureAction {
	return Disconnect
}

// ParsePolicy maps a configured policy name to its Policy.
func ParsePolicy(name string) (Policy, error) {
	switch name {
	case "", "drop":
		return DropPolicy{}, nil
	case "disconnect":
		return DisconnectPolicy{}, nil
	}
	return nil, fmt.Errorf("unknown back-pressure policy %q", name)
}
