package sensors

import (
	"altruist-go/errcode"
	"altruist-go/types"
)

// Observer receives acquisition events for metrics. Implementations must
// be safe for concurrent use and must not block.
type Observer interface {
	ReadOK(sensor string, r types.Reading)
	ReadFailed(sensor string, code errcode.Code)
	InitFailed(sensor string, code errcode.Code)
	Dropped(sensor string)
	StateChanged(sensor string, s State)
}

type nopObserver struct{}

func (nopObserver) ReadOK(string, types.Reading)    {}
func (nopObserver) ReadFailed(string, errcode.Code) {}
func (nopObserver) InitFailed(string, errcode.Code) {}
func (nopObserver) Dropped(string)                  {}
func (nopObserver) StateChanged(string, State)      {}

func orNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}
