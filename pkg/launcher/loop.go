package launcher

import (
	"context"
	"sync"
)

const defaultLoopQueueSize = 64

// Loop runs posted work one item at a time on the goroutine that called Run.
type Loop struct {
	queue chan func()
	done  chan struct{}
	once  sync.Once
}

// NewLoop creates a loop whose queue holds size pending items. Post blocks while it is full.
func NewLoop(size int) *Loop {
	if size <= 0 {
		size = defaultLoopQueueSize
	}
	return &Loop{
		queue: make(chan func(), size),
		done:  make(chan struct{}),
	}
}

// Post queues fn to run on the loop. It returns false and drops fn once the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run executes posted work until ctx is cancelled. Work still queued at that point is dropped.
func (l *Loop) Run(ctx context.Context) error {
	defer l.once.Do(func() { close(l.done) })

	for {
		select {
		case <-ctx.Done():
			return nil
		case fn := <-l.queue:
			fn()
		}
	}
}

// Done is closed once the loop has stopped.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Serialize wraps callbacks so that every call is posted to the loop instead of running on the
// caller's goroutine. Network adapters deliver their events through the returned value.
func Serialize(loop *Loop, callbacks Callbacks) Callbacks {
	return &serialized{loop: loop, next: callbacks}
}

type serialized struct {
	loop *Loop
	next Callbacks
}

func (s *serialized) OnConnectedToMaster() {
	s.loop.Post(s.next.OnConnectedToMaster)
}

func (s *serialized) OnJoinRandomFailed(returnCode int16, message string) {
	s.loop.Post(func() { s.next.OnJoinRandomFailed(returnCode, message) })
}

func (s *serialized) OnJoinedRoom() {
	s.loop.Post(s.next.OnJoinedRoom)
}

func (s *serialized) OnCreateRoomFailed(returnCode int16, message string) {
	s.loop.Post(func() { s.next.OnCreateRoomFailed(returnCode, message) })
}

func (s *serialized) OnLeftRoom() {
	s.loop.Post(s.next.OnLeftRoom)
}

func (s *serialized) OnDisconnected(cause DisconnectCause) {
	s.loop.Post(func() { s.next.OnDisconnected(cause) })
}
