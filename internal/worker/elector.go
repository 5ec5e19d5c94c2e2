package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	"github.com/mbeoliero/annotator/pkg/log"
)

var ErrNotLeader = errors.New("not the sweep leader")

// Elector elects a single sweep leader through a redsync mutex that the
// holder keeps extending. The archive policy monitor plugs it into gocron
// so only one node's sweep job fires even when every node schedules it.
type Elector struct {
	rs          *redsync.Redsync
	mutex       *redsync.Mutex
	electionKey string
	nodeId      string
	expiry      time.Duration
	renew       time.Duration

	mu       sync.Mutex
	isLeader atomic.Bool
	started  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewElector(r redis.UniversalClient, nodeId, electionKey string, expiry, renew time.Duration) (*Elector, error) {
	if nodeId == "" || electionKey == "" {
		return nil, fmt.Errorf("elector needs a node id and an election key")
	}
	if renew <= 0 {
		renew = 3 * time.Second
	}
	if expiry <= 0 {
		expiry = renew * 2
	}
	return &Elector{
		rs:          redsync.New(goredis.NewPool(r)),
		electionKey: electionKey,
		nodeId:      nodeId,
		expiry:      expiry,
		renew:       renew,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

func (e *Elector) Start(ctx context.Context) error {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return errors.New("elector already started")
	}
	e.started = true
	// A single acquisition attempt per tick; the loser just stays follower
	// until the next renew instead of spinning in redsync retries.
	e.mutex = e.rs.NewMutex(e.electionKey, redsync.WithExpiry(e.expiry), redsync.WithTries(1))
	e.mu.Unlock()

	go e.campaign(ctx)
	return nil
}

func (e *Elector) campaign(ctx context.Context) {
	defer close(e.doneCh)
	defer func() {
		if r := recover(); r != nil {
			log.Error("elector campaign panic, node id: %s, err: %v", e.nodeId, r)
		}
	}()

	e.tick()

	ticker := time.NewTicker(e.renew)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			e.resign()
			return
		case <-ctx.Done():
			e.resign()
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

// tick either extends a held lock or tries to take it.
func (e *Elector) tick() {
	e.mu.Lock()
	mutex := e.mutex
	e.mu.Unlock()

	if e.isLeader.Load() {
		ok, err := mutex.Extend()
		if err == nil && ok {
			return
		}
		e.isLeader.Store(false)
		log.Info("lost sweep leadership, node id: %s, err: %v", e.nodeId, err)
	}

	if err := mutex.Lock(); err != nil {
		return
	}
	if !e.isLeader.Swap(true) {
		log.Info("became sweep leader, node id: %s", e.nodeId)
	}
}

func (e *Elector) resign() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.isLeader.Swap(false) && e.mutex != nil {
		if _, err := e.mutex.Unlock(); err != nil {
			log.Error("failed to release leadership, node id: %s, err: %v", e.nodeId, err)
		}
		log.Info("resigned sweep leadership, node id: %s", e.nodeId)
	}
}

// IsLeader satisfies gocron.Elector.
func (e *Elector) IsLeader(ctx context.Context) error {
	if !e.isLeader.Load() {
		return ErrNotLeader
	}
	return nil
}

func (e *Elector) Stop() {
	e.mu.Lock()
	if !e.started {
		e.mu.Unlock()
		return
	}
	e.started = false
	close(e.stopCh)
	e.mu.Unlock()

	select {
	case <-e.doneCh:
	case <-time.After(5 * time.Second):
		log.Warn("elector did not stop in time, node id: %s", e.nodeId)
	}
}
