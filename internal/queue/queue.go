// Package queue implements the Disk Queue: a durable FIFO of
// MasterMessage work items, backed by four badger trees (meta, pending,
// inflight, jobs) under one root directory, with add/fetch/ack/nack/recover
// contracts and pre-increment id allocation.
package queue

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apierrors "github.com/sysinspect/sysinspect/api/errors"
	"github.com/sysinspect/sysinspect/api/types"
	"github.com/sysinspect/sysinspect/pkg/dbutil"
)

var nextIDKey = []byte("next_id")

// Queue is a disk-persistent, crash-recoverable FIFO.
type Queue struct {
	lg *zap.Logger

	meta     *dbutil.DB
	pending  *dbutil.DB
	inflight *dbutil.DB
	jobs     *dbutil.DB

	wake chan struct{}
}

// Open opens (creating if absent) the four trees rooted at dir, runs
// recover(), and returns the ready queue.
func Open(dir string, lg *zap.Logger) (*Queue, error) {
	open := func(name string) (*dbutil.DB, error) {
		return dbutil.OpenDB(&dbutil.Options{Dir: filepath.Join(dir, name), Logger: lg})
	}

	meta, err := open("meta")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	pending, err := open("pending")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	inflight, err := open("inflight")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	jobs, err := open("jobs")
	if err != nil {
		return nil, apierrors.Wrap(apierrors.CodeStorage, err)
	}

	q := &Queue{
		lg:       lg,
		meta:     meta,
		pending:  pending,
		inflight: inflight,
		jobs:     jobs,
		wake:     make(chan struct{}, 1),
	}

	if err := q.recover(); err != nil {
		return nil, err
	}
	q.notify()

	return q, nil
}

func u64Key(id uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, id)
	return b
}

func keyToU64(key []byte) (uint64, bool) {
	if len(key) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(key), true
}

func (q *Queue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// nextID allocates the next monotonic job id. meta["next_id"] holds the
// next id to hand out (initial value 1); nextID returns the pre-increment
// value, i.e. the first call returns 1 and leaves meta["next_id"] = 2. Each
// call commits the incremented counter before returning, so no ids are
// leased ahead, matching the Rust original's fetch_and_update.
func (q *Queue) nextID() (uint64, error) {
	current, err := q.meta.Get(nextIDKey)
	var assigned uint64 = 1
	if err == nil {
		if v, ok := keyToU64(current); ok {
			assigned = v
		}
	}
	if err := q.meta.Set(nextIDKey, u64Key(assigned+1)); err != nil {
		return 0, err
	}
	return assigned, nil
}

// Add durably enqueues item and returns its assigned id. Ordering is
// fixed: the payload is written to jobs before the pending marker exists,
// so a crash never exposes a pending id with no payload.
func (q *Queue) Add(item types.WorkItem) (uint64, error) {
	id, err := q.nextID()
	if err != nil {
		return 0, apierrors.Wrap(apierrors.CodeStorage, err)
	}

	val, err := json.Marshal(item)
	if err != nil {
		return 0, apierrors.Wrap(apierrors.CodeInternal, err)
	}

	key := u64Key(id)
	if err := q.jobs.Set(key, val); err != nil {
		return 0, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	if err := q.pending.Set(key, []byte{}); err != nil {
		return 0, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	if err := q.pending.Sync(); err != nil {
		return 0, apierrors.Wrap(apierrors.CodeStorage, err)
	}

	q.notify()
	return id, nil
}

// Fetch takes the smallest pending id, moves it to inflight, and returns
// its payload. Returns ok=false when there is nothing pending, or when the
// pending/jobs trees disagree (handled per the Queue/PayloadMissing error
// kinds: the bad marker is dropped and fetch reports empty rather than
// erroring).
func (q *Queue) Fetch() (id uint64, item types.WorkItem, ok bool, err error) {
	key, _, found, ferr := q.pending.First(nil)
	if ferr != nil {
		return 0, types.WorkItem{}, false, apierrors.Wrap(apierrors.CodeStorage, ferr)
	}
	if !found {
		return 0, types.WorkItem{}, false, nil
	}

	parsed, valid := keyToU64(key)
	if !valid {
		q.lg.Warn("corrupt pending key, removing it", zap.Int("len", len(key)))
		if err := q.pending.Delete(key); err != nil {
			return 0, types.WorkItem{}, false, apierrors.Wrap(apierrors.CodeStorage, err)
		}
		return 0, types.WorkItem{}, false, nil
	}

	if err := q.inflight.Set(key, []byte{}); err != nil {
		return 0, types.WorkItem{}, false, apierrors.Wrap(apierrors.CodeStorage, err)
	}
	if err := q.pending.Delete(key); err != nil {
		return 0, types.WorkItem{}, false, apierrors.Wrap(apierrors.CodeStorage, err)
	}

	val, jerr := q.jobs.Get(key)
	if jerr != nil {
		q.lg.Error("job payload missing, dropping markers", zap.Uint64("id", parsed))
		_ = q.inflight.Delete(key)
		_ = q.pending.Delete(key)
		return 0, types.WorkItem{}, false, nil
	}

	var wi types.WorkItem
	if err := json.Unmarshal(val, &wi); err != nil {
		q.lg.Error("job payload corrupt, dropping markers", zap.Uint64("id", parsed), zap.Error(err))
		_ = q.inflight.Delete(key)
		_ = q.jobs.Delete(key)
		return 0, types.WorkItem{}, false, nil
	}

	return parsed, wi, true, nil
}

// Ack marks id done: its inflight marker and payload are both removed.
func (q *Queue) Ack(id uint64) error {
	key := u64Key(id)
	if err := q.inflight.Delete(key); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	if err := q.jobs.Delete(key); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	return nil
}

// Nack returns id to pending for a future Fetch.
func (q *Queue) Nack(id uint64) error {
	key := u64Key(id)
	if err := q.pending.Set(key, []byte{}); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	if err := q.inflight.Delete(key); err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}
	q.notify()
	return nil
}

// recover moves every inflight marker back to pending. Runs automatically
// on Open; after it returns, inflight is empty.
func (q *Queue) recover() error {
	var keys [][]byte
	err := q.inflight.Range(nil, func(key, _ []byte) error {
		if _, ok := keyToU64(key); !ok {
			q.lg.Warn("corrupt inflight key, skipping recovery for it", zap.Int("len", len(key)))
			return nil
		}
		keys = append(keys, append([]byte(nil), key...))
		return nil
	})
	if err != nil {
		return apierrors.Wrap(apierrors.CodeStorage, err)
	}

	for _, k := range keys {
		if err := q.pending.Set(k, []byte{}); err != nil {
			return apierrors.Wrap(apierrors.CodeStorage, err)
		}
		if err := q.inflight.Delete(k); err != nil {
			return apierrors.Wrap(apierrors.CodeStorage, err)
		}
	}
	return nil
}

// StartAck runs a worker loop until ctx is done: it drains Fetch() to
// empty, calling exec for each item; exec's error decides Ack vs Nack.
// When drained, it waits on the wake notification or a 500ms fallback
// timer, whichever fires first, then loops again.
func (q *Queue) StartAck(ctx context.Context, exec func(id uint64, item types.WorkItem) error) {
	timer := time.NewTimer(500 * time.Millisecond)
	defer timer.Stop()

	for {
		for {
			id, item, ok, err := q.Fetch()
			if err != nil {
				q.lg.Error("queue fetch failed", zap.Error(err))
				break
			}
			if !ok {
				break
			}
			if err := exec(id, item); err != nil {
				if nerr := q.Nack(id); nerr != nil {
					q.lg.Error("queue nack failed", zap.Uint64("id", id), zap.Error(nerr))
				}
			} else if aerr := q.Ack(id); aerr != nil {
				q.lg.Error("queue ack failed", zap.Uint64("id", id), zap.Error(aerr))
			}
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(500 * time.Millisecond)

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timer.C:
		}
	}
}

// Close releases all four underlying trees.
func (q *Queue) Close() error {
	for _, db := range []*dbutil.DB{q.meta, q.pending, q.inflight, q.jobs} {
		if err := db.Close(); err != nil {
			return err
		}
	}
	return nil
}
