package messaging

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

type memEntry struct {
	id      string
	seq     int64
	payload []byte
}

type memPending struct {
	seq         int64
	consumer    string
	deliveredAt time.Time
	deliveries  int64
}

type memGroup struct {
	next int // index of the first undelivered entry
	pel  map[string]*memPending
}

type memStream struct {
	entries []memEntry
	byID    map[string]int
	groups  map[string]*memGroup
	seq     int64
}

// MemoryTransport is an in-process Transport with consumer group, pending
// list and claim semantics. It backs the "memory" stream driver and tests.
type MemoryTransport struct {
	mu      sync.Mutex
	streams map[string]*memStream
	now     func() time.Time
}

// NewMemoryTransport creates an empty in-memory transport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{streams: make(map[string]*memStream), now: time.Now}
}

func (t *MemoryTransport) stream(name string) *memStream {
	s, ok := t.streams[name]
	if !ok {
		s = &memStream{byID: make(map[string]int), groups: make(map[string]*memGroup)}
		t.streams[name] = s
	}
	return s
}

func (s *memStream) group(name string) *memGroup {
	g, ok := s.groups[name]
	if !ok {
		g = &memGroup{pel: make(map[string]*memPending)}
		s.groups[name] = g
	}
	return g
}

// Add appends a payload and returns its id.
func (t *MemoryTransport) Add(stream string, payload []byte) string {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stream(stream)
	s.seq++
	id := fmt.Sprintf("%d-0", s.seq)
	s.byID[id] = len(s.entries)
	s.entries = append(s.entries, memEntry{id: id, seq: s.seq, payload: payload})
	return id
}

// Delete removes an entry from the stream; pending references stay.
func (t *MemoryTransport) Delete(stream, id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stream(stream)
	idx, ok := s.byID[id]
	if !ok {
		return
	}
	s.entries[idx].payload = nil
	delete(s.byID, id)
}

// ReadBatch implements Transport.
func (t *MemoryTransport) ReadBatch(ctx context.Context, stream, group, consumer string, count int64) ([]StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stream(stream)
	g := s.group(group)
	now := t.now()

	var out []StreamMessage
	for g.next < len(s.entries) && int64(len(out)) < count {
		e := s.entries[g.next]
		g.next++
		if _, live := s.byID[e.id]; !live {
			continue
		}
		g.pel[e.id] = &memPending{seq: e.seq, consumer: consumer, deliveredAt: now, deliveries: 1}
		out = append(out, StreamMessage{ID: e.id, Stream: stream, Payload: e.payload, DeliveryCount: 1})
	}
	return out, nil
}

// Ack implements Transport.
func (t *MemoryTransport) Ack(ctx context.Context, stream, group string, ids ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.stream(stream).group(group)
	for _, id := range ids {
		delete(g.pel, id)
	}
	return nil
}

// Claim implements Transport.
func (t *MemoryTransport) Claim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, id string) (*StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stream(stream)
	p, ok := s.group(group).pel[id]
	now := t.now()
	if !ok || now.Sub(p.deliveredAt) < minIdle {
		return nil, nil
	}
	p.consumer = consumer
	p.deliveredAt = now
	p.deliveries++

	msg := &StreamMessage{ID: id, Stream: stream, DeliveryCount: p.deliveries}
	if idx, live := s.byID[id]; live {
		msg.Payload = s.entries[idx].payload
	}
	return msg, nil
}

// Pending implements Transport. The whole pending list is scanned; start
// and end are ignored.
func (t *MemoryTransport) Pending(ctx context.Context, stream, group, start, end string, count int64) ([]PendingClaim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	g := t.stream(stream).group(group)
	now := t.now()

	type row struct {
		id string
		p  *memPending
	}
	rows := make([]row, 0, len(g.pel))
	for id, p := range g.pel {
		rows = append(rows, row{id, p})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].p.seq < rows[j].p.seq })

	out := make([]PendingClaim, 0, len(rows))
	for _, r := range rows {
		if int64(len(out)) >= count {
			break
		}
		out = append(out, PendingClaim{
			MessageID:     r.id,
			Idle:          now.Sub(r.p.deliveredAt),
			Consumer:      r.p.consumer,
			DeliveryCount: r.p.deliveries,
		})
	}
	return out, nil
}

// RangeByID implements Transport.
func (t *MemoryTransport) RangeByID(ctx context.Context, stream, id string) (*StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.stream(stream)
	idx, ok := s.byID[id]
	if !ok {
		return nil, ErrMessageNotFound
	}
	return &StreamMessage{ID: id, Stream: stream, Payload: s.entries[idx].payload}, nil
}
