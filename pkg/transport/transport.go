// Package transport carries one recommendation request to a set of miners
// and collects whatever replies come back in time. The wire format is
// line-delimited JSON protocol.Message over TCP, one connection per query.
package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recnet/pkg/ledger"
	"recnet/pkg/protocol"
)

// Querier is the peer-transport seam of the dispatch loop. Query may return
// fewer responses than targets: unreachable, timed-out, and rejecting peers
// are silently excluded. It never fails; the worst case is an empty batch.
type Querier interface {
	Query(ctx context.Context, targets []ledger.Member, req protocol.RecRequest, timeout time.Duration) protocol.ResponseBatch
}

// maxResponseLine bounds one miner reply on the wire (a catalog-sized result
// list fits comfortably; anything larger is a misbehaving peer).
const maxResponseLine = 1 << 20

// TCP is the production Querier.
type TCP struct {
	log    *zap.Logger
	dialer net.Dialer
}

// NewTCP creates a TCP transport.
func NewTCP(log *zap.Logger) *TCP {
	if log == nil {
		log = zap.NewNop()
	}
	return &TCP{log: log}
}

// Query fans the request out to every target concurrently and gathers the
// replies that arrive before the timeout. Batch order is arrival order.
func (t *TCP) Query(ctx context.Context, targets []ledger.Member, req protocol.RecRequest, timeout time.Duration) protocol.ResponseBatch {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var (
		mu    sync.Mutex
		batch protocol.ResponseBatch
	)
	g, ctx := errgroup.WithContext(ctx)
	for _, m := range targets {
		g.Go(func() error {
			resp, err := t.queryOne(ctx, m, req)
			if err != nil {
				t.log.Debug("peer dropped from batch", zap.Error(err))
				return nil // one slow or dead peer never fails the round
			}
			mu.Lock()
			batch = append(batch, *resp)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return batch
}

// queryOne performs a single request round-trip with one miner.
func (t *TCP) queryOne(ctx context.Context, m ledger.Member, req protocol.RecRequest) (*protocol.RecResponse, error) {
	start := time.Now()

	conn, err := t.dialer.DialContext(ctx, "tcp", m.Addr)
	if err != nil {
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: fmt.Sprintf("dial: %v", err)}
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	data, err := json.Marshal(protocol.Message{Type: protocol.MsgRequest, Request: &req})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: fmt.Sprintf("write: %v", err)}
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseLine)
	if !scanner.Scan() {
		reason := "connection closed"
		if err := scanner.Err(); err != nil {
			reason = err.Error()
		}
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: reason}
	}

	var msg protocol.Message
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: fmt.Sprintf("malformed reply: %v", err)}
	}
	switch {
	case msg.Type == protocol.MsgReject:
		reason := "request rejected"
		if msg.Reject != nil {
			reason = msg.Reject.Reason
		}
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: reason}
	case msg.Type != protocol.MsgResponse || msg.Response == nil:
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: "reply missing response payload"}
	case msg.Response.RequestID != req.ID:
		return nil, &protocol.PeerUnreachableError{UID: m.UID, Addr: m.Addr, Reason: "reply for a different request"}
	}

	resp := *msg.Response
	resp.MinerUID = m.UID // trust the roster slot, not the peer's own claim
	resp.LatencyMs = time.Since(start).Milliseconds()
	return &resp, nil
}
