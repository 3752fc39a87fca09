// Package miner implements the serving side of the network: a TCP listener
// that answers recommendation requests from validators with line-delimited
// JSON messages. Request admission is gated on the caller's membership
// standing; generation is pluggable behind the Generator seam.
package miner

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"recnet/pkg/protocol"
)

// Config holds the miner's identity and serving knobs.
type Config struct {
	Addr           string        // listen address (default 127.0.0.1:9301)
	Key            string        // this miner's identity key
	RequestTimeout time.Duration // per-connection read/write budget (default 10s)
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Addr == "" {
		out.Addr = "127.0.0.1:9301"
	}
	if out.RequestTimeout == 0 {
		out.RequestTimeout = 10 * time.Second
	}
	return out
}

// maxRequestLine bounds one inbound request on the wire; catalogs are the
// bulk of a request and fit well under this.
const maxRequestLine = 4 << 20

// Miner serves recommendation requests.
type Miner struct {
	cfg  Config
	gen  Generator
	gate *Gate
	log  *zap.Logger

	mu       sync.Mutex
	listener net.Listener
	served   int
	rejected int

	nowFunc func() time.Time
}

// New creates a Miner. gate may be nil to accept every caller.
func New(cfg Config, gen Generator, gate *Gate, log *zap.Logger) *Miner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Miner{
		cfg:     cfg.withDefaults(),
		gen:     gen,
		gate:    gate,
		log:     log,
		nowFunc: time.Now,
	}
}

// Addr returns the bound listen address, valid after Serve has started.
func (m *Miner) Addr() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listener == nil {
		return m.cfg.Addr
	}
	return m.listener.Addr().String()
}

// Served returns the number of requests answered with a response.
func (m *Miner) Served() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served
}

// Rejected returns the number of requests turned away at the gate.
func (m *Miner) Rejected() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rejected
}

// Serve listens on the configured address and handles connections until ctx
// is cancelled. Each connection carries exactly one request.
func (m *Miner) Serve(ctx context.Context) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("miner listen on %s: %w", m.cfg.Addr, err)
	}
	m.mu.Lock()
	m.listener = ln
	m.mu.Unlock()

	go func() {
		<-ctx.Done()
		_ = ln.Close()
	}()

	m.log.Info("miner serving", zap.String("addr", ln.Addr().String()), zap.String("key", m.cfg.Key))
	go m.reportCounters(ctx)

	var wg sync.WaitGroup
	for {
		conn, err := ln.Accept()
		if err != nil {
			wg.Wait()
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("miner accept: %w", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.handleConn(conn)
		}()
	}
}

// counterReportInterval is how often the serving counters are logged.
const counterReportInterval = time.Minute

// reportCounters logs the request counters periodically until ctx ends.
func (m *Miner) reportCounters(ctx context.Context) {
	ticker := time.NewTicker(counterReportInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.Lock()
			served, rejected := m.served, m.rejected
			m.mu.Unlock()
			m.log.Info("serving counters", zap.Int("served", served), zap.Int("rejected", rejected))
		}
	}
}

// handleConn reads one request line, gates it, generates, and writes one
// reply line. Malformed input gets a reject when a reply is still possible
// and a dropped connection otherwise.
func (m *Miner) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	_ = conn.SetDeadline(m.nowFunc().Add(m.cfg.RequestTimeout))

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), maxRequestLine)
	if !scanner.Scan() {
		return
	}

	var msg protocol.Message
	if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
		m.reject(conn, "malformed message")
		return
	}
	if msg.Type != protocol.MsgRequest || msg.Request == nil {
		m.reject(conn, "expected a request message")
		return
	}
	req := *msg.Request

	if err := req.Validate(); err != nil {
		m.reject(conn, err.Error())
		return
	}
	if m.gate != nil {
		if err := m.gate.Check(req.Originator); err != nil {
			m.log.Warn("request gated",
				zap.String("request", req.ID), zap.String("originator", req.Originator), zap.Error(err))
			m.reject(conn, err.Error())
			return
		}
	}

	results, models, err := m.gen.Recommend(req)
	if err != nil {
		m.log.Warn("generation failed", zap.String("request", req.ID), zap.Error(err))
		m.reject(conn, fmt.Sprintf("generation failed: %v", err))
		return
	}

	resp := protocol.RecResponse{
		RequestID:  req.ID,
		MinerKey:   m.cfg.Key,
		Results:    results,
		ModelsUsed: models,
		CreatedAt:  m.nowFunc().UTC(),
	}
	if err := writeMessage(conn, protocol.Message{Type: protocol.MsgResponse, Response: &resp}); err != nil {
		m.log.Warn("reply write failed", zap.String("request", req.ID), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.served++
	m.mu.Unlock()
	m.log.Debug("request served", zap.String("request", req.ID), zap.Int("results", len(results)))
}

// reject sends a reject message; write failures are ignored, the connection
// is closing either way.
func (m *Miner) reject(conn net.Conn, reason string) {
	m.mu.Lock()
	m.rejected++
	m.mu.Unlock()
	_ = writeMessage(conn, protocol.Message{
		Type:   protocol.MsgReject,
		Reject: &protocol.RejectPayload{Reason: reason},
	})
}

// writeMessage encodes and writes one line-delimited JSON message.
func writeMessage(conn net.Conn, msg protocol.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	data = append(data, '\n')
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}
