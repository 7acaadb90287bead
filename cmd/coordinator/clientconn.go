package main

import (
	"context"
	"net"

	"go.uber.org/zap"

	"github.com/dreamware/geocache/internal/cacheid"
	"github.com/dreamware/geocache/internal/cachetype"
	"github.com/dreamware/geocache/internal/protocol"
	"github.com/dreamware/geocache/internal/querymgr"
)

// startClientListener opens the client port. Every connection carries
// exactly one QUERY, answered with DELIVERY or ERROR before the
// connection closes (spec.md §5's one-shot client model).
func (s *Server) startClientListener(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.logger.Warn("client accept", zap.Error(err))
				continue
			}
			go s.handleClientConn(ctx, conn)
		}
	}()
	return nil
}

func (s *Server) handleClientConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	role, err := protocol.ReadRoleMagic(conn)
	if err != nil || role != protocol.RoleClient {
		s.logger.Warn("client conn: bad role magic", zap.Error(err))
		return
	}

	kind, body, err := protocol.ReadFrame(conn)
	if err != nil || kind != protocol.KindQuery {
		s.logger.Warn("client conn: expected QUERY", zap.Error(err))
		return
	}
	msg, err := protocol.DecodeQuery(body)
	if err != nil {
		s.logger.Warn("client conn: decode QUERY", zap.Error(err))
		return
	}

	s.metrics.QueriesReceived.Inc()
	queryCube := protocol.QueryCubeFromWire(msg.Rectangle, msg.HasScale, msg.ScaleX, msg.ScaleY)
	clientID := conn.RemoteAddr().String()

	id, err := s.manager.AddRequest(ctx, clientID, cachetype.CacheType(msg.CacheType), cacheid.SemanticID(msg.SemanticID), queryCube)
	if err != nil {
		s.replyError(conn, err)
		return
	}

	outcome := s.awaitOutcome(ctx, id)
	if outcome.err != nil {
		s.metrics.QueriesFailed.Inc()
		s.replyError(conn, outcome.err)
		return
	}

	reply := protocol.Delivery{Host: outcome.resp.Host, Port: outcome.resp.Port, DeliveryID: outcome.resp.DeliveryID}
	if err := protocol.WriteFrame(conn, protocol.KindDelivery, reply.Encode()); err != nil {
		s.logger.Warn("client conn: write DELIVERY", zap.Error(err))
	}
}

// awaitOutcome registers a waiter for id and blocks until it settles or
// ctx is canceled. Registration happens before checking current state,
// so a completion that lands between the check and the select still
// reaches ch instead of being missed.
func (s *Server) awaitOutcome(ctx context.Context, id querymgr.QueryID) queryOutcome {
	ch := make(chan queryOutcome, 1)
	s.addWaiter(id, ch)

	if job := s.manager.Job(id); job != nil && job.Err != nil {
		return queryOutcome{err: job.Err}
	} else if job != nil && job.State == querymgr.JobFinished {
		return queryOutcome{resp: job.Result}
	}

	select {
	case outcome := <-ch:
		return outcome
	case <-ctx.Done():
		return queryOutcome{err: ctx.Err()}
	}
}

func (s *Server) replyError(conn net.Conn, err error) {
	msg := protocol.Error{Message: err.Error()}
	if werr := protocol.WriteFrame(conn, protocol.KindError, msg.Encode()); werr != nil {
		s.logger.Warn("client conn: write ERROR", zap.Error(werr))
	}
}
