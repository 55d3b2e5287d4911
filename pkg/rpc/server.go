package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net"

	"github.com/cuemby/dockerizer/pkg/containerizer"
	"github.com/cuemby/dockerizer/pkg/log"
	"github.com/cuemby/dockerizer/pkg/usage"
)

// Server dispatches decoded Requests onto a running Containerizer. One
// Server serves every connection accepted on its listener; each
// connection is handled on its own goroutine, mirroring the fan-out the
// engine itself already does for concurrent callers.
type Server struct {
	Engine      *containerizer.Containerizer
	UsageHelper usage.Helper
}

// Serve accepts connections on ln until ctx is cancelled or ln closes.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := log.WithComponent("rpc")

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			s.write(conn, Response{Error: "decode request: " + err.Error()})
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := s.write(conn, resp); err != nil {
			logger.Warn().Err(err).Msg("rpc: write response failed")
			return
		}
	}
}

func (s *Server) write(conn net.Conn, resp Response) error {
	b, err := Encode(resp)
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

func (s *Server) dispatch(ctx context.Context, req Request) Response {
	switch req.Op {
	case OpLaunch:
		return s.launch(ctx, req)
	case OpUpdate:
		return s.update(ctx, req)
	case OpUsage:
		return s.usage(ctx, req)
	case OpWait:
		return s.wait(ctx, req)
	case OpDestroy:
		return s.destroy(ctx, req)
	case OpContainers:
		return s.containers(ctx)
	case OpRecover:
		return s.recover(ctx, req)
	default:
		return Response{Error: "unknown op: " + string(req.Op)}
	}
}

func (s *Server) launch(ctx context.Context, req Request) Response {
	if req.Launch == nil {
		return Response{Error: "launch: missing launch request body"}
	}
	result := <-s.Engine.Launch(ctx, *req.Launch)
	if result.Err != nil {
		return Response{Error: result.Err.Error()}
	}
	return Response{Launch: &result}
}

func (s *Server) update(ctx context.Context, req Request) Response {
	if err := s.Engine.Update(ctx, req.ID, req.Resources); err != nil {
		return Response{Error: err.Error()}
	}
	return Response{}
}

func (s *Server) usage(ctx context.Context, req Request) Response {
	if s.UsageHelper == nil {
		return Response{Error: "usage: no usage helper configured"}
	}
	stats, err := s.Engine.Usage(ctx, req.ID, s.UsageHelper)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Usage: &stats}
}

func (s *Server) wait(ctx context.Context, req Request) Response {
	ch, err := s.Engine.Wait(ctx, req.ID)
	if err != nil {
		return Response{Error: err.Error()}
	}
	select {
	case term := <-ch:
		return Response{Wait: &term}
	case <-ctx.Done():
		return Response{Error: ctx.Err().Error()}
	}
}

func (s *Server) destroy(ctx context.Context, req Request) Response {
	done := s.Engine.Destroy(ctx, req.ID, req.Killed)
	select {
	case <-done:
		return Response{}
	case <-ctx.Done():
		return Response{Error: ctx.Err().Error()}
	}
}

func (s *Server) containers(ctx context.Context) Response {
	ids, err := s.Engine.Containers(ctx)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Containers: ids}
}

func (s *Server) recover(ctx context.Context, req Request) Response {
	if req.Recover == nil {
		return Response{Error: "recover: missing recover request body"}
	}
	result, err := s.Engine.Recover(ctx, *req.Recover)
	if err != nil {
		return Response{Error: err.Error()}
	}
	return Response{Recover: &result}
}

// ErrClosed reports whether err indicates the listener or connection was
// closed as part of normal shutdown rather than a real I/O failure.
func ErrClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
