package server

import (
	"context"
	"net"
	"time"

	"github.com/maximthomas/goradius/pkg/config"
	"github.com/maximthomas/goradius/pkg/log"
	"github.com/maximthomas/goradius/pkg/metrics"
	"github.com/maximthomas/goradius/pkg/request"
	"github.com/sirupsen/logrus"
	"layeh.com/radius"
)

// Processor turns a request into a reply code. Zero means no reply.
type Processor interface {
	Process(r *request.Request) radius.Code
}

// RadiusServer answers Access-Request and Accounting-Request packets on UDP.
type RadiusServer struct {
	processor Processor
	limiter   *clientLimiter
	server    *radius.PacketServer
	logger    logrus.FieldLogger
}

func NewRadiusServer(conf config.Server, p Processor) *RadiusServer {
	s := &RadiusServer{
		processor: p,
		limiter:   newClientLimiter(conf.RateLimit.RPS, conf.RateLimit.Burst),
		logger:    log.WithField("module", "radius"),
	}
	s.server = &radius.PacketServer{
		Addr:         conf.Address,
		Network:      "udp",
		SecretSource: radius.StaticSecretSource([]byte(conf.Secret)),
		Handler:      s,
	}
	return s
}

// ListenAndServe blocks until the server is shut down.
func (s *RadiusServer) ListenAndServe(ctx context.Context) error {
	go s.pruneLimiter(ctx)
	s.logger.Infof("listening on %s", s.server.Addr)
	return s.server.ListenAndServe()
}

// Serve answers packets read from conn.
func (s *RadiusServer) Serve(ctx context.Context, conn net.PacketConn) error {
	go s.pruneLimiter(ctx)
	return s.server.Serve(conn)
}

func (s *RadiusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *RadiusServer) pruneLimiter(ctx context.Context) {
	if s.limiter == nil {
		return
	}
	ticker := time.NewTicker(limiterIdle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.limiter.prune(now.Add(-limiterIdle))
		}
	}
}

func (s *RadiusServer) ServeRADIUS(w radius.ResponseWriter, r *radius.Request) {
	client := clientIP(r.RemoteAddr)
	if !s.limiter.Allow(client.String()) {
		metrics.Get().Dropped("rate_limit")
		s.logger.Debugf("rate limit exceeded for %s, dropping %s", client, r.Code)
		return
	}

	req := request.New(r.Context(), r.Code, decodePacket(r.Packet, s.logger))
	req.Client = client
	code := s.processor.Process(req)
	if code == 0 {
		metrics.Get().Dropped("no_reply")
		return
	}
	resp := r.Response(code)
	encodeReply(req.Reply, resp, req.Logger())
	if err := w.Write(resp); err != nil {
		req.Logger().Errorf("error writing %s to %s: %v", code, r.RemoteAddr, err)
	}
}

func clientIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.UDPAddr:
		return a.IP
	case nil:
		return nil
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
