package pubsub

import (
	"crypto/tls"
	"net/http"

	"code.hybscloud.com/obengine/internal/metrics"
	"code.hybscloud.com/obengine/internal/wire"
	"github.com/quic-go/quic-go/http3"
	"go.uber.org/zap"
)

// H3Config configures the HTTP/3 long-poll publisher endpoint. Unlike
// WebSocket, HTTP/3 subscribers long-poll a bounded batch of frames per
// request rather than holding a single persistent duplex stream, per
// spec.md §4.7's "stateless per-instrument sequencing" framing.
type H3Config struct {
	Addr        string
	TLSConfig   *tls.Config
	BearerToken string
}

// H3Server serves /v1/stream?from_seq=N&max=M, returning up to max framed
// messages starting at from_seq as a single application/octet-stream body.
type H3Server struct {
	bus *Bus
	cfg H3Config
	met *metrics.Metrics
	log *zap.Logger
}

func NewH3Server(bus *Bus, cfg H3Config, met *metrics.Metrics, log *zap.Logger) *H3Server {
	return &H3Server{bus: bus, cfg: cfg, met: met, log: log}
}

func (s *H3Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.BearerToken != "" && r.Header.Get("Authorization") != "Bearer "+s.cfg.BearerToken {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	cursor := s.bus.OldestAvailable()
	if v := r.URL.Query().Get("from_seq"); v != "" {
		if parsed, ok := parseUint(v); ok {
			cursor = parsed
		}
	}
	max := 256
	if v := r.URL.Query().Get("max"); v != "" {
		if parsed, ok := parseUint(v); ok && parsed > 0 && parsed < 4096 {
			max = int(parsed)
		}
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	closed := r.Context().Done()
	sent := 0
	for sent < max {
		frame, next, err := s.bus.Next(cursor, closed)
		if err != nil {
			if err == ErrGap {
				if s.met != nil {
					s.met.DroppedClients.Inc()
				}
				gap := wire.GapV1{FromInclusive: cursor, ToInclusive: s.bus.OldestAvailable() - 1}
				_, _ = w.Write(wire.EncodeFrame(wire.MsgGap, wire.ChannelOboL3, 0, 0, 0, gap.Encode()))
			}
			break
		}
		cursor = next
		if _, err := w.Write(frame); err != nil {
			return
		}
		sent++
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
	if s.met != nil {
		s.met.OutFrames.Add(float64(sent))
	}
}

func parseUint(s string) (uint64, bool) {
	var v uint64
	if s == "" {
		return 0, false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		v = v*10 + uint64(c-'0')
	}
	return v, true
}

// ListenAndServeH3 runs the HTTP/3 server until it fails. It takes no
// context, and nothing in this package closes the server.
func ListenAndServeH3(addr string, tlsConf *tls.Config, handler http.Handler) error {
	srv := &http3.Server{
		Addr:      addr,
		TLSConfig: tlsConf,
		Handler:   handler,
	}
	return srv.ListenAndServe()
}
