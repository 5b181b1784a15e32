package heartbeat

import (
	"context"
	"time"

	"echonode-go/bus"
	"echonode-go/types"
	"echonode-go/x/conv"
	"echonode-go/x/util"
)

var topicConfigHeartbeat = bus.T("config", "heartbeat")

// Stats returns the counters to report. May be nil.
type Stats func() types.EchoStats

type Service struct {
	stats Stats
	beats uint32
}

func New(stats Stats) *Service { return &Service{stats: stats} }

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection, out chan<- string) {
	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	tick := time.NewTicker(1 * time.Second)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			println("[heartbeat] stopping")
			return
		case t := <-tick.C:
			line := s.line(t)
			println(line)
			if out != nil {
				select {
				case out <- line:
				default:
				}
			}
		case msg := <-cfgSub.Channel():
			var c types.HeartbeatConfig
			if err := util.DecodeJSON(msg.Payload, &c); err != nil || c.Interval <= 0 {
				println("[heartbeat] ignoring config")
				continue
			}
			tick.Reset(time.Duration(c.Interval * float64(time.Second)))
			println("[heartbeat] interval", uint32(c.Interval*1000), "ms")
		}
	}
}

func (s *Service) line(t time.Time) string {
	s.beats++
	b := make([]byte, 0, 96)
	b = append(b, "[heartbeat] "...)
	b = t.AppendFormat(b, "15:04:05")
	if s.stats == nil {
		return string(b)
	}
	st := s.stats()
	for _, f := range [...]struct {
		k string
		v uint32
	}{
		{" ex=", st.Exchanges},
		{" ok=", st.Successes},
		{" burst=", st.Bursts},
		{" buf=", st.Buffers},
		{" dec=", st.Decisions},
		{" late=", st.Late},
		{" drop=", st.SummaryDrop + st.FrameDrop},
	} {
		b = append(b, f.k...)
		b = conv.AppendUint(b, uint64(f.v))
	}
	return string(b)
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn, nil)
	return nil
}
