package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/example/boardsync/internal/protocol"
)

type latencySample struct {
	dur time.Duration
}

func main() {
	addr := flag.String("addr", "ws://localhost:8080/", "websocket address to target")
	room := flag.String("room", "loadtest", "room joined by all clients")
	clients := flag.Int("clients", 1000, "number of concurrent websocket clients")
	messages := flag.Int("messages", 20, "number of broadcasts to send")
	interval := flag.Duration("interval", 200*time.Millisecond, "delay between broadcasts")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339Nano
	logger := log.With().Str("room", *room).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}

	latencyCh := make(chan latencySample, *clients**messages)
	var wg sync.WaitGroup

	for i := 0; i < *clients; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			conn, _, err := dialer.DialContext(ctx, *addr, nil)
			if err != nil {
				logger.Error().Err(err).Int("client", id).Msg("dial failed")
				return
			}
			defer conn.Close()

			if err := joinRoom(conn, *room); err != nil {
				logger.Error().Err(err).Int("client", id).Msg("join failed")
				return
			}

			// The reader must finish before latencyCh closes, or a
			// late sample would hit a closed channel.
			wg.Add(1)
			go func() {
				defer wg.Done()
				readerLoop(ctx, conn, latencyCh, logger)
			}()

			if id == 0 {
				// broadcaster client
				sendTicker := time.NewTicker(*interval)
				defer sendTicker.Stop()
				for j := 0; j < *messages; j++ {
					select {
					case <-ctx.Done():
						return
					case <-sendTicker.C:
						if err := sendTimestampedSync(conn); err != nil {
							logger.Error().Err(err).Msg("failed to send sync")
							return
						}
					}
				}
				stop()
			} else {
				<-ctx.Done()
			}
		}(i)
	}

	go func() {
		wg.Wait()
		close(latencyCh)
	}()

	<-ctx.Done()
	report(latencyCh, logger)
}

func joinRoom(conn *websocket.Conn, room string) error {
	frame, err := protocol.EncodeClient(protocol.Join{Room: room})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return err
	}

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	defer conn.SetReadDeadline(time.Time{})

	_, data, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	msg, err := protocol.DecodeServer(data)
	if err != nil {
		return err
	}
	if _, ok := msg.(protocol.Joined); !ok {
		return fmt.Errorf("expected joined confirmation, got %T", msg)
	}
	return nil
}

func sendTimestampedSync(conn *websocket.Conn) error {
	sentAt := time.Now().UTC().Format(time.RFC3339Nano)
	frame, err := protocol.EncodeClient(protocol.SyncRequest{
		Data: protocol.EncodeSyncData([]byte(sentAt)),
	})
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, frame)
}

func readerLoop(ctx context.Context, conn *websocket.Conn, latencies chan<- latencySample, logger zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				logger.Warn().Err(err).Msg("read error")
			}
			return
		}

		msg, err := protocol.DecodeServer(data)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to decode server message")
			continue
		}
		sync, ok := msg.(protocol.SyncBroadcast)
		if !ok {
			continue
		}

		payload, err := protocol.DecodeSyncData(sync.Data)
		if err != nil {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, string(payload)); err == nil {
			latencies <- latencySample{dur: time.Since(ts)}
		}
	}
}

func report(samples <-chan latencySample, logger zerolog.Logger) {
	var count int
	var total time.Duration
	var max time.Duration
	var under50ms int

	for s := range samples {
		count++
		total += s.dur
		if s.dur > max {
			max = s.dur
		}
		if s.dur < 50*time.Millisecond {
			under50ms++
		}
	}

	if count == 0 {
		fmt.Fprintln(os.Stdout, "no samples collected")
		return
	}

	avg := time.Duration(int64(math.Round(float64(total) / float64(count))))
	pct := (float64(under50ms) / float64(count)) * 100

	fmt.Fprintf(os.Stdout, "Samples: %d\nAvg latency: %s\nMax latency: %s\n<50ms: %.2f%%\n", count, avg, max, pct)
	if pct < 95 {
		logger.Warn().Msg("less than 95% of broadcasts met the 50ms target")
	}
}
