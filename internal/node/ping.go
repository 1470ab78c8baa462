package node

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/gezibash/arc-conduit/internal/config"
	"github.com/gezibash/arc-conduit/pkg/client"
	"github.com/gezibash/arc-conduit/pkg/logging"
)

// PingOptions controls a ping run.
type PingOptions struct {
	Messages int
	Warmup   int
	// Timeout bounds the wait for any single reply.
	Timeout time.Duration
}

// PingResult summarizes measured round trips. Warmup replies are excluded.
type PingResult struct {
	Messages int
	Min      time.Duration
	Mean     time.Duration
	P50      time.Duration
	P90      time.Duration
	P99      time.Duration
	P999     time.Duration
	Max      time.Duration
	Elapsed  time.Duration
}

// Percentile returns the q-th quantile, 0 < q <= 1, of sorted samples by the
// nearest-rank method.
func Percentile(sorted []time.Duration, q float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(q*float64(len(sorted))+0.5) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func summarize(samples []time.Duration, elapsed time.Duration) *PingResult {
	r := &PingResult{Messages: len(samples), Elapsed: elapsed}
	if len(samples) == 0 {
		return r
	}
	slices.Sort(samples)
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	r.Min = samples[0]
	r.Max = samples[len(samples)-1]
	r.Mean = sum / time.Duration(len(samples))
	r.P50 = Percentile(samples, 0.50)
	r.P90 = Percentile(samples, 0.90)
	r.P99 = Percentile(samples, 0.99)
	r.P999 = Percentile(samples, 0.999)
	return r
}

// pinger owns the four handles of a ping run: pings go out on the configured
// stream, are echoed by the ponger onto stream+1 and timed on arrival.
type pinger struct {
	engine
	log *logging.Logger

	pingPub *client.ExclusivePublication
	pingSub *client.Subscription
	pongPub *client.ExclusivePublication
	pongSub *client.Subscription

	length  int
	pending []byte
	echoErr error
	replies int
	last    time.Duration
}

// Ping measures round-trip latency through an embedded driver. Every ping
// and every echo is written in place with Claim.
func Ping(ctx context.Context, cfg config.Config, opts PingOptions, deps Deps) (_ *PingResult, err error) {
	if opts.Messages < 1 {
		return nil, fmt.Errorf("ping: messages must be at least 1, got %d", opts.Messages)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	stream := cfg.Stream
	log := deps.Logger
	if log == nil {
		log = logging.Discard()
	}
	log = log.WithComponent("ping").WithStream(stream.Channel, stream.StreamID)

	p := &pinger{log: log, length: max(stream.MessageLength, MinMessageLength)}
	defer func() { err = errors.Join(err, p.close()) }()

	if err := p.start(cfg, deps, log); err != nil {
		return nil, err
	}
	if err := p.connect(ctx, stream, opts.Timeout); err != nil {
		return nil, err
	}

	for range opts.Warmup {
		if _, err := p.roundTrip(ctx, opts.Timeout); err != nil {
			return nil, fmt.Errorf("warmup: %w", err)
		}
	}

	samples := make([]time.Duration, 0, opts.Messages)
	start := time.Now()
	for range opts.Messages {
		rtt, err := p.roundTrip(ctx, opts.Timeout)
		if err != nil {
			return summarize(samples, time.Since(start)), err
		}
		samples = append(samples, rtt)
	}
	res := summarize(samples, time.Since(start))
	log.Info("ping complete", "messages", res.Messages, "p50", res.P50, "p99", res.P99)
	return res, nil
}

func (p *pinger) connect(ctx context.Context, stream config.StreamConfig, timeout time.Duration) error {
	pongStream := stream.StreamID + 1
	var err error
	if p.pingSub, err = p.client.AddSubscription(ctx, stream.Channel, stream.StreamID, nil, nil); err != nil {
		return fmt.Errorf("add ping subscription: %w", err)
	}
	if p.pongSub, err = p.client.AddSubscription(ctx, stream.Channel, pongStream, nil, nil); err != nil {
		return fmt.Errorf("add pong subscription: %w", err)
	}
	if p.pingPub, err = p.client.AddExclusivePublication(ctx, stream.Channel, stream.StreamID); err != nil {
		return fmt.Errorf("add ping publication: %w", err)
	}
	if p.pongPub, err = p.client.AddExclusivePublication(ctx, stream.Channel, pongStream); err != nil {
		return fmt.Errorf("add pong publication: %w", err)
	}
	if p.length > p.pingPub.MaxPayloadLength() {
		return fmt.Errorf("ping: message length %d exceeds max payload length %d", p.length, p.pingPub.MaxPayloadLength())
	}

	// Wait until both directions have a linked image.
	return p.await(ctx, timeout, func() bool {
		return p.pingPub.IsConnected() && p.pongPub.IsConnected()
	})
}

// roundTrip sends one ping and returns once its echo arrives.
func (p *pinger) roundTrip(ctx context.Context, timeout time.Duration) (time.Duration, error) {
	want := p.replies + 1
	sentAt := time.Now()

	var sendErr error
	err := p.await(ctx, timeout, func() bool {
		_, sendErr = p.pingPub.Claim(p.length, func(buf []byte) error {
			binary.BigEndian.PutUint64(buf[0:8], uint64(want))
			binary.BigEndian.PutUint64(buf[8:16], uint64(sentAt.UnixNano()))
			return nil
		})
		return sendErr == nil || !client.Retryable(sendErr)
	})
	if err == nil {
		err = sendErr
	}
	if err != nil {
		return 0, fmt.Errorf("send ping %d: %w", want, err)
	}

	echo := client.FragmentHandlerFunc(p.echo)
	pong := client.FragmentHandlerFunc(p.pong)
	var pollErr error
	err = p.await(ctx, timeout, func() bool {
		if len(p.pending) > 0 {
			p.echo(p.pending, nil)
		} else if _, pollErr = p.pingSub.Poll(echo, fragmentLimit); pollErr != nil {
			return true
		}
		if p.echoErr != nil {
			pollErr = p.echoErr
			return true
		}
		if _, pollErr = p.pongSub.Poll(pong, fragmentLimit); pollErr != nil {
			return true
		}
		return p.replies >= want
	})
	if err == nil {
		err = pollErr
	}
	if err != nil {
		return 0, fmt.Errorf("await pong %d: %w", want, err)
	}
	return p.last, nil
}

// echo copies a ping onto the pong stream. A transient rejection parks the
// ping in pending until the next duty cycle.
func (p *pinger) echo(buf []byte, _ *client.Header) {
	_, err := p.pongPub.Claim(len(buf), func(dst []byte) error {
		copy(dst, buf)
		return nil
	})
	switch {
	case err == nil:
		p.pending = p.pending[:0]
	case client.Retryable(err):
		if len(p.pending) == 0 {
			p.pending = append(p.pending, buf...)
		}
	default:
		p.echoErr = err
	}
}

func (p *pinger) pong(buf []byte, _ *client.Header) {
	if len(buf) < MinMessageLength {
		return
	}
	sentAt := int64(binary.BigEndian.Uint64(buf[8:16]))
	p.last = time.Duration(time.Now().UnixNano() - sentAt)
	p.replies++
}

// await runs the client duty cycle until done reports true, ctx ends or
// timeout elapses. A zero timeout waits for ctx only.
func (p *pinger) await(ctx context.Context, timeout time.Duration, done func() bool) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.client.DoWork(); err != nil {
			return err
		}
		if done() {
			return nil
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return fmt.Errorf("no progress within %s", timeout)
		}
	}
}

func (p *pinger) close() error {
	var errs []error
	if p.pingPub != nil {
		errs = append(errs, p.pingPub.Close())
	}
	if p.pongPub != nil {
		errs = append(errs, p.pongPub.Close())
	}
	if p.pingSub != nil {
		errs = append(errs, p.pingSub.Close())
	}
	if p.pongSub != nil {
		errs = append(errs, p.pongSub.Close())
	}
	errs = append(errs, p.engine.close())
	return errors.Join(errs...)
}
