package main

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ipc-backbone/ipc-go/pkg/ipc"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// latencySummary describes a set of round-trip samples.
type latencySummary struct {
	N    int
	Min  time.Duration
	Mean time.Duration
	P50  time.Duration
	P99  time.Duration
	Max  time.Duration
}

func summarize(samples []time.Duration) latencySummary {
	if len(samples) == 0 {
		return latencySummary{}
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var total time.Duration
	for _, s := range sorted {
		total += s
	}
	return latencySummary{
		N:    len(sorted),
		Min:  sorted[0],
		Mean: total / time.Duration(len(sorted)),
		P50:  percentile(sorted, 0.50),
		P99:  percentile(sorted, 0.99),
		Max:  sorted[len(sorted)-1],
	}
}

// percentile uses the nearest-rank method on sorted samples.
func percentile(sorted []time.Duration, p float64) time.Duration {
	rank := int(p*float64(len(sorted))+0.5) - 1
	if rank < 0 {
		rank = 0
	}
	if rank >= len(sorted) {
		rank = len(sorted) - 1
	}
	return sorted[rank]
}

func (s latencySummary) print(w io.Writer, name string) {
	fmt.Fprintf(w, "%-8s n=%-6d min=%-10v mean=%-10v p50=%-10v p99=%-10v max=%v\n",
		name, s.N,
		s.Min.Round(time.Microsecond), s.Mean.Round(time.Microsecond),
		s.P50.Round(time.Microsecond), s.P99.Round(time.Microsecond),
		s.Max.Round(time.Microsecond))
}

// measureRequests times n "t" requests.
func measureRequests(req *ipc.Requester, n int, timeout time.Duration) ([]time.Duration, error) {
	samples := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := req.Send(wire.CommandTime); err != nil {
			return samples, err
		}
		if _, err := req.Recv(timeout); err != nil {
			return samples, fmt.Errorf("request %d: %w", i, err)
		}
		samples = append(samples, time.Since(start))
	}
	return samples, nil
}

// latencyTopic returns a topic no other process publishes on.
func latencyTopic() string {
	return "latency." + uuid.NewString()
}

// measurePublish times n messages from d back to recv, which must already
// be subscribed to t.
func measurePublish(d *ipc.Dispatcher, recv *ipc.Receiver, t string, n int, timeout time.Duration) ([]time.Duration, error) {
	samples := make([]time.Duration, 0, n)
	for i := 0; i < n; i++ {
		start := time.Now()
		if err := d.Send(t, map[string]any{"seq": int64(i)}); err != nil {
			return samples, err
		}
		if err := awaitSeq(recv, t, int64(i), timeout); err != nil {
			return samples, fmt.Errorf("message %d: %w", i, err)
		}
		samples = append(samples, time.Since(start))
	}
	return samples, nil
}

var errDeadline = errors.New("no echo before deadline")

// awaitSeq skips stale echoes until the one carrying seq arrives.
func awaitSeq(recv *ipc.Receiver, t string, seq int64, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			return errDeadline
		}
		msg, err := recv.Receive(left)
		if err != nil {
			return err
		}
		if msg.Topic != t {
			continue
		}
		fields, ok := msg.Fields()
		if !ok {
			continue
		}
		if got, ok := fields["seq"].(int64); ok && got == seq {
			return nil
		}
	}
}
