package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/ipc-backbone/ipc-go/pkg/port"
	"github.com/ipc-backbone/ipc-go/pkg/wire"
)

// ErrDiscovery indicates the request endpoint answered a port query with
// something that is not a port.
var ErrDiscovery = errors.New("endpoint discovery failed")

// DefaultDiscoverTimeout bounds each port query.
const DefaultDiscoverTimeout = 5 * time.Second

// Endpoints are the three backbone endpoints as tcp:// URLs.
type Endpoints struct {
	Pub string
	Sub string
	Req string
}

// DiscoverEndpoints opens a requester on requestEndpoint and asks for the
// subscribe and publish ports. The returned endpoints use the host of
// requestEndpoint.
func DiscoverEndpoints(ctx context.Context, d port.Dialer, requestEndpoint string) (Endpoints, error) {
	host, _, err := net.SplitHostPort(strings.TrimPrefix(requestEndpoint, "tcp://"))
	if err != nil {
		return Endpoints{}, fmt.Errorf("%w: %v", ErrDiscovery, err)
	}

	req, err := d.DialRequester(ctx, requestEndpoint)
	if err != nil {
		return Endpoints{}, err
	}
	r := NewRequester(req)
	defer r.Close()

	timeout := DefaultDiscoverTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
		if timeout <= 0 {
			return Endpoints{}, ctx.Err()
		}
	}

	subPort, err := queryPort(r, wire.CommandSubPort, timeout)
	if err != nil {
		return Endpoints{}, err
	}
	pubPort, err := queryPort(r, wire.CommandPubPort, timeout)
	if err != nil {
		return Endpoints{}, err
	}

	return Endpoints{
		Pub: "tcp://" + net.JoinHostPort(host, pubPort),
		Sub: "tcp://" + net.JoinHostPort(host, subPort),
		Req: "tcp://" + strings.TrimPrefix(requestEndpoint, "tcp://"),
	}, nil
}

func queryPort(r *Requester, cmd string, timeout time.Duration) (string, error) {
	if err := r.Send(cmd); err != nil {
		return "", err
	}
	reply, err := r.Recv(timeout)
	if err != nil {
		return "", err
	}
	reply = strings.TrimSpace(reply)
	n, err := strconv.Atoi(reply)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: %s answered %q", ErrDiscovery, cmd, reply)
	}
	return reply, nil
}
