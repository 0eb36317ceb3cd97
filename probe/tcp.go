package probe

import (
	"context"
	"net"
)

// TCP probes by completing a connection to the target port.
type TCP struct {
	Addr string
}

func (t *TCP) Check(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.Addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
