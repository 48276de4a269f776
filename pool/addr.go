// Package pool implements the connection manager: address-keyed pools of
// connections, a selection strategy, warmup, and a background scanner —
// spec.md 4.7. This is new relative to the host application (whose
// ConnManager is a flat uid->conn map with no pooling), built in the
// pack's general idiom of a small interface plus one concrete default.
package pool

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/WuKongIM/wkrpc/rerrors"
)

// Address is a parsed connection-pool target: ip:port plus the option
// grammar of spec.md 6.
type Address struct {
	Host string
	Port int

	ConnectTimeout   time.Duration
	Protocol         byte
	Version          byte
	ConnectionNum    int
	ConnectionWarmup bool
	IdleTimeout      time.Duration
}

func defaultAddress() Address {
	return Address{
		ConnectTimeout:   time.Second,
		Protocol:         1,
		Version:          1,
		ConnectionNum:    1,
		ConnectionWarmup: false,
		IdleTimeout:      90 * time.Second,
	}
}

// ParseAddress parses "ip:port[?k1=v1&k2=v2]" per spec.md 6's exact
// table; no options beyond that table are recognized (Non-goals cap
// address-grammar parsing to this minimal set).
func ParseAddress(raw string) (Address, error) {
	a := defaultAddress()

	hostPort := raw
	var query string
	if idx := strings.IndexByte(raw, '?'); idx >= 0 {
		hostPort = raw[:idx]
		query = raw[idx+1:]
	}

	host, portStr, err := splitHostPort(hostPort)
	if err != nil {
		return Address{}, rerrors.Wrap(rerrors.UNKNOWN, errors.Wrap(err, "parse address"))
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, rerrors.Wrap(rerrors.UNKNOWN, errors.Wrap(err, "parse port"))
	}
	a.Host = host
	a.Port = port

	if query != "" {
		values, err := url.ParseQuery(query)
		if err != nil {
			return Address{}, rerrors.Wrap(rerrors.UNKNOWN, errors.Wrap(err, "parse address options"))
		}
		if v := values.Get("_CONNECTTIMEOUT"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return Address{}, rerrors.New(rerrors.UNKNOWN, "invalid _CONNECTTIMEOUT")
			}
			a.ConnectTimeout = time.Duration(ms) * time.Millisecond
		}
		if v := values.Get("_PROTOCOL"); v != "" {
			p, err := strconv.Atoi(v)
			if err != nil {
				return Address{}, rerrors.New(rerrors.UNKNOWN, "invalid _PROTOCOL")
			}
			a.Protocol = byte(p)
		}
		if v := values.Get("_VERSION"); v != "" {
			ver, err := strconv.Atoi(v)
			if err != nil {
				return Address{}, rerrors.New(rerrors.UNKNOWN, "invalid _VERSION")
			}
			a.Version = byte(ver)
		}
		if v := values.Get("_CONNECTIONNUM"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return Address{}, rerrors.New(rerrors.UNKNOWN, "invalid _CONNECTIONNUM")
			}
			a.ConnectionNum = n
		}
		if v := values.Get("_CONNECTIONWARMUP"); v != "" {
			a.ConnectionWarmup = v == "true"
		}
		if v := values.Get("_IDLETIMEOUT"); v != "" {
			ms, err := strconv.Atoi(v)
			if err != nil {
				return Address{}, rerrors.New(rerrors.UNKNOWN, "invalid _IDLETIMEOUT")
			}
			a.IdleTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	return a, nil
}

func splitHostPort(hostPort string) (string, string, error) {
	idx := strings.LastIndexByte(hostPort, ':')
	if idx < 0 {
		return "", "", errors.New("missing port")
	}
	return hostPort[:idx], hostPort[idx+1:], nil
}

// UniqueKey is the connection-pool key: the normalized host:port plus
// the options that change what gets built (protocol, version), per the
// GLOSSARY's "string derived from an address ... includes port and
// normalized options".
func (a Address) UniqueKey() string {
	return a.Host + ":" + strconv.Itoa(a.Port) + "?p=" + strconv.Itoa(int(a.Protocol)) + "&v=" + strconv.Itoa(int(a.Version))
}

// HostPort returns the dialable "host:port" form.
func (a Address) HostPort() string {
	return a.Host + ":" + strconv.Itoa(a.Port)
}
