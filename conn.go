package redis

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"time"
)

// Connection is the transport seam the handler drives: one logical link
// to a Redis node, reconnectable and redialable without the handler
// knowing the wire details.
type Connection interface {
	// Read blocks for the next framed reply or push message.
	Read() (RespBuf, error)
	// WriteBatch encodes and writes cmds as one pipelined burst.
	WriteBatch(cmds []Command) error
	// Reconnect tears down the current socket (if any) and dials again,
	// optionally redirected by reason (MOVED/ASK/sentinel failover).
	Reconnect(reason *RetryReason) error
	// Close releases the current socket, if any.
	Close() error
	// Tag names the connection for logging, e.g. "tcp 10.0.0.1:6379".
	Tag() string
}

// tcpConnection is the standalone/cluster Connection implementation:
// one net.Conn, wrapped in crypto/tls when configured, speaking the
// AUTH/SELECT/CLIENT SETNAME handshake before handing control to the
// handler. No HELLO is sent.
//
// Grounded on the teacher's connect(c connConfig) in client.go: dial,
// SetNoDelay/SetLinger tuning, handshake frame construction via direct
// []byte append.
type tcpConnection struct {
	config    Config
	endpoints []Endpoint
	next      int // round-robin index into endpoints on plain reconnect

	conn net.Conn
	r    *bufio.Reader
	tag  string
}

// NewTCPConnection builds a Connection that dials cfg.Endpoints (or
// resolves a master through cfg.Sentinel first) on the first Reconnect
// call. It does not dial eagerly.
func NewTCPConnection(cfg Config) Connection {
	return &tcpConnection{config: cfg.withDefaults(), endpoints: cfg.Endpoints}
}

func (c *tcpConnection) Tag() string { return c.tag }

func (c *tcpConnection) Read() (RespBuf, error) {
	if c.r == nil {
		return RespBuf{}, ErrConnLost
	}
	return ReadRespBuf(c.r)
}

func (c *tcpConnection) WriteBatch(cmds []Command) error {
	if c.conn == nil {
		return ErrConnLost
	}
	var buf []byte
	for _, cmd := range cmds {
		buf = encodeCommand(buf, cmd)
	}
	if c.config.CommandTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.config.CommandTimeout))
	}
	_, err := c.conn.Write(buf)
	return err
}

func (c *tcpConnection) Close() error {
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	c.r = nil
	return err
}

// Reconnect dials a fresh socket. When reason names a MOVED/ASK
// redirect, that address is dialed instead of the configured endpoint
// list; a sentinel-resolved master address takes the same path, marked
// with RetrySentinel.
func (c *tcpConnection) Reconnect(reason *RetryReason) error {
	c.Close()

	endpoint, err := c.resolveEndpoint(reason)
	if err != nil {
		return err
	}

	conn, err := c.dial(endpoint)
	if err != nil {
		return err
	}
	r := bufio.NewReader(conn)

	if err := c.handshake(conn, r); err != nil {
		conn.Close()
		return err
	}

	c.conn = conn
	c.r = r
	c.tag = endpoint.network() + " " + endpoint.Addr
	return nil
}

func (c *tcpConnection) resolveEndpoint(reason *RetryReason) (Endpoint, error) {
	if reason != nil && reason.Addr != "" {
		return Endpoint{Network: "tcp", Addr: normalizeAddr(reason.Addr)}, nil
	}
	if c.config.Sentinel != nil {
		return c.resolveSentinelMaster()
	}
	if len(c.endpoints) == 0 {
		return Endpoint{}, fmt.Errorf("redis: no endpoints configured")
	}
	e := c.endpoints[c.next%len(c.endpoints)]
	c.next++
	return e, nil
}

// resolveSentinelMaster queries each configured sentinel in turn for the
// current master address, grounded on the SENTINEL MASTER /
// SENTINEL SENTINELS exchange in ateleshev-radix.v2/sentinel2.
func (c *tcpConnection) resolveSentinelMaster() (Endpoint, error) {
	var lastErr error
	for _, sentinel := range c.config.Sentinel.Endpoints {
		addr, err := queryMasterAddr(sentinel, c.config.Sentinel.MasterName, c.config.ConnectTimeout)
		if err != nil {
			lastErr = err
			continue
		}
		return Endpoint{Network: "tcp", Addr: addr}, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("redis: no sentinel endpoints configured")
	}
	return Endpoint{}, fmt.Errorf("redis: sentinel master resolution failed: %w", lastErr)
}

// queryMasterAddr opens a short-lived connection to one sentinel and
// issues SENTINEL GET-MASTER-ADDR-BY-NAME.
func queryMasterAddr(sentinel Endpoint, masterName string, timeout time.Duration) (string, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.Dial(sentinel.network(), normalizeAddr(sentinel.Addr))
	if err != nil {
		return "", err
	}
	defer conn.Close()

	cmd := NewCommand("SENTINEL", []byte("GET-MASTER-ADDR-BY-NAME"), []byte(masterName))
	if _, err := conn.Write(encodeCommand(nil, cmd)); err != nil {
		return "", err
	}

	r := bufio.NewReader(conn)
	reply, err := ReadRespBuf(r)
	if err != nil {
		return "", err
	}
	if reply.Type == Error {
		return "", ServerError(reply.Raw)
	}
	if reply.IsNull || len(reply.Elements) < 2 {
		return "", fmt.Errorf("redis: sentinel reports no master for %q", masterName)
	}
	host := string(reply.Elements[0].Raw)
	port := string(reply.Elements[1].Raw)
	return net.JoinHostPort(host, port), nil
}

func (c *tcpConnection) dial(e Endpoint) (net.Conn, error) {
	dialer := net.Dialer{Timeout: c.config.ConnectTimeout}
	network := e.network()
	addr := e.Addr
	if network == "tcp" {
		addr = normalizeAddr(addr)
	}

	conn, err := dialer.Dial(network, addr)
	if err != nil {
		return nil, err
	}

	if c.config.TLS != nil {
		conn = tls.Client(conn, c.config.TLS)
	}

	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetNoDelay(false)
		tcpConn.SetLinger(0)
	}
	return conn, nil
}

// handshake issues AUTH/SELECT/CLIENT SETNAME as configured, in the
// order Redis expects them, failing on the first error reply.
func (c *tcpConnection) handshake(conn net.Conn, r *bufio.Reader) error {
	if len(c.config.Password) != 0 {
		if err := c.exchangeOK(conn, r, NewCommand("AUTH", c.config.Password)); err != nil {
			return fmt.Errorf("redis: AUTH failed: %w", err)
		}
	}
	if c.config.DB != 0 {
		if err := c.exchangeOK(conn, r, NewCommand("SELECT").AddInt(c.config.DB)); err != nil {
			return fmt.Errorf("redis: SELECT failed: %w", err)
		}
	}
	if c.config.ClientName != "" {
		if err := c.exchangeOK(conn, r, NewCommand("CLIENT", []byte("SETNAME"), []byte(c.config.ClientName))); err != nil {
			return fmt.Errorf("redis: CLIENT SETNAME failed: %w", err)
		}
	}
	return nil
}

func (c *tcpConnection) exchangeOK(conn net.Conn, r *bufio.Reader, cmd Command) error {
	if _, err := conn.Write(encodeCommand(nil, cmd)); err != nil {
		return err
	}
	reply, err := ReadRespBuf(r)
	if err != nil {
		return err
	}
	if reply.Type == Error {
		return ServerError(reply.Raw)
	}
	return nil
}
