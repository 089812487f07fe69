// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package ine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"
)

// Default client configuration values
const (
	DefaultConnectTimeout     = 10 * time.Second
	DefaultOperationTimeout   = 30 * time.Second
	DefaultIdleTimeout        = 100 * time.Millisecond
	DefaultReadBufferSize     = 64 * 1024
	DefaultMaxSessionRenewals = 3
)

// sessionExpiredMarker identifies the reply sent for an unknown or expired session
const sessionExpiredMarker = "Unable to find user session"

// State is the lifecycle state of the appliance session
type State int

const (
	// StateDisconnected means no connection is open
	StateDisconnected State = iota

	// StateConnecting means a connection is being dialed
	StateConnecting

	// StateConnected means the connection is open
	StateConnected

	// StateReAuthenticating means an expired session is being renewed
	StateReAuthenticating
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReAuthenticating:
		return "reauthenticating"
	default:
		return fmt.Sprintf("unknown(%d)", s)
	}
}

// dialFunc opens the raw connection to the appliance
type dialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Client represents a session with a network emulation appliance
type Client struct {
	// conn is the single appliance connection (lazy)
	conn net.Conn

	// sessionToken is the verbatim `--sessionId "<token>"` login reply,
	// used as the prefix of every session-bearing command
	sessionToken string

	// closed is set by Close; the client cannot be reused afterwards
	closed bool

	// mu serialises round trips; the protocol has no pipelining
	mu sync.Mutex

	// stateMu guards state and lastErr so they can be read during a round trip
	stateMu sync.RWMutex
	state   State
	lastErr error

	// Connection parameters
	Target   string
	Port     int
	username string // unexported for security
	password string // unexported for security

	// Proxy configuration
	proxyAddress string
	proxyAuth    *proxy.Auth

	// Timeout configuration
	ConnectTimeout   time.Duration
	OperationTimeout time.Duration
	IdleTimeout      time.Duration

	// ReadBufferSize bounds a single read
	ReadBufferSize int

	// MaxSessionRenewals bounds consecutive re-logins for one command
	MaxSessionRenewals int

	// Layout is the canvas geometry used by CreateEmulation
	Layout Layout

	// Retry table for known server races
	retryRules []RetryRule

	// limiter paces commands (nil: unpaced)
	limiter *rate.Limiter

	logger Logger
	dial   dialFunc
}

// NewClient creates a new appliance client with the specified target and options
//
// The client does NOT connect immediately. The connection is opened and the
// session established on the first command (lazy connection). Use Connect
// and Login to do this explicitly.
//
// Example:
//
//	client, err := ine.NewClient(
//	    "10.1.1.10",
//	    ine.Port(9000),
//	    ine.Username("admin"),
//	    ine.Password("secret"),
//	    ine.OperationTimeout(time.Minute),
//	)
//	if err != nil {
//	    log.Fatal(err)  // Configuration error
//	}
//	defer client.Close()
//
// Returns a configured Client or an error if configuration validation fails.
func NewClient(target string, opts ...func(*Client)) (*Client, error) {
	client := &Client{
		Target:             target,
		ConnectTimeout:     DefaultConnectTimeout,
		OperationTimeout:   DefaultOperationTimeout,
		IdleTimeout:        DefaultIdleTimeout,
		ReadBufferSize:     DefaultReadBufferSize,
		MaxSessionRenewals: DefaultMaxSessionRenewals,
		Layout:             DefaultLayout,
		retryRules:         append([]RetryRule(nil), TransientErrors...),
		logger:             &NoOpLogger{},
	}

	for _, opt := range opts {
		opt(client)
	}

	if err := client.validateConfig(); err != nil {
		return nil, err
	}

	client.logger.Info(context.Background(), "appliance client created",
		"target", client.address(),
		"connection", "lazy")

	return client, nil
}

// validateConfig validates client configuration before connection
//
// Validates:
//   - Target is not empty and a port is known (option or host:port)
//   - Positive timeouts and read buffer
//   - Non-negative session renewal limit
//   - Layout geometry and retry rules
//
// Returns an error if validation fails.
func (c *Client) validateConfig() error {
	if strings.TrimSpace(c.Target) == "" {
		return fmt.Errorf("target address cannot be empty")
	}

	if _, port, err := net.SplitHostPort(c.Target); err == nil {
		p, err := strconv.Atoi(port)
		if err != nil || p < 1 || p > 65535 {
			return fmt.Errorf("invalid port in target: %q", port)
		}
	} else if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", c.Port)
	}

	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got: %v", c.ConnectTimeout)
	}
	if c.OperationTimeout <= 0 {
		return fmt.Errorf("operation timeout must be positive, got: %v", c.OperationTimeout)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("idle timeout must be positive, got: %v", c.IdleTimeout)
	}
	if c.ReadBufferSize <= 0 {
		return fmt.Errorf("read buffer size must be positive, got: %d", c.ReadBufferSize)
	}
	if c.MaxSessionRenewals < 0 {
		return fmt.Errorf("max session renewals must be non-negative, got: %d", c.MaxSessionRenewals)
	}
	if err := c.Layout.validate(); err != nil {
		return err
	}
	for _, r := range c.retryRules {
		if err := r.validate(); err != nil {
			return err
		}
	}

	if c.username == "" && c.password == "" {
		c.logger.Warn(context.Background(), "No credentials configured",
			"target", c.Target,
			"message", "appliance will reject the login")
	}

	return nil
}

// address returns host:port for dialing
func (c *Client) address() string {
	if _, _, err := net.SplitHostPort(c.Target); err == nil {
		return c.Target
	}
	return net.JoinHostPort(c.Target, strconv.Itoa(c.Port))
}

// State returns the current session state
func (c *Client) State() State {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.state
}

// LastError returns the last connectivity or authentication error, if any
func (c *Client) LastError() error {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.lastErr
}

func (c *Client) setState(s State) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

func (c *Client) setLastError(err error) {
	c.stateMu.Lock()
	c.lastErr = err
	c.stateMu.Unlock()
}

// SessionID returns the current session token without the reply header,
// or "" before login
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sessionToken == "" {
		return ""
	}
	return Decode(c.sessionToken).Payload
}

// HasCredentials returns true if credentials are configured
func (c *Client) HasCredentials() bool {
	return c.username != "" || c.password != ""
}

// Connect opens the appliance connection if it is not already open
//
// Calling Connect is optional; every command connects on demand.
func (c *Client) Connect(ctx context.Context) error {
	if err := checkContextCancellation(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newError("connect", ErrClosed, "client is closed")
	}
	return c.ensureConnected(ctx)
}

// Login establishes a new session and stores its token
//
// Calling Login is optional; the first session-bearing command logs in.
func (c *Client) Login(ctx context.Context) error {
	if err := checkContextCancellation(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return newError("login", ErrClosed, "client is closed")
	}
	return c.login(ctx)
}

// Disconnect closes the connection but preserves configuration and session.
//
// Unlike Close(), this method allows the client to be reused - subsequent
// commands reconnect automatically and keep using the session token.
//
// Thread-safe: waits for an in-flight command to finish.
func (c *Client) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return
	}
	if err := c.conn.Close(); err != nil {
		c.logger.Warn(context.Background(), "connection close returned error during disconnect",
			"target", c.Target,
			"error", err.Error())
	}
	c.conn = nil
	c.setState(StateDisconnected)

	c.logger.Info(context.Background(), "appliance connection disconnected",
		"target", c.Target,
		"reusable", true)
}

// Close closes the connection and discards the session (terminal operation).
//
// Use Disconnect() instead to release the connection while keeping the
// client usable.
//
// Thread-safe: safe to call multiple times (subsequent calls are no-ops).
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.sessionToken = ""
	c.setState(StateDisconnected)

	if c.conn == nil {
		return nil
	}
	conn := c.conn
	c.conn = nil
	if err := conn.Close(); err != nil {
		return err
	}

	c.logger.Info(context.Background(), "appliance connection closed",
		"target", c.Target,
		"reusable", false)
	return nil
}

// Exec sends a built command and returns the decoded reply
//
// A command that failed to build is an ErrValidation error; nothing is sent.
func (c *Client) Exec(ctx context.Context, cmd Command, mods ...func(*Req)) (Reply, error) {
	line, err := cmd.String()
	if err != nil {
		return Reply{}, &IneError{
			Operation:   "exec",
			Kind:        ErrValidation,
			Message:     "invalid command",
			InternalMsg: err.Error(),
		}
	}
	return c.Send(ctx, line, mods...)
}

// Send sends one command line and returns the decoded reply
//
// The session token is prefixed unless NoSession() is given, logging in
// first if there is no session yet. A write failure reconnects and resends
// once. An expired-session reply renews the session and resends, at most
// MaxSessionRenewals consecutive times.
//
// Error replies from the appliance are not Go errors: inspect Reply.IsError.
//
// Example:
//
//	reply, err := client.Send(ctx, "--getemulations")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(reply.Fields)
func (c *Client) Send(ctx context.Context, command string, mods ...func(*Req)) (Reply, error) {
	req := Req{}
	for _, mod := range mods {
		mod(&req)
	}

	if err := checkContextCancellation(ctx); err != nil {
		return Reply{}, err
	}
	if strings.ContainsAny(command, "\r\n") {
		return Reply{}, newError("send", ErrValidation, "command contains a line break")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return Reply{}, err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return Reply{}, newError("send", ErrClosed, "client is closed")
	}

	raw, err := c.sendSession(ctx, command, req)
	if err != nil {
		return Reply{}, err
	}
	return Decode(raw), nil
}

// sendSession runs one command with lazy login and session renewal
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) sendSession(ctx context.Context, command string, req Req) (string, error) {
	if req.NoSession {
		return c.roundTrip(ctx, command, req)
	}

	if c.sessionToken == "" {
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}

	for renewals := 0; ; renewals++ {
		raw, err := c.roundTrip(ctx, c.sessionToken+" "+command, req)
		if err != nil {
			return "", err
		}
		if reply := Decode(raw); !reply.IsError() || !strings.Contains(reply.ErrorMessage(), sessionExpiredMarker) {
			return raw, nil
		}

		if renewals >= c.MaxSessionRenewals {
			c.logger.Error(ctx, "session renewal limit reached",
				"target", c.Target,
				"renewals", renewals)
			err := &IneError{
				Operation:   "send",
				Kind:        ErrSessionExpired,
				Message:     "session could not be renewed",
				InternalMsg: raw,
				Reply:       raw,
				Retries:     renewals,
			}
			c.setLastError(err)
			return "", err
		}

		c.logger.Warn(ctx, "session expired, renewing",
			"target", c.Target,
			"attempt", renewals+1)
		c.setState(StateReAuthenticating)
		if err := c.login(ctx); err != nil {
			return "", err
		}
	}
}

// login sends the login command and stores the session token
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) login(ctx context.Context) error {
	line, err := NewCommand().Quoted("--login", c.username+";"+c.password).String()
	if err != nil || strings.Contains(c.username, ";") {
		return newError("login", ErrValidation, "credentials contain reserved characters")
	}

	raw, err := c.roundTrip(ctx, line, Req{NoSession: true})
	if err != nil {
		return err
	}

	reply := Decode(raw)
	if reply.Header != HeaderSessionID || reply.Payload == "" {
		c.sessionToken = ""
		msg := reply.ErrorMessage()
		if msg == "" {
			msg = "unexpected login reply"
		}
		err := &IneError{
			Operation:   "login",
			Kind:        ErrAuth,
			Message:     msg,
			InternalMsg: redactCommand(raw),
			Reply:       redactCommand(raw),
		}
		c.setLastError(err)
		c.logger.Error(ctx, "appliance login failed",
			"target", c.Target,
			"error", msg)
		return err
	}

	c.sessionToken = reply.Raw
	c.setState(StateConnected)
	c.logger.Info(ctx, "appliance session established",
		"target", c.Target)
	return nil
}

// roundTrip writes one line and reads its reply
//
// A connection the appliance closed while it was idle is detected by a
// write failure or by an empty EOF; either way the command is resent once on
// a new connection. A reply ended by EOF or without a header leaves the
// connection unusable, so it is dropped.
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) roundTrip(ctx context.Context, line string, req Req) (string, error) {
	reused := c.conn != nil
	if err := c.ensureConnected(ctx); err != nil {
		return "", err
	}

	deadline := c.deadline(ctx, req)
	payload := []byte(line + "\n")

	c.logger.Debug(ctx, "appliance request",
		"target", c.Target,
		"command", redactCommand(line))

	if err := c.write(ctx, payload, deadline); err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			c.dropConnection(err)
			return "", ctxErr
		}
		c.logger.Warn(ctx, "write failed, reconnecting",
			"target", c.Target,
			"error", err.Error())
		if err := c.resend(ctx, payload, deadline); err != nil {
			return "", err
		}
		reused = false
	}

	raw, eof, err := c.read(ctx, deadline, req.FullReply)
	if errors.Is(err, errPeerClosed) && reused && contextError(ctx) == nil {
		c.logger.Warn(ctx, "connection closed by appliance, reconnecting",
			"target", c.Target)
		if err := c.resend(ctx, payload, deadline); err != nil {
			return "", err
		}
		raw, eof, err = c.read(ctx, deadline, req.FullReply)
	}
	if err != nil {
		if ctxErr := contextError(ctx); ctxErr != nil {
			c.dropConnection(err)
			return "", ctxErr
		}
		return "", c.connectivityError(ctx, "read failed", err)
	}
	if eof {
		c.dropConnection(nil)
	}

	c.logger.Debug(ctx, "appliance reply",
		"target", c.Target,
		"reply", redactCommand(raw))

	if !strings.HasPrefix(raw, "--") {
		err := decodeError("send", "reply without header", redactCommand(raw))
		c.dropConnection(err)
		return "", err
	}
	return raw, nil
}

// resend writes the payload again on a new connection
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) resend(ctx context.Context, payload []byte, deadline time.Time) error {
	if err := c.reconnect(ctx); err != nil {
		return err
	}
	if err := c.write(ctx, payload, deadline); err != nil {
		return c.connectivityError(ctx, "write failed after reconnect", err)
	}
	return nil
}

// deadline returns the absolute deadline of one round trip
func (c *Client) deadline(ctx context.Context, req Req) time.Time {
	timeout := c.OperationTimeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	return deadline
}

// write sends the payload; context cancellation unblocks it
func (c *Client) write(ctx context.Context, payload []byte, deadline time.Time) error {
	conn := c.conn
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetWriteDeadline(time.Now()) //nolint:errcheck // best effort unblock
	})
	defer stop()

	_, err := conn.Write(payload)
	return err
}

// read reads one reply and reports whether the appliance closed the
// connection after it
//
// A single read accumulates until the data ends in a newline. A full read
// goes on until the connection then stays idle for IdleTimeout. EOF after
// data also completes either reply; EOF before any data is errPeerClosed.
func (c *Client) read(ctx context.Context, deadline time.Time, full bool) (string, bool, error) {
	conn := c.conn
	if err := conn.SetReadDeadline(deadline); err != nil {
		return "", false, err
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now()) //nolint:errcheck // best effort unblock
	})
	defer stop()

	buf := make([]byte, c.ReadBufferSize)
	var data []byte
	idle := false
	for {
		n, err := conn.Read(buf)
		data = append(data, buf[:n]...)
		complete := bytes.HasSuffix(data, []byte("\n"))

		if err != nil {
			switch {
			case len(data) == 0 && isPeerClosed(err):
				return "", false, errPeerClosed
			case errors.Is(err, io.EOF):
				return strings.TrimSpace(string(data)), true, nil
			case idle && complete && isTimeout(err) && ctx.Err() == nil:
				return strings.TrimSpace(string(data)), false, nil
			}
			return "", false, err
		}

		if !full {
			if complete {
				return strings.TrimSpace(string(data)), false, nil
			}
			if len(data) >= c.ReadBufferSize {
				return "", false, fmt.Errorf("reply exceeds %d bytes without a line terminator", c.ReadBufferSize)
			}
			continue
		}

		if complete {
			idleDeadline := time.Now().Add(c.IdleTimeout)
			if idleDeadline.After(deadline) {
				idleDeadline = deadline
			}
			if err := conn.SetReadDeadline(idleDeadline); err != nil {
				return "", false, err
			}
			idle = true
		} else if idle {
			if err := conn.SetReadDeadline(deadline); err != nil {
				return "", false, err
			}
			idle = false
		}
	}
}

// errPeerClosed reports a connection the appliance closed before replying
var errPeerClosed = errors.New("connection closed by appliance")

func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, syscall.ECONNRESET)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ensureConnected opens the connection if it is not open (lazy connection)
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) ensureConnected(ctx context.Context) error {
	if c.conn != nil {
		return nil
	}

	c.setState(StateConnecting)
	c.logger.Debug(ctx, "connecting to appliance",
		"target", c.address())

	dialCtx, cancel := context.WithTimeout(ctx, c.ConnectTimeout)
	defer cancel()

	conn, err := c.dialer()(dialCtx, "tcp", c.address())
	if err != nil {
		c.setState(StateDisconnected)
		ie := &IneError{
			Operation:   "connect",
			Kind:        ErrConnectivity,
			Message:     "failed to connect to appliance",
			InternalMsg: err.Error(),
		}
		c.setLastError(ie)
		c.logger.Error(ctx, "appliance connection failed",
			"target", c.address(),
			"error", err.Error())
		return ie
	}

	c.conn = conn
	c.setState(StateConnected)
	c.logger.Info(ctx, "appliance connection established",
		"target", c.address())
	return nil
}

// dialer returns the dial function honouring test overrides and the proxy
func (c *Client) dialer() dialFunc {
	if c.dial != nil {
		return c.dial
	}
	direct := &net.Dialer{Timeout: c.ConnectTimeout}
	if c.proxyAddress == "" {
		return direct.DialContext
	}
	return func(ctx context.Context, network, address string) (net.Conn, error) {
		d, err := proxy.SOCKS5("tcp", c.proxyAddress, c.proxyAuth, direct)
		if err != nil {
			return nil, err
		}
		if cd, ok := d.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, address)
		}
		return d.Dial(network, address)
	}
}

// reconnect replaces a broken connection
//
// PRECONDITION: Caller must hold c.mu.
func (c *Client) reconnect(ctx context.Context) error {
	c.logger.Warn(ctx, "appliance reconnecting",
		"target", c.Target,
		"reason", "transport error")
	if c.conn != nil {
		_ = c.conn.Close() //nolint:errcheck // connection is already broken
		c.conn = nil
	}
	return c.ensureConnected(ctx)
}

// dropConnection discards a connection whose reply stream is out of sync
func (c *Client) dropConnection(cause error) {
	if c.conn != nil {
		_ = c.conn.Close() //nolint:errcheck // connection is being discarded
		c.conn = nil
	}
	c.setState(StateDisconnected)
	if cause != nil {
		c.setLastError(cause)
	}
}

// discard drops the connection after a reply that could not be decoded, so
// the rest of a misframed reply is never read as the next reply
func (c *Client) discard(ctx context.Context, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropConnection(err)
	c.logger.Warn(ctx, "connection discarded after undecodable reply",
		"target", c.Target,
		"error", err.Error())
	return err
}

// connectivityError drops the connection and wraps a socket failure
func (c *Client) connectivityError(ctx context.Context, msg string, err error) error {
	ie := &IneError{
		Operation:   "send",
		Kind:        ErrConnectivity,
		Message:     msg,
		InternalMsg: err.Error(),
	}
	c.dropConnection(ie)
	c.logger.Error(ctx, "appliance "+msg,
		"target", c.Target,
		"error", err.Error())
	return ie
}

// contextError returns the context error, treating a context deadline that
// has passed as exceeded even if the context has not noticed yet
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if d, ok := ctx.Deadline(); ok && !time.Now().Before(d) {
		return context.DeadlineExceeded
	}
	return nil
}

// checkContextCancellation checks if context is canceled or deadline exceeded
//
// This is a non-blocking check used before sending and between retries.
func checkContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
