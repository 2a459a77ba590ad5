// Copyright 2025 Joseph Cumines
//
// gRPC client implementing ax.Adapter

package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/axplorer/internal/ax"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// DefaultTimeout bounds every round trip when no timeout is configured.
const DefaultTimeout = 10 * time.Second

// DialConfig holds the connection settings for Dial.
type DialConfig struct {
	// Addr is the adapter server address, e.g. localhost:50061 or
	// unix:///tmp/axplorer.sock.
	Addr string
	// CertFile optionally names a PEM file with the server's CA certificate.
	CertFile string
	// TLS enables transport security.
	TLS bool
}

// Dial opens a connection to an adapter server. Connections are established
// lazily, so Dial only fails on invalid settings.
func Dial(cfg DialConfig) (*grpc.ClientConn, error) {
	var opts []grpc.DialOption

	if cfg.TLS {
		creds := credentials.NewTLS(nil)
		if cfg.CertFile != "" {
			var err error
			creds, err = credentials.NewClientTLSFromFile(cfg.CertFile, "")
			if err != nil {
				return nil, fmt.Errorf("failed to load TLS cert: %w", err)
			}
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	return conn, nil
}

// ref is a handle issued to one session.
type ref struct {
	ax.RefMarker
	session string
	handle  string
}

// Client is an ax.Adapter backed by a remote Server. Each Client is its own
// session; any number of Clients may share one connection.
type Client struct {
	conn    grpc.ClientConnInterface
	session string
	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithTimeout bounds each round trip. Non-positive values select
// DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient starts a new session on conn.
func NewClient(conn grpc.ClientConnInterface, opts ...ClientOption) *Client {
	c := &Client{
		conn:    conn,
		session: uuid.NewString(),
		timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Session returns the session identifier.
func (c *Client) Session() string {
	return c.session
}

func (c *Client) call(method string, fields map[string]*structpb.Value) (*structpb.Struct, error) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	fields[fieldSession] = structpb.NewStringValue(c.session)
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), &structpb.Struct{Fields: fields}, resp); err != nil {
		return nil, fromStatus(method, err)
	}
	return resp, nil
}

func (c *Client) handle(r ax.Ref) (*structpb.Value, error) {
	h, ok := r.(ref)
	if !ok || h.session != c.session {
		return nil, fmt.Errorf("%w: reference %T was not issued by this client", ax.ErrNotFound, r)
	}
	return structpb.NewStringValue(h.handle), nil
}

func (c *Client) ref(handle string) ax.Ref {
	return ref{session: c.session, handle: handle}
}

func (c *Client) refFrom(resp *structpb.Struct) (ax.Ref, error) {
	h := resp.GetFields()[fieldHandle].GetStringValue()
	if h == "" {
		return nil, fmt.Errorf("%w: empty handle", ax.ErrNotFound)
	}
	return c.ref(h), nil
}

func names(resp *structpb.Struct) []string {
	values := resp.GetFields()[fieldNames].GetListValue().GetValues()
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, v.GetStringValue())
	}
	return out
}

// Application implements ax.Adapter.
func (c *Client) Application(name string) (ax.Ref, error) {
	resp, err := c.call(methodApplication, map[string]*structpb.Value{
		fieldName: structpb.NewStringValue(name),
	})
	if err != nil {
		return nil, err
	}
	return c.refFrom(resp)
}

// AttributeNames implements ax.Adapter.
func (c *Client) AttributeNames(r ax.Ref) ([]string, error) {
	h, err := c.handle(r)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(methodAttributeNames, map[string]*structpb.Value{fieldHandle: h})
	if err != nil {
		return nil, err
	}
	return names(resp), nil
}

// AttributeValue implements ax.Adapter.
func (c *Client) AttributeValue(r ax.Ref, name string) (any, error) {
	h, err := c.handle(r)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(methodAttributeValue, map[string]*structpb.Value{
		fieldHandle: h,
		fieldName:   structpb.NewStringValue(name),
	})
	if err != nil {
		return nil, err
	}
	v, err := decodeValue(resp.GetFields()[fieldValue], c.ref)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", methodAttributeValue, err)
	}
	return v, nil
}

// ActionNames implements ax.Adapter.
func (c *Client) ActionNames(r ax.Ref) ([]string, error) {
	h, err := c.handle(r)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(methodActionNames, map[string]*structpb.Value{fieldHandle: h})
	if err != nil {
		return nil, err
	}
	return names(resp), nil
}

// PerformAction implements ax.Adapter.
func (c *Client) PerformAction(r ax.Ref, action string) error {
	h, err := c.handle(r)
	if err != nil {
		return err
	}
	_, err = c.call(methodPerformAction, map[string]*structpb.Value{
		fieldHandle: h,
		fieldAction: structpb.NewStringValue(action),
	})
	return err
}

// SetAttributeValue implements ax.Adapter.
func (c *Client) SetAttributeValue(r ax.Ref, name string, value any) error {
	if err := ax.CheckSettable(value); err != nil {
		return err
	}
	h, err := c.handle(r)
	if err != nil {
		return err
	}
	v, err := encodeValue(value, func(ax.Ref) (string, error) {
		return "", fmt.Errorf("%w: references cannot be written", ax.ErrUnsupported)
	})
	if err != nil {
		return err
	}
	_, err = c.call(methodSetAttributeValue, map[string]*structpb.Value{
		fieldHandle: h,
		fieldName:   structpb.NewStringValue(name),
		fieldValue:  v,
	})
	return err
}

// ElementAtPosition implements ax.Adapter.
func (c *Client) ElementAtPosition(app ax.Ref, x, y float64) (ax.Ref, error) {
	h, err := c.handle(app)
	if err != nil {
		return nil, err
	}
	resp, err := c.call(methodElementAtPosition, map[string]*structpb.Value{
		fieldApp: h,
		fieldX:   structpb.NewNumberValue(x),
		fieldY:   structpb.NewNumberValue(y),
	})
	if err != nil {
		return nil, err
	}
	return c.refFrom(resp)
}

// Release implements ax.Releaser. Failures are ignored: the server drops
// the session's handles on shutdown regardless.
func (c *Client) Release(refs ...ax.Ref) {
	values := make([]*structpb.Value, 0, len(refs))
	for _, r := range refs {
		if h, err := c.handle(r); err == nil {
			values = append(values, h)
		}
	}
	if len(values) == 0 {
		return
	}
	_, _ = c.call(methodRelease, map[string]*structpb.Value{
		fieldHandles: structpb.NewListValue(&structpb.ListValue{Values: values}),
	})
}

var (
	_ ax.Adapter  = (*Client)(nil)
	_ ax.Releaser = (*Client)(nil)
)
