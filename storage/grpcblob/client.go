package grpcblob

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/getwalmarket/walmarket/cidutil"
	"github.com/getwalmarket/walmarket/storage"
)

// Client implements storage.BlobStore over the blob gRPC service.
//
// Ids that parse as CIDs are checked against the transferred bytes, so a
// misbehaving server cannot substitute content for a CID-keyed backend.
type Client struct {
	cc     *grpc.ClientConn
	client BlobStoreClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ storage.BlobStore = (*Client)(nil)

type DialOptions struct {
	// Timeout applies per RPC when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int

	// Extra options appended after the defaults.
	Extra []grpc.DialOption
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}
	dialOpts = append(dialOpts, opts.Extra...)

	cc, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{cc: cc, client: NewBlobStoreClient(cc), Timeout: opts.Timeout}, nil
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(ctx context.Context, data []byte) (string, error) {
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Put(ctx, wrapperspb.Bytes(data))
	if err != nil {
		return "", mapRPC(err)
	}
	id := reply.GetValue()
	if id == "" {
		return "", storage.ErrInvalidID
	}
	if _, perr := cidutil.ParseCID(id); perr == nil && !cidutil.Matches(id, data) {
		return "", storage.ErrIDMismatch
	}
	return id, nil
}

func (c *Client) Get(ctx context.Context, id string) ([]byte, error) {
	if id == "" {
		return nil, storage.ErrInvalidID
	}
	ctx, cancel := c.rpcContext(ctx)
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(id))
	if err != nil {
		return nil, mapRPC(err)
	}
	b := reply.GetValue()
	if _, perr := cidutil.ParseCID(id); perr == nil && !cidutil.Matches(id, b) {
		return nil, storage.ErrIDMismatch
	}
	return b, nil
}

func (c *Client) rpcContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}
