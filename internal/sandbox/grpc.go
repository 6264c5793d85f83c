package sandbox

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const compileMethod = "/sandbox.Sandbox/Compile"

// compileRequest and compileReply are hand-maintained bindings for the
// sandbox service's protobuf schema. The sandbox repo owns the .proto;
// the message set is small enough that we track it by hand instead of
// vendoring its generated code. Field numbers are wire format.
type compileRequest struct {
	UserId   string   `protobuf:"bytes,1,opt,name=user_id,json=userId,proto3" json:"user_id,omitempty"`
	Code     string   `protobuf:"bytes,2,opt,name=code,proto3" json:"code,omitempty"`
	Stdin    []string `protobuf:"bytes,3,rep,name=stdin,proto3" json:"stdin,omitempty"`
	Language string   `protobuf:"bytes,4,opt,name=language,proto3" json:"language,omitempty"`
}

func (m *compileRequest) Reset()         { *m = compileRequest{} }
func (m *compileRequest) String() string { return fmt.Sprintf("%+v", *m) }
func (*compileRequest) ProtoMessage()    {}

type compileReply struct {
	Success bool     `protobuf:"varint,1,opt,name=success,proto3" json:"success,omitempty"`
	Stdout  []string `protobuf:"bytes,2,rep,name=stdout,proto3" json:"stdout,omitempty"`
	Stderr  []string `protobuf:"bytes,3,rep,name=stderr,proto3" json:"stderr,omitempty"`
}

func (m *compileReply) Reset()         { *m = compileReply{} }
func (m *compileReply) String() string { return fmt.Sprintf("%+v", *m) }
func (*compileReply) ProtoMessage()    {}

// Client is the gRPC-backed Runner.
type Client struct {
	cc *grpc.ClientConn
}

// Dial connects to the sandbox service. The service sits on the same
// private network as the shards, so transport security is the
// network's problem.
func Dial(addr string) (*Client, error) {
	cc, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("dial sandbox %s: %w", addr, err)
	}
	return &Client{cc: cc}, nil
}

// Close releases the underlying connection.
func (c *Client) Close() error {
	return c.cc.Close()
}

func (c *Client) Compile(ctx context.Context, userID uuid.UUID, code string, stdin []string, language string) (Result, error) {
	req := &compileRequest{
		UserId:   userID.String(),
		Code:     code,
		Stdin:    stdin,
		Language: language,
	}
	var reply compileReply
	if err := c.cc.Invoke(ctx, compileMethod, req, &reply); err != nil {
		return Result{}, fmt.Errorf("sandbox compile: %w", err)
	}
	return Result{Success: reply.Success, Stdout: reply.Stdout, Stderr: reply.Stderr}, nil
}
