package generator

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/ashureev/replybot/internal/domain"
	"github.com/ashureev/replybot/internal/reply"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"
)

type generateFunc func(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

func startGenerator(t *testing.T, fn generateFunc) *GrpcClient {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	srv.RegisterService(&grpc.ServiceDesc{
		ServiceName: "replybot.generator.v1.Generator",
		HandlerType: (*any)(nil),
		Methods: []grpc.MethodDesc{{
			MethodName: "Generate",
			Handler: func(_ any, ctx context.Context, dec func(any) error, _ grpc.UnaryServerInterceptor) (any, error) {
				in := &structpb.Struct{}
				if err := dec(in); err != nil {
					return nil, err
				}
				return fn(ctx, in)
			},
		}},
	}, struct{}{})
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	client, err := NewGrpcClient("passthrough:///bufnet", nil,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestGrpcGenerate(t *testing.T) {
	var got *structpb.Struct
	client := startGenerator(t, func(_ context.Context, in *structpb.Struct) (*structpb.Struct, error) {
		got = in
		return structpb.NewStruct(map[string]any{"text": "  haan bhai, sab badhiya!  "})
	})

	text, err := client.Generate(context.Background(), Request{
		UserText:   "kya haal hai",
		SenderName: "Amit",
		Language:   reply.Hinglish,
		Exchanges:  []domain.Exchange{{UserText: "hi", ReplyText: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "haan bhai, sab badhiya!", text)

	fields := got.GetFields()
	assert.Equal(t, "kya haal hai", fields["user_text"].GetStringValue())
	assert.Equal(t, "Amit", fields["sender_name"].GetStringValue())
	assert.Equal(t, "hinglish", fields["language"].GetStringValue())
	require.Len(t, fields["exchanges"].GetListValue().GetValues(), 1)
}

func TestGrpcGenerateEmpty(t *testing.T) {
	client := startGenerator(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return structpb.NewStruct(map[string]any{"text": "   "})
	})

	_, err := client.Generate(context.Background(), Request{UserText: "hi"})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestGrpcGenerateTimeout(t *testing.T) {
	client := startGenerator(t, func(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.Generate(ctx, Request{UserText: "hi"})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestGrpcGenerateServerError(t *testing.T) {
	client := startGenerator(t, func(context.Context, *structpb.Struct) (*structpb.Struct, error) {
		return nil, status.Error(codes.Unavailable, "model overloaded")
	})

	_, err := client.Generate(context.Background(), Request{UserText: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNetwork))
}
