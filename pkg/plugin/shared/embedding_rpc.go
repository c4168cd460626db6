package shared

import (
	"fmt"
	"net/rpc"

	"github.com/spetr/localchat/pkg/types"
)

// EmbeddingRPCClient is the RPC client for embedding providers.
type EmbeddingRPCClient struct {
	client *rpc.Client
}

// NewEmbeddingRPCClient wraps an RPC connection to a plugin.
func NewEmbeddingRPCClient(c *rpc.Client) *EmbeddingRPCClient {
	return &EmbeddingRPCClient{client: c}
}

// Name returns the provider name.
func (c *EmbeddingRPCClient) Name() string {
	var resp string
	if err := c.client.Call("Plugin.Name", new(interface{}), &resp); err != nil {
		return ""
	}
	return resp
}

// EmbedArgs are the arguments for the Embed RPC call.
type EmbedArgs struct {
	Texts []string
}

// EmbedReply is the reply for the Embed RPC call.
type EmbedReply struct {
	Embeddings [][]float32
	Error      string
}

// Embed generates embeddings for the given texts.
func (c *EmbeddingRPCClient) Embed(texts []string) ([][]float32, error) {
	var resp EmbedReply
	if err := c.client.Call("Plugin.Embed", &EmbedArgs{Texts: texts}, &resp); err != nil {
		return nil, fmt.Errorf("%w: plugin rpc: %w", types.ErrEmbeddingFailed, err)
	}
	if resp.Error != "" {
		return nil, &PluginError{Message: resp.Error}
	}
	return resp.Embeddings, nil
}

// Dimensions returns the embedding dimensions, 0 if the plugin is unreachable.
func (c *EmbeddingRPCClient) Dimensions() int {
	var resp int
	if err := c.client.Call("Plugin.Dimensions", new(interface{}), &resp); err != nil {
		return 0
	}
	return resp
}

// MaxBatchSize returns the maximum batch size.
func (c *EmbeddingRPCClient) MaxBatchSize() int {
	var resp int
	if err := c.client.Call("Plugin.MaxBatchSize", new(interface{}), &resp); err != nil || resp <= 0 {
		return 1
	}
	return resp
}

// Warmup warms up the provider.
func (c *EmbeddingRPCClient) Warmup() error {
	return c.callStatus("Plugin.Warmup")
}

// Close closes the provider.
func (c *EmbeddingRPCClient) Close() error {
	return c.callStatus("Plugin.Close")
}

// callStatus calls a method whose reply is an error message, empty on success.
func (c *EmbeddingRPCClient) callStatus(method string) error {
	var resp string
	if err := c.client.Call(method, new(interface{}), &resp); err != nil {
		return fmt.Errorf("%w: plugin rpc: %w", types.ErrEmbeddingFailed, err)
	}
	if resp != "" {
		return &PluginError{Message: resp}
	}
	return nil
}

// EmbeddingRPCServer is the RPC server for embedding providers.
type EmbeddingRPCServer struct {
	Impl EmbeddingProvider
}

// Name returns the provider name.
func (s *EmbeddingRPCServer) Name(args interface{}, resp *string) error {
	*resp = s.Impl.Name()
	return nil
}

// Embed generates embeddings for the given texts. Batches over MaxBatchSize are refused.
func (s *EmbeddingRPCServer) Embed(args *EmbedArgs, resp *EmbedReply) error {
	if max := s.Impl.MaxBatchSize(); max > 0 && len(args.Texts) > max {
		resp.Error = fmt.Sprintf("batch of %d exceeds max batch size %d", len(args.Texts), max)
		return nil
	}
	embeddings, err := s.Impl.Embed(args.Texts)
	if err != nil {
		resp.Error = err.Error()
		return nil
	}
	resp.Embeddings = embeddings
	return nil
}

// Dimensions returns the embedding dimensions.
func (s *EmbeddingRPCServer) Dimensions(args interface{}, resp *int) error {
	*resp = s.Impl.Dimensions()
	return nil
}

// MaxBatchSize returns the maximum batch size.
func (s *EmbeddingRPCServer) MaxBatchSize(args interface{}, resp *int) error {
	*resp = s.Impl.MaxBatchSize()
	return nil
}

// Warmup warms up the provider.
func (s *EmbeddingRPCServer) Warmup(args interface{}, resp *string) error {
	if err := s.Impl.Warmup(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// Close closes the provider.
func (s *EmbeddingRPCServer) Close(args interface{}, resp *string) error {
	if err := s.Impl.Close(); err != nil {
		*resp = err.Error()
	}
	return nil
}

// PluginError is an error reported by the plugin implementation.
// It matches types.ErrEmbeddingFailed.
type PluginError struct {
	Message string
}

func (e *PluginError) Error() string {
	return "plugin: " + e.Message
}

func (e *PluginError) Unwrap() error {
	return types.ErrEmbeddingFailed
}
