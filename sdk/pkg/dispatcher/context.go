package dispatcher

import "context"

type partitionKey struct{}

// WithPartition 把分区号放入路由上下文
func WithPartition(ctx context.Context, partition int) context.Context {
	return context.WithValue(ctx, partitionKey{}, partition)
}

// PartitionFromContext 读取当前消息所在分区
func PartitionFromContext(ctx context.Context) (int, bool) {
	p, ok := ctx.Value(partitionKey{}).(int)
	return p, ok
}
