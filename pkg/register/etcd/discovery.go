package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	clientv3 "go.etcd.io/etcd/client/v3"
	"quotehub.com/pkg/register"
)

// Discovery 按前缀列出节点，解析失败的条目跳过
type Discovery struct {
	client   *clientv3.Client
	basePath string
}

var _ register.Discoverer = (*Discovery)(nil)

func NewDiscovery(c *clientv3.Client, basePath string) *Discovery {
	return &Discovery{client: c, basePath: basePath}
}

func (d *Discovery) Discover(ctx context.Context, serviceName string) ([]register.Instance, error) {
	prefix := fmt.Sprintf("%s/%s/", d.basePath, serviceName)
	res, err := d.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]register.Instance, 0, len(res.Kvs))
	for _, kv := range res.Kvs {
		var ins register.Instance
		if err := json.Unmarshal(kv.Value, &ins); err != nil {
			continue
		}
		out = append(out, ins)
	}
	return out, nil
}
