package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"quotehub.com/pkg/logger"
	"quotehub.com/pkg/register"
)

type EtcdRegister struct {
	client   *clientv3.Client
	basePath string // 例如 "/quotehub/services"
	ttl      int64  // 租约秒数

	mu      sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
}

var _ register.Register = (*EtcdRegister)(nil)

func NewEtcdRegister(c *clientv3.Client, basePath string, ttl int64) *EtcdRegister {
	if ttl <= 0 {
		ttl = 10
	}
	return &EtcdRegister{
		client:   c,
		basePath: basePath,
		ttl:      ttl,
	}
}

func (e *EtcdRegister) key(name, id string) string {
	return fmt.Sprintf("%s/%s/%s", e.basePath, name, id)
}

func (e *EtcdRegister) Register(ctx context.Context, ins *register.Instance) error {
	grant, err := e.client.Grant(ctx, e.ttl)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}

	val, err := json.Marshal(ins)
	if err != nil {
		return err
	}
	if _, err = e.client.Put(ctx, e.key(ins.Name, ins.ID), string(val), clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("put instance: %w", err)
	}

	// keepalive 跟着进程走，不能用请求 ctx
	kaCtx, cancel := context.WithCancel(context.Background())
	ch, err := e.client.KeepAlive(kaCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("keepalive: %w", err)
	}

	e.mu.Lock()
	e.leaseID = grant.ID
	e.cancel = cancel
	e.mu.Unlock()

	go e.drainKeepAlive(kaCtx, ch, ins)
	return nil
}

func (e *EtcdRegister) UnRegister(ctx context.Context, ins *register.Instance) error {
	e.mu.Lock()
	leaseID, cancel := e.leaseID, e.cancel
	e.cancel = nil
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if _, err := e.client.Delete(ctx, e.key(ins.Name, ins.ID)); err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if leaseID != 0 {
		if _, err := e.client.Revoke(ctx, leaseID); err != nil {
			return fmt.Errorf("revoke lease: %w", err)
		}
	}
	return nil
}

func (e *EtcdRegister) drainKeepAlive(ctx context.Context, ch <-chan *clientv3.LeaseKeepAliveResponse, ins *register.Instance) {
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-ch:
			if !ok {
				// 租约丢了（etcd 长时间不可达），节点会从列表消失
				logger.Warn(ctx, "etcd keepalive channel closed", zap.String("instance", ins.ID))
				return
			}
		}
	}
}
