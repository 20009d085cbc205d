// Package registry is the process-wide service directory, grounded
// directly on rocket/net/rpc/etcd_registry.cc
// (the newest variant in that file's family: explicit initAsServer/
// initAsClient, a bucketed cache with a dirty-flag fast path, and
// stopWatcher doing an explicit cancel rather than relying on a
// destructor). Go has no destructors, so Close cancels the watcher
// context and waits for its goroutine to exit instead.
//
// The bucketed cache's lock-free fast path is implemented with
// atomic.Value holding an immutable map, swapped wholesale on every
// write; Discover's fast path therefore never takes a bucket's mutex,
// matching the source's memory_order_acquire read of the dirty flag
// followed by a lock-free map lookup.
package registry

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"

	"github.com/Flyzz-z/rocket/config"
	"github.com/Flyzz-z/rocket/rlog"
)

const (
	keyPrefix       = "/rocket/service/"
	bucketCount     = 8
	leaseTTLSeconds = 30
)

type bucket struct {
	mu    sync.Mutex
	dirty int32 // atomic bool: 1 means the cached map for this bucket may be stale
	cache atomic.Value
}

func newBucket() *bucket {
	b := &bucket{}
	b.cache.Store(map[string][]string{})
	return b
}

func (b *bucket) get() map[string][]string {
	return b.cache.Load().(map[string][]string)
}

// Directory is a process-wide etcd-backed service directory. Construct
// one with InitAsServer or InitAsClient; both return an explicit
// *Directory rather than installing a package-level singleton, per spec
// §9's "model it as an explicit dependency" guidance.
type Directory struct {
	client  *clientv3.Client
	buckets [bucketCount]*bucket

	leaseMu sync.Mutex
	leases  map[string]clientv3.LeaseID

	cancelWatch context.CancelFunc
	watchDone   chan struct{}
}

func newDirectory(cli *clientv3.Client) *Directory {
	d := &Directory{client: cli, leases: make(map[string]clientv3.LeaseID)}
	for i := range d.buckets {
		d.buckets[i] = newBucket()
	}
	return d
}

func dial(cfg *config.ServerConfig) (*clientv3.Client, error) {
	return clientv3.New(clientv3.Config{
		Endpoints:   []string{cfg.Etcd.Addr()},
		Username:    cfg.Etcd.Username,
		Password:    cfg.Etcd.Password,
		DialTimeout: 5 * time.Second,
	})
}

// InitAsServer connects to etcd and registers every service cfg.Services
// lists, each under its own 30-second keep-alive lease. No watcher is
// started.
func InitAsServer(cfg *config.ServerConfig) (*Directory, error) {
	cli, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: dial etcd: %w", err)
	}
	d := newDirectory(cli)
	for _, svc := range cfg.Services {
		if err := d.registerService(context.Background(), svc.Name, svc.Host, svc.Port); err != nil {
			rlog.Error("registry: register service %s failed: %v", svc.Name, err)
		}
	}
	return d, nil
}

// InitAsClient connects to etcd and starts a background watcher on the
// service prefix.
func InitAsClient(cfg *config.ServerConfig) (*Directory, error) {
	cli, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("registry: dial etcd: %w", err)
	}
	d := newDirectory(cli)
	d.startWatcher()
	return d, nil
}

func (d *Directory) registerService(ctx context.Context, name, host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	key := keyPrefix + name + "/" + addr

	lease, err := d.client.Grant(ctx, leaseTTLSeconds)
	if err != nil {
		return fmt.Errorf("grant lease: %w", err)
	}
	keepAlive, err := d.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("keepalive: %w", err)
	}
	go drainKeepAlive(keepAlive)

	if _, err := d.client.Put(ctx, key, addr, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}

	d.leaseMu.Lock()
	d.leases[key] = lease.ID
	d.leaseMu.Unlock()

	rlog.Info("registry: registered service %s at %s", name, addr)
	return nil
}

// drainKeepAlive discards keep-alive responses; the client library
// handles resending the lease renewal, this just prevents the channel
// from blocking the etcd client's internal dispatch.
func drainKeepAlive(ch <-chan *clientv3.LeaseKeepAliveResponse) {
	for range ch {
	}
}

// Unregister deletes the key this process registered for name at addr.
// The keep-alive lease itself is dropped separately on process shutdown.
func (d *Directory) Unregister(ctx context.Context, name, addr string) error {
	key := keyPrefix + name + "/" + addr
	_, err := d.client.Delete(ctx, key)

	d.leaseMu.Lock()
	delete(d.leases, key)
	d.leaseMu.Unlock()

	return err
}

func nameToIndex(name string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(name))
	return int(h.Sum32() % bucketCount)
}

// Discover returns the endpoint list cached or freshly loaded for name.
// etcd connectivity errors degrade to an empty list rather than
// propagating: the caller's next call surfaces PEER_ADDR_UNAVAILABLE.
func (d *Directory) Discover(name string) []string {
	b := d.buckets[nameToIndex(name)]

	if atomic.LoadInt32(&b.dirty) == 0 {
		if eps, ok := b.get()[name]; ok {
			return append([]string(nil), eps...)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	cache := b.get()
	if eps, ok := cache[name]; ok {
		return append([]string(nil), eps...)
	}

	eps := d.loadByKey(name)
	next := make(map[string][]string, len(cache)+1)
	for k, v := range cache {
		next[k] = v
	}
	next[name] = eps
	b.cache.Store(next)
	atomic.StoreInt32(&b.dirty, 0)

	return append([]string(nil), eps...)
}

func (d *Directory) loadByKey(name string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, keyPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		rlog.Error("registry: discover %s failed: %v", name, err)
		return nil
	}
	if len(resp.Kvs) == 0 {
		rlog.Error("registry: service %s not found", name)
		return nil
	}

	out := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		out = append(out, string(kv.Value))
	}
	return out
}

func (d *Directory) invalidate(name string) {
	b := d.buckets[nameToIndex(name)]

	b.mu.Lock()
	defer b.mu.Unlock()

	atomic.StoreInt32(&b.dirty, 1)

	cache := b.get()
	if _, ok := cache[name]; !ok {
		return
	}
	next := make(map[string][]string, len(cache))
	for k, v := range cache {
		if k == name {
			continue
		}
		next[k] = v
	}
	b.cache.Store(next)
}

func (d *Directory) startWatcher() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancelWatch = cancel
	d.watchDone = make(chan struct{})

	go func() {
		defer close(d.watchDone)
		watchCh := d.client.Watch(ctx, keyPrefix, clientv3.WithPrefix())
		for resp := range watchCh {
			for _, ev := range resp.Events {
				d.handleWatchEvent(ev)
			}
		}
	}()

	rlog.Info("registry: watcher started for prefix %s", keyPrefix)
}

// handleWatchEvent invalidates a bucket entry on delete. etcd v3
// represents both an explicit delete and a lease expiry as a delete
// event, so this single case covers both of the source's "delete" and
// "expire" branches. A set/update does nothing eagerly; the cache
// refreshes lazily on the next miss.
func (d *Directory) handleWatchEvent(ev *clientv3.Event) {
	if ev.Type != clientv3.EventTypeDelete {
		return
	}
	name := serviceNameFromKey(string(ev.Kv.Key))
	if name == "" {
		return
	}
	rlog.Info("registry: service removed, key %s", ev.Kv.Key)
	d.invalidate(name)
}

func serviceNameFromKey(key string) string {
	if !strings.HasPrefix(key, keyPrefix) {
		return ""
	}
	rest := strings.TrimPrefix(key, keyPrefix)
	idx := strings.Index(rest, "/")
	if idx < 0 {
		return ""
	}
	return rest[:idx]
}

// Close stops the watcher (if any) and closes the etcd client. Explicit
// cancellation, not a finalizer.
func (d *Directory) Close() error {
	if d.cancelWatch != nil {
		d.cancelWatch()
		<-d.watchDone
	}
	return d.client.Close()
}
