// Package registry 维护房间内全部设备的角色登记表。
// 角色是唯一键：同角色重复登记视为幂等更新，不产生重复条目。
package registry

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// Device 登记表条目
type Device struct {
	Role       pkg.Role       `json:"role"`
	Name       string         `json:"name"`
	Capability pkg.Capability `json:"capability"`
	LastSeen   time.Time      `json:"lastSeen"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// Registry 按角色索引的设备登记表
type Registry struct {
	logger *zap.Logger

	mu      sync.RWMutex
	devices map[pkg.Role]*Device
}

func New(ctx context.Context) *Registry {
	return &Registry{
		logger:  pkg.LoggerFromContext(ctx),
		devices: make(map[pkg.Role]*Device),
	}
}

// Upsert 登记或更新设备。已存在的角色只刷新元信息和存活时间
func (r *Registry) Upsert(d Device) {
	if d.LastSeen.IsZero() {
		d.LastSeen = time.Now()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.devices[d.Role]; ok {
		old.Name = d.Name
		old.Capability = d.Capability
		old.LastSeen = d.LastSeen
		if d.Meta != nil {
			old.Meta = d.Meta
		}
		return
	}
	cp := d
	r.devices[d.Role] = &cp
	r.logger.Info("设备登记", zap.String("role", string(d.Role)), zap.String("name", d.Name))
}

// Touch 刷新存活时间戳，任何来自该角色的消息都应调用
func (r *Registry) Touch(role pkg.Role, ts time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.devices[role]; ok {
		if ts.After(d.LastSeen) {
			d.LastSeen = ts
		}
	}
}

// Lookup 按角色查找，未登记返回 ErrNotFound
func (r *Registry) Lookup(role pkg.Role) (Device, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.devices[role]
	if !ok {
		return Device{}, fmt.Errorf("%w: 角色 %q 未登记", pkg.ErrNotFound, role)
	}
	return *d, nil
}

// List 返回全部条目的拷贝，按角色名排序保证输出稳定
func (r *Registry) List() []Device {
	r.mu.RLock()
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, *d)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Role < out[j].Role })
	return out
}

// Writable 返回全部可写（执行器）角色，紧急停机时逐一下发关断
func (r *Registry) Writable() []pkg.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	roles := make([]pkg.Role, 0, len(r.devices))
	for role, d := range r.devices {
		if d.Capability.Writable() {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}

// Stale 返回存活时间早于 cutoff 的角色，供巡检告警
func (r *Registry) Stale(cutoff time.Time) []pkg.Role {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var roles []pkg.Role
	for role, d := range r.devices {
		if d.LastSeen.Before(cutoff) {
			roles = append(roles, role)
		}
	}
	sort.Slice(roles, func(i, j int) bool { return roles[i] < roles[j] })
	return roles
}
