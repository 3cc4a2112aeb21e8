package pkg

import (
	"sync/atomic"
	"time"
)

// Value 快照中单个量的槽位。过期的量 Known=false，绝不带过期数值
type Value struct {
	V     float64   `json:"value"`
	Known bool      `json:"known"`
	Ts    time.Time `json:"ts"`
}

// Unknown 未知槽位
func Unknown() Value { return Value{} }

// KnownValue 构造已知槽位
func KnownValue(v float64, ts time.Time) Value {
	return Value{V: v, Known: true, Ts: ts}
}

// RoomSnapshot 代表种植间在某时刻的一致状态快照。
// 发布后不可变；同一量绝不出现两条读数，过期槽位为 Unknown。
type RoomSnapshot struct {
	Seq    uint64             `json:"seq"`
	Room   string             `json:"room"`
	Values map[Quantity]Value `json:"values"`
	Ts     time.Time          `json:"ts"`
}

// Get 取某个量的槽位，缺失与过期都按 Unknown 处理
func (s *RoomSnapshot) Get(q Quantity) Value {
	if s == nil || s.Values == nil {
		return Unknown()
	}
	if v, ok := s.Values[q]; ok {
		return v
	}
	return Unknown()
}

// SnapshotStore 发布-交换式的快照持有者。
// 写侧整体构建新快照后原子替换，读侧 Load 永不阻塞、永不读到撕裂状态。
type SnapshotStore struct {
	cur atomic.Pointer[RoomSnapshot]
	seq atomic.Uint64
}

// NewSnapshotStore 初始发布一个全 Unknown 的空快照
func NewSnapshotStore(room string) *SnapshotStore {
	st := &SnapshotStore{}
	st.cur.Store(&RoomSnapshot{Room: room, Values: map[Quantity]Value{}, Ts: time.Now()})
	return st
}

// Publish 原子发布新快照，返回其序号
func (st *SnapshotStore) Publish(s *RoomSnapshot) uint64 {
	s.Seq = st.seq.Add(1)
	st.cur.Store(s)
	return s.Seq
}

// Load 返回最新快照，非阻塞
func (st *SnapshotStore) Load() *RoomSnapshot {
	return st.cur.Load()
}
