// Package history 操作审计落库：阶段变更、档案覆盖、停机确认等人为动作
// 写进 MongoDB，供事后追溯。落库失败只记日志，绝不影响控制。
package history

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"growgate/internal/pkg"
)

// AuditRecord 一条审计记录
type AuditRecord struct {
	Room   string         `bson:"room" json:"room"`
	Event  string         `bson:"event" json:"event"`
	Fields map[string]any `bson:"fields,omitempty" json:"fields,omitempty"`
	Ts     time.Time      `bson:"ts" json:"ts"`
}

// 积压上限。操作员动作是低频事件，64条积压意味着mongo已经长时间不可用
const pendingCap = 64

// Store MongoDB 审计库。写入走单worker排队，突发操作不会扇出无界goroutine
type Store struct {
	logger *zap.Logger
	room   string
	client *mongo.Client
	coll   *mongo.Collection

	insert  func(AuditRecord) error // worker的落库动作，测试可替换
	pending chan AuditRecord
	quit    chan struct{}
	done    chan struct{}
	closed  atomic.Bool
}

// New 建立连接并 ping 校验。history 未启用时返回 nil Store，调用方按可选依赖处理
func New(ctx context.Context) (*Store, error) {
	config := pkg.ConfigFromContext(ctx)
	if !config.History.Enable {
		return nil, nil
	}
	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	clientOptions := options.Client().ApplyURI(config.History.URI)
	client, err := mongo.Connect(connCtx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err = client.Ping(connCtx, readpref.Primary()); err != nil {
		return nil, fmt.Errorf("ping MongoDB 失败: %w", err)
	}
	dbName := config.History.Database
	if dbName == "" {
		dbName = "growgate"
	}
	s := &Store{
		logger:  pkg.LoggerFromContext(ctx),
		room:    config.Room.Name,
		client:  client,
		coll:    client.Database(dbName).Collection("audit"),
		pending: make(chan AuditRecord, pendingCap),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	s.insert = func(rec AuditRecord) error {
		insCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_, err := s.coll.InsertOne(insCtx, rec)
		return err
	}
	go s.loop()
	return s, nil
}

// loop 单worker顺序落库，收到退出信号后排空积压再返回
func (s *Store) loop() {
	defer close(s.done)
	write := func(rec AuditRecord) {
		if err := s.insert(rec); err != nil {
			s.logger.Error("审计落库失败", zap.String("event", rec.Event), zap.Error(err))
		}
	}
	for {
		select {
		case rec := <-s.pending:
			write(rec)
		case <-s.quit:
			for {
				select {
				case rec := <-s.pending:
					write(rec)
				default:
					return
				}
			}
		}
	}
}

// Record 实现 profile.Recorder。入队即返回，队列满时丢弃并记日志，绝不阻塞调用方
func (s *Store) Record(event string, fields map[string]any) {
	if s == nil || s.closed.Load() {
		return
	}
	rec := AuditRecord{Room: s.room, Event: event, Fields: fields, Ts: time.Now()}
	select {
	case s.pending <- rec:
	default:
		s.logger.Warn("审计队列已满，记录被丢弃", zap.String("event", event))
	}
}

// Recent 返回最近 limit 条审计记录，新的在前
func (s *Store) Recent(ctx context.Context, limit int64) ([]AuditRecord, error) {
	if s == nil {
		return []AuditRecord{}, nil
	}
	findCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	opts := options.Find().SetSort(bson.D{{Key: "ts", Value: -1}}).SetLimit(limit)
	cursor, err := s.coll.Find(findCtx, bson.M{"room": s.room}, opts)
	if err != nil {
		return nil, fmt.Errorf("查询审计记录失败: %w", err)
	}
	defer cursor.Close(findCtx)

	var records []AuditRecord
	if err = cursor.All(findCtx, &records); err != nil {
		return nil, fmt.Errorf("读取审计记录失败: %w", err)
	}
	if records == nil {
		records = []AuditRecord{}
	}
	return records, nil
}

// Close 排空队列后关闭 MongoDB 连接，幂等
func (s *Store) Close() {
	if s == nil || s.closed.Swap(true) {
		return
	}
	close(s.quit)
	select {
	case <-s.done:
	case <-time.After(10 * time.Second):
		s.logger.Warn("审计队列排空超时")
	}
	if s.client == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.client.Disconnect(ctx); err != nil {
		s.logger.Error("关闭 MongoDB 连接失败", zap.Error(err))
	}
}
