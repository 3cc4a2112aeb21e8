package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"growgate/internal/pkg"
	"growgate/internal/profile"
	"growgate/internal/registry"
)

// --- 状态查询 ---

// GetState 返回房间当前状态：快照、模式、光周期、配剂窗口用量
func (s *Server) GetState(c *gin.Context) {
	snap := s.store.Load()
	mode, reason, at := s.interlock.Status()

	resp := gin.H{
		"snapshot": snap,
		"mode":     mode,
	}
	if mode == pkg.ModeEmergencyStop {
		resp["estop"] = gin.H{"reason": reason, "since": at}
	}
	if s.scheduler != nil {
		phase, level := s.scheduler.Status()
		resp["photoperiod"] = gin.H{
			"phase": phase,
			"level": level,
			"dli":   s.scheduler.DLI(),
		}
	}
	if s.doser != nil {
		resp["dosing"] = gin.H{"windowUsedMl": s.doser.WindowUsage()}
	}
	c.JSON(http.StatusOK, resp)
}

// GetDevices 返回已登记设备列表
func (s *Server) GetDevices(c *gin.Context) {
	c.JSON(http.StatusOK, s.registry.List())
}

// PostDevice 手工登记设备（通常由 connector 的 hello 报文完成，这里留给调试）
func (s *Server) PostDevice(c *gin.Context) {
	var payload struct {
		Role       string         `json:"role"`
		Name       string         `json:"name"`
		Capability string         `json:"capability"` // read | write | rw
		Meta       map[string]any `json:"meta"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if strings.TrimSpace(payload.Role) == "" {
		errorResponse(c, http.StatusBadRequest, "角色不能为空")
		return
	}
	var capability pkg.Capability
	switch payload.Capability {
	case "read":
		capability = pkg.CapReadable
	case "write":
		capability = pkg.CapWritable
	case "rw", "":
		capability = pkg.CapReadable | pkg.CapWritable
	default:
		errorResponse(c, http.StatusBadRequest, "未识别的设备能力: "+payload.Capability)
		return
	}
	s.registry.Upsert(registry.Device{
		Role:       pkg.Role(payload.Role),
		Name:       payload.Name,
		Capability: capability,
		LastSeen:   time.Now(),
		Meta:       payload.Meta,
	})
	c.Status(http.StatusCreated)
}

// GetAlerts 返回最近告警，新的在前
func (s *Server) GetAlerts(c *gin.Context) {
	s.mu.Lock()
	out := make([]pkg.AlertEvent, len(s.alerts))
	for i, a := range s.alerts {
		out[len(s.alerts)-1-i] = a
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// GetIntents 返回最近下发的执行器意图，新的在前
func (s *Server) GetIntents(c *gin.Context) {
	s.mu.Lock()
	out := make([]pkg.ActuatorIntent, len(s.intents))
	for i, in := range s.intents {
		out[len(s.intents)-1-i] = in
	}
	s.mu.Unlock()
	c.JSON(http.StatusOK, out)
}

// GetHistory 返回审计库里最近的操作记录
func (s *Server) GetHistory(c *gin.Context) {
	if s.audit == nil {
		errorResponse(c, http.StatusNotFound, "审计落库未启用")
		return
	}
	limit := int64(50)
	if v := c.Query("limit"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			errorResponse(c, http.StatusBadRequest, "无效的 limit 参数")
			return
		}
		limit = n
	}
	records, err := s.audit.Recent(c.Request.Context(), limit)
	if err != nil {
		errorResponse(c, http.StatusInternalServerError, "查询审计记录失败: "+err.Error())
		return
	}
	c.JSON(http.StatusOK, records)
}

// --- 模式与停机 ---

// PostMode 切换 auto/manual。estop 不从这里进，也不从这里出
func (s *Server) PostMode(c *gin.Context) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	var mode pkg.Mode
	switch payload.Mode {
	case string(pkg.ModeAuto):
		mode = pkg.ModeAuto
	case string(pkg.ModeManual):
		mode = pkg.ModeManual
	default:
		errorResponse(c, http.StatusBadRequest, "模式只接受 auto 或 manual")
		return
	}
	if err := s.interlock.SetMode(mode); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	if s.audit != nil {
		s.audit.Record("mode_change", map[string]any{"mode": string(mode)})
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// PostEstop 手工触发紧急停机
func (s *Server) PostEstop(c *gin.Context) {
	var payload struct {
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	reason := strings.TrimSpace(payload.Reason)
	if reason == "" {
		reason = "操作员手工触发"
	}
	entered := s.interlock.Trigger(reason)
	if s.audit != nil && entered {
		s.audit.Record("estop_trigger", map[string]any{"reason": reason})
	}
	mode, _, _ := s.interlock.Status()
	c.JSON(http.StatusOK, gin.H{"mode": mode, "entered": entered})
}

// PostEstopAck 操作员确认，退出停机。这是退出停机的唯一通道
func (s *Server) PostEstopAck(c *gin.Context) {
	var payload struct {
		Operator string `json:"operator"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if strings.TrimSpace(payload.Operator) == "" {
		errorResponse(c, http.StatusBadRequest, "确认人不能为空")
		return
	}
	if err := s.interlock.Acknowledge(payload.Operator); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	if s.audit != nil {
		s.audit.Record("estop_ack", map[string]any{"operator": payload.Operator})
	}
	mode, _, _ := s.interlock.Status()
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

// --- 档案管理 ---

// GetProfile 返回当前生效档案与阶段变更历史，干燥运行时附带干燥状态
func (s *Server) GetProfile(c *gin.Context) {
	resp := gin.H{
		"active":  s.profiles.Active(),
		"history": s.profiles.History(),
	}
	if st, ok := s.profiles.Drying(); ok {
		resp["drying"] = st
	}
	c.JSON(http.StatusOK, resp)
}

// PostStage 推进生长阶段，只许向前
func (s *Server) PostStage(c *gin.Context) {
	var payload struct {
		Stage string `json:"stage"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := s.profiles.AdvanceStage(profile.Stage(payload.Stage)); err != nil {
		if errors.Is(err, pkg.ErrInvalidProfile) {
			errorResponse(c, http.StatusBadRequest, err.Error())
		} else {
			errorResponse(c, http.StatusInternalServerError, "推进阶段失败: "+err.Error())
		}
		return
	}
	c.JSON(http.StatusOK, s.profiles.Active())
}

// PostReset 重置到指定阶段，同时清空覆盖层
func (s *Server) PostReset(c *gin.Context) {
	var payload struct {
		Stage string `json:"stage"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := s.profiles.Reset(profile.Stage(payload.Stage)); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.profiles.Active())
}

// PostOverride 应用字段级覆盖。区间颠倒会整体拒绝
func (s *Server) PostOverride(c *gin.Context) {
	var o profile.Override
	if err := c.ShouldBindJSON(&o); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := s.profiles.ApplyOverride(o); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, s.profiles.Active())
}

// PostDry 进入干燥模式
func (s *Server) PostDry(c *gin.Context) {
	var payload struct {
		Mode string `json:"mode"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if err := s.profiles.StartDrying(profile.DryMode(payload.Mode)); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	st, _ := s.profiles.Drying()
	c.JSON(http.StatusOK, gin.H{"drying": st, "active": s.profiles.Active()})
}

// PostDryStop 退出干燥模式，未在干燥时返回冲突
func (s *Server) PostDryStop(c *gin.Context) {
	if err := s.profiles.StopDrying(); err != nil {
		errorResponse(c, http.StatusConflict, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"active": s.profiles.Active()})
}

// --- 读数注入 ---

// PostReading 手工注入一条读数，走与 connector 相同的汇聚入口
func (s *Server) PostReading(c *gin.Context) {
	if s.ingest == nil {
		errorResponse(c, http.StatusServiceUnavailable, "汇聚入口未就绪")
		return
	}
	var r pkg.Reading
	if err := c.ShouldBindJSON(&r); err != nil {
		errorResponse(c, http.StatusBadRequest, "无效的请求数据: "+err.Error())
		return
	}
	if r.Ts.IsZero() {
		r.Ts = time.Now()
	}
	if err := s.ingest(r); err != nil {
		errorResponse(c, http.StatusBadRequest, err.Error())
		return
	}
	c.Status(http.StatusAccepted)
}
