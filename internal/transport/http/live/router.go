package livehttp

import (
	"bufio"
	"context"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"perpflow/internal/logger"
	"perpflow/internal/store/intentlog"

	"github.com/gin-gonic/gin"
)

const maxLogLineSize = 1024 * 1024

// Router 挂载在 /api 下的查询与管理接口。
type Router struct {
	engine   EngineControl
	trades   TradeLister
	intents  IntentLister
	logPaths map[string]string
	logNames []string
}

func NewRouter(eng EngineControl, trades TradeLister, intents IntentLister, logPaths map[string]string) *Router {
	names := make([]string, 0, len(logPaths))
	for name, path := range logPaths {
		if strings.TrimSpace(path) == "" || strings.TrimSpace(name) == "" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return &Router{engine: eng, trades: trades, intents: intents, logPaths: logPaths, logNames: names}
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/state", r.handleState)
	group.GET("/delayed", r.handleDelayed)
	group.GET("/trades", r.handleTrades)
	group.GET("/intents", r.handleIntents)
	group.GET("/logs", r.handleLogs)
	group.POST("/risk/reset", r.handleRiskReset)
	group.POST("/risk/emergency", r.handleEmergency)
}

func (r *Router) handleState(c *gin.Context) {
	st := r.engine.State()
	if st == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "尚未完成首个 tick"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleDelayed(c *gin.Context) {
	pending := r.engine.PendingDelayed()
	c.JSON(http.StatusOK, gin.H{"count": len(pending), "signals": pending})
}

func (r *Router) handleTrades(c *gin.Context) {
	if r.trades == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "交易日志未启用"})
		return
	}
	limit := queryLimit(c, 100)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	trades, err := r.trades.ListTrades(ctx, c.Query("symbol"), limit)
	if err != nil {
		logger.Errorf("[api] trades list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func (r *Router) handleIntents(c *gin.Context) {
	if r.intents == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "意图日志未启用"})
		return
	}
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	q := intentlog.Query{
		Symbol:      c.Query("symbol"),
		AllowedOnly: c.Query("allowed") == "1" || strings.EqualFold(c.Query("allowed"), "true"),
		Limit:       queryLimit(c, 100),
		Offset:      offset,
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	list, err := r.intents.List(ctx, q)
	if err != nil {
		logger.Errorf("[api] intents list failed ip=%s err=%v", c.ClientIP(), err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"intents": list, "limit": q.Limit, "offset": q.Offset})
}

// handleRiskReset 熔断复位在下一个 tick 开始时生效。
func (r *Router) handleRiskReset(c *gin.Context) {
	if !r.engine.RequestBreakerReset() {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "命令队列已满"})
		return
	}
	logger.Warnf("[api] 熔断复位已排队 ip=%s", c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "command": "reset_breaker"})
}

func (r *Router) handleEmergency(c *gin.Context) {
	var req emergencyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "请求体需要 {\"on\": true|false}"})
		return
	}
	if !r.engine.RequestEmergencyStop(*req.On) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "命令队列已满"})
		return
	}
	logger.Warnf("[api] 紧急停止=%t 已排队 ip=%s", *req.On, c.ClientIP())
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "emergency_stop": *req.On})
}

func (r *Router) handleLogs(c *gin.Context) {
	if len(r.logNames) == 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "未配置日志文件"})
		return
	}
	name := strings.TrimSpace(c.DefaultQuery("name", ""))
	path := ""
	if name != "" {
		path = strings.TrimSpace(r.logPaths[name])
	}
	if path == "" {
		name = r.logNames[0]
		path = r.logPaths[name]
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "200"))
	if limit <= 0 {
		limit = 200
	}
	lines, err := readLastLines(path, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "name": name})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"name":      name,
		"lines":     lines,
		"available": r.logNames,
	})
}

func queryLimit(c *gin.Context, def int) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if limit <= 0 {
		limit = def
	}
	if limit > 500 {
		limit = 500
	}
	return limit
}

func readLastLines(path string, limit int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, maxLogLineSize)
	lines := make([]string, 0, limit)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > limit {
			lines = lines[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
