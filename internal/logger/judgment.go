package logger

import (
	"io"
	"log"
	"strings"
	"sync"
)

var (
	dumpMu  sync.Mutex
	dumpLog *log.Logger
)

// SetJudgmentWriter 设置判断服务请求/响应的完整转储目标，nil 表示关闭。
func SetJudgmentWriter(w io.Writer) {
	dumpMu.Lock()
	defer dumpMu.Unlock()
	if w == nil {
		dumpLog = nil
		return
	}
	dumpLog = log.New(w, "", log.LstdFlags)
}

func JudgmentDumpEnabled() bool {
	dumpMu.Lock()
	defer dumpMu.Unlock()
	return dumpLog != nil
}

// DumpJudgment 以分节格式写入一次判断调用的内容。
func DumpJudgment(traceID, stage string, sections map[string]string, order ...string) {
	dumpMu.Lock()
	out := dumpLog
	dumpMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[JUDGMENT][")
	b.WriteString(stage)
	b.WriteString("]")
	if traceID != "" {
		b.WriteString("[" + traceID + "]")
	}
	b.WriteString("\n")
	if len(order) == 0 {
		for k := range sections {
			order = append(order, k)
		}
	}
	for _, key := range order {
		body, ok := sections[key]
		if !ok {
			continue
		}
		b.WriteString("--- " + strings.ToUpper(key) + " ---\n")
		b.WriteString(body)
		if !strings.HasSuffix(body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====")
	out.Print(b.String())
}
