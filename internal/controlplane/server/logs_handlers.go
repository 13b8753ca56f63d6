package server

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	defaultTailLines = 200
	maxTailLines     = 5000
	tailWindowBytes  = 256 << 10
	logPollInterval  = 250 * time.Millisecond
	keepAliveEvery   = 15 * time.Second
)

// logPath 当前日志文件；日志按周期切换文件时跟随最新的一个
func (s *Server) logPath() string {
	if s.cfg.CurrentLogFile != nil {
		if p := s.cfg.CurrentLogFile(); p != "" {
			return p
		}
	}
	return s.cfg.LogFile
}

func (s *Server) handleLogsTail(c *gin.Context) {
	path := s.logPath()
	if path == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "log file not configured"})
		return
	}
	n, err := strconv.Atoi(c.DefaultQuery("tail", strconv.Itoa(defaultTailLines)))
	if err != nil || n <= 0 || n > maxTailLines {
		n = defaultTailLines
	}

	lines, err := tailLines(path, n)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		lines = []string{}
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("read log: %v", err)})
		return
	}
	c.JSON(http.StatusOK, gin.H{"file": filepath.Base(path), "lines": lines})
}

// handleLogsStream SSE 推送新写入的日志行；周期切换日志文件后从新文件开头继续
func (s *Server) handleLogsStream(c *gin.Context) {
	if s.logPath() == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "log file not configured"})
		return
	}
	c.Header("Content-Type", "text/event-stream; charset=utf-8")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	var lf logFollower
	defer lf.close()

	poll := time.NewTicker(logPollInterval)
	defer poll.Stop()
	keepAlive := time.NewTicker(keepAliveEvery)
	defer keepAlive.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-keepAlive.C:
			_, _ = io.WriteString(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()
		case <-poll.C:
			lines, err := lf.poll(s.logPath())
			for _, line := range lines {
				c.SSEvent("message", line)
			}
			if err != nil {
				c.SSEvent("error", err.Error())
				c.Writer.Flush()
				return
			}
			if len(lines) > 0 {
				c.Writer.Flush()
			}
		}
	}
}

// tailLines 读文件末尾 tailWindowBytes 内的最后 n 行
func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, err
	}
	off := max(st.Size()-tailWindowBytes, 0)
	buf, err := io.ReadAll(io.NewSectionReader(f, off, st.Size()-off))
	if err != nil {
		return nil, err
	}
	if off > 0 {
		// 窗口起点在行中间，丢掉残行
		if i := bytes.IndexByte(buf, '\n'); i >= 0 {
			buf = buf[i+1:]
		}
	}

	text := strings.TrimRight(string(buf), "\r\n")
	if text == "" {
		return []string{}, nil
	}
	lines := strings.Split(text, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for i := range lines {
		lines[i] = strings.TrimRight(lines[i], "\r")
	}
	return lines, nil
}

// logFollower 跟随日志文件的追加内容，只交出完整的行
type logFollower struct {
	started bool
	path    string
	f       *os.File
	r       *bufio.Reader
	partial string
}

// poll 返回自上次以来新增的完整行。
// 第一次打开从文件末尾开始；之后出现的文件（周期切换或首次创建）从头读。
func (lf *logFollower) poll(path string) ([]string, error) {
	if lf.f == nil || path != lf.path {
		fromEnd := !lf.started
		lf.started = true
		if err := lf.open(path, fromEnd); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, nil
			}
			return nil, err
		}
	}

	var lines []string
	for {
		chunk, err := lf.r.ReadString('\n')
		if errors.Is(err, io.EOF) {
			lf.partial += chunk
			return lines, nil
		}
		if err != nil {
			return lines, err
		}
		lines = append(lines, strings.TrimRight(lf.partial+chunk, "\r\n"))
		lf.partial = ""
	}
}

func (lf *logFollower) open(path string, fromEnd bool) error {
	lf.close()
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	if fromEnd {
		if _, err := f.Seek(0, io.SeekEnd); err != nil {
			_ = f.Close()
			return err
		}
	}
	lf.path, lf.f, lf.r, lf.partial = path, f, bufio.NewReader(f), ""
	return nil
}

func (lf *logFollower) close() {
	if lf.f != nil {
		_ = lf.f.Close()
		lf.f = nil
	}
}
