// Package recorder 把实盘快照按周期写成 CSV，格式与回测加载器读取的一致。
package recorder

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/betbot/updown/internal/backtest"
	"github.com/betbot/updown/internal/domain"
)

var log = logrus.WithField("component", "recorder")

type cycleFile struct {
	period int64
	file   *os.File
	writer *csv.Writer
}

// Recorder 流式写入：每个市场一个 <slug>.csv，每条记录立即追加并 Flush
type Recorder struct {
	outputDir string

	mu    sync.Mutex
	files map[string]*cycleFile
}

func New(outputDir string) (*Recorder, error) {
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}
	return &Recorder{outputDir: outputDir, files: make(map[string]*cycleFile)}, nil
}

// Path 某个 slug 的记录文件
func (r *Recorder) Path(slug string) string {
	return filepath.Join(r.outputDir, slug+".csv")
}

// startCycle 打开（或追加到）该周期的文件；文件不存在或为空时写表头
func (r *Recorder) startCycle(slug string, period int64) (*cycleFile, error) {
	if cf, ok := r.files[slug]; ok {
		return cf, nil
	}
	path := r.Path(slug)

	var needHeader bool
	if info, err := os.Stat(path); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("获取 CSV 文件信息失败: %w", err)
		}
		needHeader = true
	} else if info.Size() == 0 {
		needHeader = true
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("打开 CSV 文件失败: %w", err)
	}
	writer := csv.NewWriter(file)
	if needHeader {
		if err := writer.Write(backtest.CSVHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("写入 CSV 头失败: %w", err)
		}
		writer.Flush()
		if err := writer.Error(); err != nil {
			file.Close()
			return nil, fmt.Errorf("刷新 CSV 头失败: %w", err)
		}
	}
	cf := &cycleFile{period: period, file: file, writer: writer}
	r.files[slug] = cf
	log.Debugf("📝 开始记录 %s", path)
	return cf, nil
}

// Record 追加快照中每个市场的一行；上一周期的文件在新周期第一次写入时关闭
func (r *Recorder) Record(snap *domain.Snapshot) error {
	if snap == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.closeBefore(snap.Period); err != nil {
		log.Warnf("关闭旧周期文件失败: %v", err)
	}

	for _, m := range snap.Markets {
		cf, err := r.startCycle(m.Slug, snap.Period)
		if err != nil {
			return err
		}
		up, _ := snap.Quote(m.YesAssetID)
		down, _ := snap.Quote(m.NoAssetID)
		row := []string{
			strconv.FormatInt(snap.At.Unix(), 10),
			strconv.FormatInt(snap.ElapsedSeconds, 10),
			formatPrice(up.Bid, up.HasBid),
			formatPrice(up.Ask, up.HasAsk),
			formatPrice(down.Bid, down.HasBid),
			formatPrice(down.Ask, down.HasAsk),
		}
		if err := cf.writer.Write(row); err != nil {
			return fmt.Errorf("写入 CSV 数据失败: %w", err)
		}
		cf.writer.Flush()
		if err := cf.writer.Error(); err != nil {
			return fmt.Errorf("刷新 CSV 数据失败: %w", err)
		}
	}
	return nil
}

func formatPrice(p domain.Price, ok bool) string {
	if !ok {
		return ""
	}
	return p.String()
}

func (r *Recorder) closeBefore(period int64) error {
	var firstErr error
	for slug, cf := range r.files {
		if cf.period >= period {
			continue
		}
		if err := closeCycle(cf); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("周期=%s: %w", slug, err)
		}
		delete(r.files, slug)
	}
	return firstErr
}

func closeCycle(cf *cycleFile) error {
	cf.writer.Flush()
	if err := cf.writer.Error(); err != nil {
		cf.file.Close()
		return err
	}
	return cf.file.Close()
}

// Close 刷新并关闭所有打开的文件
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for slug, cf := range r.files {
		if err := closeCycle(cf); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("周期=%s: %w", slug, err)
		}
		delete(r.files, slug)
	}
	return firstErr
}

// Open 当前打开的文件数
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.files)
}
