package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"
	"go.uber.org/zap"
)

// Entry 一条审计记录
type Entry struct {
	Time     time.Time `json:"ts"`
	Kind     string    `json:"kind"`
	Session  uint64    `json:"session,omitempty"`
	Addr     string    `json:"addr,omitempty"`
	Account  string    `json:"account,omitempty"`
	Room     string    `json:"room,omitempty"`
	Instance string    `json:"instance,omitempty"`
	Game     string    `json:"game,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Journal 异步写入的 zstd 压缩 JSONL，按小时切分文件
// nil *Journal 可以直接使用，所有调用都是空操作
type Journal struct {
	w       *zstdWriter
	ch      chan Entry
	done    chan struct{}
	once    sync.Once
	dropped atomic.Uint64
	log     *zap.SugaredLogger
}

// Open buffer 为写协程前的队列长度，满了丢弃并计数（不阻塞 Tick）
func Open(dir string, buffer int, log *zap.SugaredLogger) (*Journal, error) {
	if dir == "" {
		return nil, fmt.Errorf("empty journal dir")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if buffer <= 0 {
		buffer = 4096
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	j := &Journal{
		w:    newZstdWriter(dir, "journal", time.Now),
		ch:   make(chan Entry, buffer),
		done: make(chan struct{}),
		log:  log,
	}
	go j.loop()
	return j, nil
}

func (j *Journal) loop() {
	defer close(j.done)
	for e := range j.ch {
		if err := j.w.Write(e); err != nil {
			j.log.Warnf("journal write %s: %v", e.Kind, err)
		}
	}
}

// Record 非阻塞写入
func (j *Journal) Record(e Entry) {
	if j == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	select {
	case j.ch <- e:
	default:
		j.dropped.Add(1)
	}
}

func (j *Journal) Dropped() uint64 {
	if j == nil {
		return 0
	}
	return j.dropped.Load()
}

// Close 写完队列中的记录后关闭文件
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	var err error
	j.once.Do(func() {
		close(j.ch)
		<-j.done
		err = j.w.Close()
		if n := j.dropped.Load(); n > 0 {
			j.log.Warnf("journal dropped %d entries", n)
		}
	})
	return err
}

type zstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	curHour string
	f       *os.File
	enc     *zstd.Encoder
	bw      *bufio.Writer
}

func newZstdWriter(dir, prefix string, now func() time.Time) *zstdWriter {
	return &zstdWriter{baseDir: dir, prefix: prefix, now: now}
}

func (w *zstdWriter) Write(v any) error {
	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotate(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	if err := w.bw.WriteByte('\n'); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *zstdWriter) rotate(hour string) error {
	if err := w.Close(); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc = f, enc
	w.bw = bufio.NewWriterSize(enc, 32*1024)
	w.curHour = hour
	return nil
}

func (w *zstdWriter) Close() error {
	var err error
	if w.bw != nil {
		_ = w.bw.Flush()
		w.bw = nil
	}
	if w.enc != nil {
		err = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.curHour = ""
	return err
}

func (w *zstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ReadFile 解压并解析一个日志文件（含多次追加产生的多个 zstd 帧）
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []Entry
	jd := json.NewDecoder(dec)
	for {
		var e Entry
		if err := jd.Decode(&e); err == io.EOF {
			return out, nil
		} else if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, e)
	}
}

// Files 目录下按时间排序的日志文件
func Files(dir string) ([]string, error) {
	return filepath.Glob(filepath.Join(dir, "journal-*.jsonl.zst"))
}
