package notify

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/ConserveLee/scroll-idle/internal/monitor"
)

// Record is one journal line.
type Record struct {
	Session    string    `json:"session"`
	Time       time.Time `json:"time"`
	Severity   string    `json:"severity"`
	Kind       string    `json:"kind"`
	Arg        float64   `json:"arg,omitempty"`
	Detail     string    `json:"detail"`
	Screenshot string    `json:"screenshot,omitempty"`
}

// Journal appends every event to hourly zstd-compressed JSONL files. Each
// process run gets its own session id.
type Journal struct {
	dir     string
	session string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJournal(dir string) *Journal {
	return &Journal{dir: dir, session: uuid.NewString(), now: time.Now}
}

// Session returns this run's id.
func (j *Journal) Session() string { return j.session }

// Record appends ev.
func (j *Journal) Record(ev monitor.Event) error {
	return j.write(Record{
		Session:    j.session,
		Time:       ev.Time,
		Severity:   ev.Severity.String(),
		Kind:       string(ev.Kind),
		Arg:        ev.Arg,
		Detail:     ev.Detail,
		Screenshot: ev.Screenshot,
	})
}

func (j *Journal) write(r Record) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	hour := j.now().UTC().Format("2006-01-02-15")
	if hour != j.curHour {
		if err := j.rotateLocked(hour); err != nil {
			return err
		}
	}
	b, err := json.Marshal(r)
	if err != nil {
		return err
	}
	if _, err := j.w.Write(b); err != nil {
		return err
	}
	if err := j.w.WriteByte('\n'); err != nil {
		return err
	}
	if err := j.w.Flush(); err != nil {
		return err
	}
	return j.enc.Flush()
}

func (j *Journal) rotateLocked(hour string) error {
	if err := j.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(j.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(j.pathFor(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	j.f, j.enc, j.w = f, enc, bufio.NewWriterSize(enc, 32*1024)
	j.curHour = hour
	return nil
}

func (j *Journal) pathFor(hour string) string {
	return filepath.Join(j.dir, fmt.Sprintf("events-%s.jsonl.zst", hour))
}

// Path is the file currently written to.
func (j *Journal) Path() string {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.curHour == "" {
		return ""
	}
	return j.pathFor(j.curHour)
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.closeLocked()
}

func (j *Journal) closeLocked() error {
	var err error
	if j.w != nil {
		_ = j.w.Flush()
	}
	if j.enc != nil {
		err = j.enc.Close()
		j.enc = nil
	}
	if j.f != nil {
		_ = j.f.Close()
		j.f = nil
	}
	j.w = nil
	j.curHour = ""
	return err
}

// ReadJournal decodes every record of a journal file.
func ReadJournal(path string) ([]Record, error) {
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

	var out []Record
	jd := json.NewDecoder(dec)
	for {
		var r Record
		err := jd.Decode(&r)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, r)
	}
}
