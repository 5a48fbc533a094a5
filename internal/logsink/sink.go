// Package logsink collects ad-hoc text logs posted by devices.
//
// Each device identity gets its own stream backed by <dir>/<identity>.log.
// Fragments are buffered until one ends with a newline, then the buffered
// text is written as a single timestamped record. Streams are created on
// first use and recreated when their file disappears from disk.
package logsink

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avaropoint/espota/internal/metrics"
)

// DefaultIdentity is used when a device does not name itself.
const DefaultIdentity = "debug"

// RecordTimeLayout is the timestamp format of written records.
const RecordTimeLayout = "2006-01-02 15:04:05"

// ErrInvalidIdentity is returned for identities that cannot name a file.
var ErrInvalidIdentity = errors.New("invalid log identity")

var identityRe = regexp.MustCompile(`^[a-z0-9_-][a-z0-9._-]{0,63}$`)

// StreamKey returns the lowercase key for identity, or ErrInvalidIdentity.
// An empty identity maps to DefaultIdentity.
func StreamKey(identity string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(identity))
	if key == "" {
		return DefaultIdentity, nil
	}
	if !identityRe.MatchString(key) {
		return "", ErrInvalidIdentity
	}
	return key, nil
}

// Record is one flushed line.
type Record struct {
	Stream string    `json:"stream"`
	Time   time.Time `json:"time"`
	Line   string    `json:"line"`
}

// Option configures a Sink.
type Option func(*Sink)

// WithClock overrides the time source for record stamps and rotation.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithLogger sets the logger for the sink's own diagnostics.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Sink) { s.log = log }
}

// WithKeepDays prunes rotated files beyond n per stream. Zero keeps all.
func WithKeepDays(n int) Option {
	return func(s *Sink) { s.keep = n }
}

// WithMetrics counts ingested bytes, written records and open streams.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Sink) { s.metrics = m }
}

// Sink owns every open log stream.
type Sink struct {
	dir     string
	now     func() time.Time
	keep    int
	log     zerolog.Logger
	metrics *metrics.Metrics
	hub     *hub

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	mu   sync.Mutex
	key  string
	path string
	file *dailyFile
	out  zerolog.Logger
	buf  strings.Builder
}

// New returns a sink writing under dir, creating it if needed.
func New(dir string, opts ...Option) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	s := &Sink{
		dir:     dir,
		now:     time.Now,
		log:     zerolog.Nop(),
		hub:     newHub(),
		streams: make(map[string]*stream),
	}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Dir returns the log directory.
func (s *Sink) Dir() string { return s.dir }

// Path returns the backing file of a stream key.
func (s *Sink) Path(key string) string {
	return filepath.Join(s.dir, key+".log")
}

// Ingest appends fragment to the identity's stream and returns its key.
// Stream creation failures are logged and the fragment is dropped.
func (s *Sink) Ingest(identity, fragment string) (string, error) {
	key, err := StreamKey(identity)
	if err != nil {
		return "", err
	}
	if s.metrics != nil {
		s.metrics.LogBytes.Add(float64(len(fragment)))
	}

	st, err := s.stream(key)
	if err != nil {
		s.log.Error().Err(err).Str("stream", key).Msg("create log stream")
		return key, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	st.buf.WriteString(fragment)
	if !strings.HasSuffix(fragment, "\n") {
		return key, nil
	}
	line := strings.TrimRight(st.buf.String(), "\r\n")
	st.buf.Reset()

	now := s.now()
	st.out.Info().Time(zerolog.TimestampFieldName, now).Msg(line)
	if s.metrics != nil {
		s.metrics.LogRecords.Inc()
	}
	s.hub.broadcast(Record{Stream: key, Time: now, Line: line})
	return key, nil
}

// stream returns the open stream for key, replacing it when its file has
// been removed.
func (s *Sink) stream(key string) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.streams[key]; ok {
		if _, err := os.Stat(st.path); !errors.Is(err, fs.ErrNotExist) {
			return st, nil
		}
		s.log.Info().Str("stream", key).Msg("log file removed, reopening")
		st.close()
		delete(s.streams, key)
	}

	st, err := s.open(key)
	if err != nil {
		s.updateGauge()
		return nil, err
	}
	s.streams[key] = st
	s.updateGauge()
	return st, nil
}

func (s *Sink) open(key string) (*stream, error) {
	path := s.Path(key)
	f, err := openDaily(path, s.keep, s.now)
	if err != nil {
		return nil, err
	}
	return &stream{
		key:  key,
		path: path,
		file: f,
		out:  zerolog.New(recordWriter(f)),
	}, nil
}

func (s *Sink) updateGauge() {
	if s.metrics != nil {
		s.metrics.LogStreams.Set(float64(len(s.streams)))
	}
}

// recordWriter renders events as "2006-01-02 15:04:05 - INFO - line".
func recordWriter(f *dailyFile) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    true,
		PartsOrder: []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, zerolog.MessageFieldName},
		FormatTimestamp: func(i interface{}) string {
			ts, _ := i.(string)
			t, err := time.Parse(zerolog.TimeFieldFormat, ts)
			if err != nil {
				return ts
			}
			return t.Format(RecordTimeLayout)
		},
		FormatLevel: func(i interface{}) string {
			return "- " + strings.ToUpper(fmt.Sprint(i)) + " -"
		},
		FormatMessage: func(i interface{}) string {
			if i == nil {
				return ""
			}
			return fmt.Sprint(i)
		},
	}
}

func (st *stream) close() {
	st.mu.Lock()
	defer st.mu.Unlock()
	_ = st.file.Close()
}

// Streams returns the keys of the open streams in sorted order.
func (s *Sink) Streams() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.streams))
	for k := range s.streams {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Subscribe delivers records flushed on key until cancel is called.
// Records are dropped for subscribers that fall behind.
func (s *Sink) Subscribe(key string) (<-chan Record, func()) {
	return s.hub.subscribe(key, 64)
}

// Close closes every stream. Buffered partial lines are discarded.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, st := range s.streams {
		st.close()
		delete(s.streams, k)
	}
	s.updateGauge()
	return nil
}
