package decisionlog

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/clawroute/internal/router"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRecord(tier router.Tier, ts time.Time) Record {
	return Record{
		Timestamp:  ts,
		RequestID:  "req-1",
		Channel:    "test",
		Tier:       tier,
		Model:      "qwen3-coder:free",
		Fallback:   "claude-sonnet-4",
		Confidence: 0.5,
		TotalScore: 0.32,
		Rule:       "coding-trigger",
		Rationale:  "CODING: code 0.32 >= 0.15; free model preferred",
		Scores:     router.DimensionScores{"code": 0.32, "length": 0},
		ElapsedUs:  12,
	}
}

func TestNewRecord(t *testing.T) {
	res := router.RoutingResult{
		Tier:       router.TierCoding,
		Model:      "qwen3-coder:free",
		Fallback:   "claude-sonnet-4",
		Confidence: 0.55,
		TotalScore: 0.32,
		Rule:       "coding-trigger",
		Rationale:  "because",
		Scores:     router.DimensionScores{"code": 0.32},
		Elapsed:    1500 * time.Microsecond,
	}

	rec := NewRecord("", "cli", res)
	if rec.RequestID == "" {
		t.Error("expected generated request id")
	}
	if rec.Tier != router.TierCoding || rec.Model != res.Model || rec.Fallback != res.Fallback {
		t.Errorf("unexpected record %+v", rec)
	}
	if rec.ElapsedUs != 1500 {
		t.Errorf("expected 1500us, got %d", rec.ElapsedUs)
	}
	if rec.Timestamp.IsZero() || rec.Timestamp.Location() != time.UTC {
		t.Errorf("expected UTC timestamp, got %v", rec.Timestamp)
	}

	if got := NewRecord("fixed", "cli", res).RequestID; got != "fixed" {
		t.Errorf("expected given request id, got %s", got)
	}
}

type memSink struct {
	mu      sync.Mutex
	records []Record
	err     error
	closed  bool
}

func (m *memSink) Write(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.records = append(m.records, rec)
	return nil
}

func (m *memSink) Close() error {
	m.closed = true
	return nil
}

func TestMultiSink(t *testing.T) {
	boom := errors.New("boom")
	failing := &memSink{err: boom}
	ok := &memSink{}
	multi := MultiSink{failing, ok}

	err := multi.Write(context.Background(), testRecord(router.TierSimple, time.Now()))
	if !errors.Is(err, boom) {
		t.Errorf("expected joined error, got %v", err)
	}
	if len(ok.records) != 1 {
		t.Error("a failing sink must not stop the others")
	}

	if err := multi.Close(); err != nil {
		t.Errorf("close: %v", err)
	}
	if !failing.closed || !ok.closed {
		t.Error("expected all sinks closed")
	}
}

func readLines(t *testing.T, path string, gz bool) []string {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()

	var sc *bufio.Scanner
	if gz {
		zr, err := gzip.NewReader(f)
		if err != nil {
			t.Fatalf("gzip: %v", err)
		}
		defer zr.Close()
		sc = bufio.NewScanner(zr)
	} else {
		sc = bufio.NewScanner(f)
	}
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	var lines []string
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines
}

func TestFileSinkAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "decisions.jsonl")
	s, err := NewFileSink(FileOptions{Path: path}, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := s.Write(context.Background(), testRecord(router.TierCoding, time.Now())); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	lines := readLines(t, path, false)
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
	var rec Record
	if err := json.Unmarshal([]byte(lines[0]), &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Tier != router.TierCoding || rec.Rule != "coding-trigger" {
		t.Errorf("unexpected decoded record %+v", rec)
	}

	// Reopen keeps appending.
	s, err = NewFileSink(FileOptions{Path: path}, newTestLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	s.Write(context.Background(), testRecord(router.TierSimple, time.Now()))
	s.Close()
	if got := len(readLines(t, path, false)); got != 4 {
		t.Errorf("expected 4 lines after reopen, got %d", got)
	}

	if err := s.Write(context.Background(), testRecord(router.TierSimple, time.Now())); err == nil {
		t.Error("expected error writing to a closed sink")
	}
}

func TestFileSinkRotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decisions.jsonl")
	archiveDir := filepath.Join(dir, "archive")

	rec := testRecord(router.TierCoding, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	line, _ := json.Marshal(rec)
	lineLen := int64(len(line) + 1)

	s, err := NewFileSink(FileOptions{
		Path:        path,
		MaxBytes:    2 * lineLen,
		ArchiveDir:  archiveDir,
		MaxArchives: 1,
	}, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	clock := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Hour)
		return clock
	}

	for i := 0; i < 3; i++ {
		if err := s.Write(context.Background(), rec); err != nil {
			t.Fatalf("write %d: %v", i, err)
		}
	}

	archives, err := s.Archives()
	if err != nil {
		t.Fatalf("archives: %v", err)
	}
	if len(archives) != 1 {
		t.Fatalf("expected 1 archive after first rotation, got %v", archives)
	}
	if !strings.HasPrefix(filepath.Base(archives[0]), "decisions-20260201T0100") {
		t.Errorf("unexpected archive name %s", archives[0])
	}
	if got := len(readLines(t, archives[0], true)); got != 2 {
		t.Errorf("expected 2 archived lines, got %d", got)
	}
	if got := len(readLines(t, path, false)); got != 1 {
		t.Errorf("expected 1 active line after rotation, got %d", got)
	}

	// Second rotation; MaxArchives keeps only the newest.
	s.Write(context.Background(), rec)
	s.Write(context.Background(), rec)
	archives, _ = s.Archives()
	if len(archives) != 1 || !strings.Contains(archives[0], "20260201T0200") {
		t.Errorf("expected only the newest archive, got %v", archives)
	}
	s.Close()
}

func TestFileSinkPruneArchives(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(FileOptions{Path: filepath.Join(dir, "d.jsonl")}, newTestLogger())
	if err != nil {
		t.Fatalf("NewFileSink: %v", err)
	}
	defer s.Close()

	for _, ts := range []string{"20260101T000000.000000000Z", "20260103T000000.000000000Z"} {
		name := filepath.Join(dir, archivePrefix+ts+archiveSuffix)
		if err := os.WriteFile(name, nil, 0o640); err != nil {
			t.Fatal(err)
		}
	}
	// Not an archive.
	os.WriteFile(filepath.Join(dir, "notes.txt"), nil, 0o640)

	n, err := s.Prune(context.Background(), time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 archive removed, got %d", n)
	}
	archives, _ := s.Archives()
	if len(archives) != 1 || !strings.Contains(archives[0], "20260103") {
		t.Errorf("unexpected remaining archives %v", archives)
	}
}

func TestNewFileSinkRequiresPath(t *testing.T) {
	if _, err := NewFileSink(FileOptions{}, newTestLogger()); err == nil {
		t.Error("expected error without path")
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "decisions.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreWriteRecent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i, tier := range []router.Tier{router.TierSimple, router.TierCoding, router.TierPremium} {
		rec := testRecord(tier, base.Add(time.Duration(i)*time.Minute))
		rec.Substituted = tier == router.TierCoding
		if err := s.Write(ctx, rec); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	recent, err := s.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(recent) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recent))
	}
	if recent[0].Tier != router.TierPremium || recent[1].Tier != router.TierCoding {
		t.Errorf("expected newest first, got %s, %s", recent[0].Tier, recent[1].Tier)
	}
	if !recent[1].Substituted || recent[0].Substituted {
		t.Error("substituted flag not preserved")
	}
	if !recent[0].Timestamp.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("unexpected timestamp %v", recent[0].Timestamp)
	}
	if recent[0].Scores["code"] != 0.32 {
		t.Errorf("scores not preserved: %v", recent[0].Scores)
	}
}

func TestSQLiteStoreTierCountsAndPrune(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

	s.Write(ctx, testRecord(router.TierSimple, old))
	s.Write(ctx, testRecord(router.TierSimple, fresh))
	s.Write(ctx, testRecord(router.TierCoding, fresh))

	all, err := s.TierCounts(ctx, time.Time{})
	if err != nil {
		t.Fatalf("tier counts: %v", err)
	}
	if all[router.TierSimple] != 2 || all[router.TierCoding] != 1 {
		t.Errorf("unexpected counts %v", all)
	}

	since, err := s.TierCounts(ctx, fresh.Add(-time.Hour))
	if err != nil {
		t.Fatalf("tier counts since: %v", err)
	}
	if since[router.TierSimple] != 1 {
		t.Errorf("expected 1 recent simple decision, got %v", since)
	}

	n, err := s.Prune(ctx, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row pruned, got %d", n)
	}
	recent, _ := s.Recent(ctx, 10)
	if len(recent) != 2 {
		t.Errorf("expected 2 rows left, got %d", len(recent))
	}
}

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }

func (t *fakeToken) Error() error { return t.err }

type publishedMsg struct {
	topic   string
	qos     byte
	payload []byte
}

type fakeMQTTClient struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	publishToken func() mqtt.Token
	published    []publishedMsg
	disconnected bool
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	if c.connectErr == nil {
		c.connected = true
	}
	return doneToken(c.connectErr)
}

func (c *fakeMQTTClient) Disconnect(uint) { c.disconnected = true }

func (c *fakeMQTTClient) IsConnected() bool { return c.connected }

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	c.published = append(c.published, publishedMsg{topic: topic, qos: qos, payload: payload.([]byte)})
	c.mu.Unlock()
	if c.publishToken != nil {
		return c.publishToken()
	}
	return doneToken(nil)
}

func TestMQTTSinkPublishesPerTier(t *testing.T) {
	client := &fakeMQTTClient{}
	s, err := NewMQTTSinkWithClient(MQTTOptions{Topic: "route", QoS: 1}, client, newTestLogger())
	if err != nil {
		t.Fatalf("NewMQTTSinkWithClient: %v", err)
	}
	if !client.connected {
		t.Error("expected sink to connect the client")
	}

	if err := s.Write(context.Background(), testRecord(router.TierReasoning, time.Now())); err != nil {
		t.Fatalf("write: %v", err)
	}
	if len(client.published) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(client.published))
	}
	p := client.published[0]
	if p.topic != "route/reasoning" || p.qos != 1 {
		t.Errorf("unexpected publish %s qos %d", p.topic, p.qos)
	}
	var rec Record
	if err := json.Unmarshal(p.payload, &rec); err != nil || rec.Tier != router.TierReasoning {
		t.Errorf("unexpected payload %s (%v)", p.payload, err)
	}

	s.Close()
	if !client.disconnected {
		t.Error("expected disconnect on close")
	}
}

func TestMQTTSinkErrors(t *testing.T) {
	if _, err := NewMQTTSinkWithClient(MQTTOptions{}, &fakeMQTTClient{connectErr: errors.New("refused")}, newTestLogger()); err == nil {
		t.Error("expected connect error")
	}

	pubErr := errors.New("not authorised")
	client := &fakeMQTTClient{connected: true, publishToken: func() mqtt.Token { return doneToken(pubErr) }}
	s, err := NewMQTTSinkWithClient(MQTTOptions{}, client, newTestLogger())
	if err != nil {
		t.Fatalf("NewMQTTSinkWithClient: %v", err)
	}
	if err := s.Write(context.Background(), testRecord(router.TierSimple, time.Now())); !errors.Is(err, pubErr) {
		t.Errorf("expected publish error, got %v", err)
	}

	client.publishToken = func() mqtt.Token { return pendingToken() }
	s.opts.Timeout = 20 * time.Millisecond
	if err := s.Write(context.Background(), testRecord(router.TierSimple, time.Now())); !errors.Is(err, ErrPublishTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}

	s.opts.Timeout = time.Minute
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := s.Write(ctx, testRecord(router.TierSimple, time.Now())); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context cancellation, got %v", err)
	}
}

type fakePruner struct {
	n      int64
	err    error
	cutoff time.Time
}

func (p *fakePruner) Prune(_ context.Context, before time.Time) (int64, error) {
	p.cutoff = before
	return p.n, p.err
}

func TestRetentionRunOnce(t *testing.T) {
	a := &fakePruner{n: 2}
	b := &fakePruner{n: 3, err: errors.New("locked")}
	r, err := NewRetention("@daily", 7, newTestLogger(), a, b)
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	n, err := r.RunOnce(context.Background())
	if n != 5 {
		t.Errorf("expected 5 removed, got %d", n)
	}
	if err == nil {
		t.Error("expected joined error")
	}
	if want := now.Add(-7 * 24 * time.Hour); !a.cutoff.Equal(want) {
		t.Errorf("expected cutoff %v, got %v", want, a.cutoff)
	}

	r.Start()
	r.Stop()
}

func TestRetentionValidation(t *testing.T) {
	if _, err := NewRetention("not a schedule", 7, newTestLogger()); err == nil {
		t.Error("expected schedule error")
	}
	if _, err := NewRetention("0 3 * * *", 0, newTestLogger()); err == nil {
		t.Error("expected error for non-positive days")
	}
}

func TestRetentionPrunesStore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)
	s.Write(ctx, testRecord(router.TierSimple, now.Add(-40*24*time.Hour)))
	s.Write(ctx, testRecord(router.TierSimple, now.Add(-time.Hour)))

	r, err := NewRetention("0 3 * * *", 30, newTestLogger(), s)
	if err != nil {
		t.Fatalf("NewRetention: %v", err)
	}
	r.now = func() time.Time { return now }

	if n, err := r.RunOnce(ctx); err != nil || n != 1 {
		t.Errorf("expected 1 pruned, got %d (%v)", n, err)
	}
}
