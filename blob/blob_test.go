package blob

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	aws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

type doc struct {
	Root   string `json:"root"`
	Leaves int    `json:"leaves"`
}

func exerciseSink(t *testing.T, s Sink) {
	t.Helper()
	ctx := context.Background()

	if err := WriteJSON(ctx, s, "run/manifest.root.json", doc{Root: "0x01", Leaves: 2}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(ctx, s, "run/proofs.json", doc{Root: "0x01"}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	if err := WriteJSON(ctx, s, "other.json", doc{}); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	// Overwrite.
	if err := WriteJSON(ctx, s, "run/manifest.root.json", doc{Root: "0x02", Leaves: 3}); err != nil {
		t.Fatalf("WriteJSON overwrite: %v", err)
	}

	var got doc
	if err := ReadJSON(ctx, s, "run/manifest.root.json", &got); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if got.Root != "0x02" || got.Leaves != 3 {
		t.Fatalf("read back %+v, want overwritten document", got)
	}

	raw, err := s.Get(ctx, "run/proofs.json")
	if err != nil {
		t.Fatal(err)
	}
	if want := "{\n  \"root\": \"0x01\",\n  \"leaves\": 0\n}\n"; string(raw) != want {
		t.Fatalf("raw = %q, want %q", raw, want)
	}

	keys, err := s.List(ctx, "run/")
	if err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "run/manifest.root.json" || keys[1] != "run/proofs.json" {
		t.Fatalf("List = %v", keys)
	}

	if _, err := s.Get(ctx, "run/missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing key err = %v, want ErrNotFound", err)
	}
	for _, bad := range []string{"", "/abs.json", "../escape.json"} {
		if err := s.Put(ctx, bad, []byte("x"), ""); err == nil {
			t.Fatalf("Put(%q) accepted", bad)
		}
	}
}

func TestFilesystemSink(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFilesystem(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatal(err)
	}
	exerciseSink(t, s)

	if _, err := os.Stat(filepath.Join(dir, "out", "run", "proofs.json")); err != nil {
		t.Fatalf("artifact not on disk: %v", err)
	}
	if got := s.Location("run/proofs.json"); got != filepath.Join(dir, "out", "run", "proofs.json") {
		t.Fatalf("Location = %s", got)
	}
}

func TestMemorySink(t *testing.T) {
	s := NewMemory()
	exerciseSink(t, s)
	if got := s.Location("a.json"); got != "memory://a.json" {
		t.Fatalf("Location = %s", got)
	}
}

func TestS3Sink(t *testing.T) {
	rt := &fakeS3{objects: make(map[string][]byte)}
	s := newMockS3(rt, "runs")
	exerciseSink(t, s)

	if _, ok := rt.objects["runs/run/proofs.json"]; !ok {
		t.Fatalf("prefix not applied, stored keys: %v", rt.keys())
	}
	if got := s.Location("run/proofs.json"); got != "s3://artifacts/runs/run/proofs.json" {
		t.Fatalf("Location = %s", got)
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{Root: t.TempDir()})
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("Open default = %v, %v", s, err)
	}
	s, err = Open(ctx, Config{Driver: DriverMemory})
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("Open memory = %v, %v", s, err)
	}
	if _, err := Open(ctx, Config{Driver: DriverS3}); err == nil {
		t.Fatal("s3 without bucket accepted")
	}
	if _, err := Open(ctx, Config{Driver: "ftp"}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestS3ConfigFromEnv(t *testing.T) {
	t.Setenv("PAYROX_SINK_S3_BUCKET", "b")
	t.Setenv("PAYROX_SINK_S3_PATH_STYLE", "TRUE")
	t.Setenv("PAYROX_SINK_S3_PREFIX", "p")
	cfg := S3ConfigFromEnv(S3Config{Region: "eu-west-1"})
	if cfg.Bucket != "b" || !cfg.PathStyle || cfg.Prefix != "p" || cfg.Region != "eu-west-1" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func newMockS3(rt http.RoundTripper, prefix string) *S3 {
	client := s3.NewFromConfig(aws.Config{
		Region:      "us-east-1",
		Credentials: credentials.NewStaticCredentialsProvider("AKIA", "SECRET", ""),
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: rt}
		o.UsePathStyle = true
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.RequestChecksumCalculation = aws.RequestChecksumCalculationWhenRequired
		o.ResponseChecksumValidation = aws.ResponseChecksumValidationWhenRequired
	})
	return NewS3FromClient(client, "artifacts", prefix)
}

// fakeS3 answers the path-style PutObject, GetObject and ListObjectsV2
// requests the sink issues.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ks []string
	for k := range f.objects {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return ks
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		prefix := req.URL.Query().Get("prefix")
		var b strings.Builder
		b.WriteString(`<?xml version="1.0"?><ListBucketResult><IsTruncated>false</IsTruncated>`)
		var ks []string
		for k := range f.objects {
			if strings.HasPrefix(k, prefix) {
				ks = append(ks, k)
			}
		}
		sort.Strings(ks)
		for _, k := range ks {
			fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
		}
		b.WriteString("</ListBucketResult>")
		return respond(http.StatusOK, []byte(b.String()), "application/xml"), nil
	}
	switch req.Method {
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") {
			body = decodeChunked(body)
		}
		f.objects[key] = body
		return respond(http.StatusOK, nil, ""), nil
	case http.MethodGet:
		body, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, []byte(`<?xml version="1.0"?><Error><Code>NoSuchKey</Code></Error>`), "application/xml"), nil
		}
		return respond(http.StatusOK, body, "application/json"), nil
	}
	return respond(http.StatusNotImplemented, nil, ""), nil
}

func respond(code int, body []byte, contentType string) *http.Response {
	h := http.Header{"Content-Length": {strconv.Itoa(len(body))}}
	if contentType != "" {
		h.Set("Content-Type", contentType)
	}
	return &http.Response{
		StatusCode:    code,
		Body:          io.NopCloser(bytes.NewReader(body)),
		Header:        h,
		ContentLength: int64(len(body)),
	}
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n"
// repeated until a zero-length chunk.
func decodeChunked(b []byte) []byte {
	r := bufio.NewReader(bytes.NewReader(b))
	var out []byte
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return out
		}
		size, err := strconv.ParseInt(strings.TrimSpace(strings.SplitN(line, ";", 2)[0]), 16, 64)
		if err != nil || size == 0 {
			return out
		}
		chunk := make([]byte, size)
		if _, err := io.ReadFull(r, chunk); err != nil {
			return out
		}
		out = append(out, chunk...)
		_, _ = r.Discard(2)
	}
}
