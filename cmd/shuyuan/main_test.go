package main

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cyqddx/shuyuan/core/infra/config"
)

const mainTestYAML = `host_domain: http://localhost:8080
compression:
  enabled: true
  level: 6
rate_limit:
  rule: 60/minute
max_file_size: 10485760
`

// syncBuffer keeps buf.String() safe while the announcer goroutine is
// still logging.
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

func TestAnnounceConfigChanges(t *testing.T) {
	var buf syncBuffer
	origOut := log.Writer()
	origFlags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	t.Cleanup(func() {
		log.SetOutput(origOut)
		log.SetFlags(origFlags)
	})

	initial, err := config.ParseAndValidate([]byte(mainTestYAML))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	coord := config.NewCoordinator(initial)
	go announceConfigChanges(coord, coord.Subscribe(), false)

	next := *coord.Current()
	next.MaxFileSize = 4096
	next.RemoteStorage.Enabled = true
	next.RemoteStorage.Endpoint = "http://127.0.0.1:9000"
	next.RemoteStorage.Region = "us-east-1"
	next.RemoteStorage.Bucket = "shuyuan"
	next.RemoteStorage.AccessKey = "ak"
	next.RemoteStorage.SecretKey = "sk"
	if err := coord.Apply(&next); err != nil {
		t.Fatalf("Apply returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		out := buf.String()
		if strings.Contains(out, "config change applied") &&
			strings.Contains(out, "max_file_size=4096") &&
			strings.Contains(out, "remote storage toggle takes effect after restart") {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("change announcement missing, log output:\n%s", out)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
