package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/weiawesome/live-relay/pkg/log"
)

func TestLogRoom(t *testing.T) {
	var buf bytes.Buffer
	ctx := log.WithLogger(context.Background(), log.New(log.Config{Output: &buf}))

	LogRoom(ctx, ActionJoinRoom, "c1", "alice", "client joined room")

	var entry map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want := map[string]string{
		log.FieldLogType:  log.LogTypeAudit,
		FieldAction:       ActionJoinRoom,
		log.FieldClientID: "c1",
		log.FieldRoom:     "alice",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %s", k, entry[k], v)
		}
	}
}
