package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/ghostkellz/zeke/provider/mock"
)

func TestJanitorSweepsStaleTasks(t *testing.T) {
	o := newTestOrchestrator(t, Options{CleanupAge: time.Millisecond})

	id := o.SubmitChatRequest(mock.New(nil), chatReq("x"), RequestOptions{}, nil)
	if _, err := o.WaitForRequest(context.Background(), id); err != nil {
		t.Fatalf("WaitForRequest: %v", err)
	}

	// cron clamps @every intervals to a 1s minimum, so the sweep fires
	// about a second in.
	j, err := NewJanitor(o, nil, "@every 1s", nil)
	if err != nil {
		t.Fatalf("NewJanitor: %v", err)
	}
	j.Start()
	defer j.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, ok := o.GetRequestStatus(id); !ok {
			return // swept
		}
		if time.Now().After(deadline) {
			t.Fatal("janitor never purged the stale task")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestJanitorRejectsBadSchedule(t *testing.T) {
	o := newTestOrchestrator(t, Options{})
	if _, err := NewJanitor(o, nil, "not a schedule", nil); err == nil {
		t.Error("NewJanitor accepted a malformed schedule")
	}
}
