package hotkey

import (
	"testing"
	"time"
)

func nextAction(t *testing.T, p *PushToTalk) Action {
	t.Helper()
	select {
	case a := <-p.Actions():
		return a
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for action")
		return 0
	}
}

func noAction(t *testing.T, p *PushToTalk, wait time.Duration) {
	t.Helper()
	select {
	case a := <-p.Actions():
		t.Fatalf("unexpected %s", a)
	case <-time.After(wait):
	}
}

func TestPushToTalkHold(t *testing.T) {
	fk := NewFake()
	threshold := 50 * time.Millisecond
	p := NewPushToTalk(fk, threshold)
	defer p.Close()

	fk.SimKeydown()
	if a := nextAction(t, p); a != ActionStart {
		t.Fatalf("got %s, want start", a)
	}
	time.Sleep(threshold + 20*time.Millisecond)
	if p.Toggled() {
		t.Error("long press should not toggle")
	}
	fk.SimKeyup()
	if a := nextAction(t, p); a != ActionStop {
		t.Fatalf("got %s, want stop", a)
	}
}

func TestPushToTalkTap(t *testing.T) {
	fk := NewFake()
	p := NewPushToTalk(fk, 200*time.Millisecond)
	defer p.Close()

	fk.SimKeydown()
	if a := nextAction(t, p); a != ActionStart {
		t.Fatalf("got %s, want start", a)
	}
	fk.SimKeyup()
	time.Sleep(10 * time.Millisecond)
	if !p.Toggled() {
		t.Error("short tap should toggle")
	}
	noAction(t, p, 50*time.Millisecond)

	fk.SimKeydown()
	noAction(t, p, 20*time.Millisecond)
	fk.SimKeyup()
	if a := nextAction(t, p); a != ActionStop {
		t.Fatalf("got %s, want stop", a)
	}
	if p.Toggled() {
		t.Error("toggle should clear after stop")
	}
}

func TestPushToTalkRepeats(t *testing.T) {
	fk := NewFake()
	threshold := 30 * time.Millisecond
	p := NewPushToTalk(fk, threshold)
	defer p.Close()

	for i := 0; i < 3; i++ {
		fk.SimKeydown()
		if a := nextAction(t, p); a != ActionStart {
			t.Fatalf("round %d: got %s, want start", i, a)
		}
		time.Sleep(threshold + 10*time.Millisecond)
		fk.SimKeyup()
		if a := nextAction(t, p); a != ActionStop {
			t.Fatalf("round %d: got %s, want stop", i, a)
		}
	}
}

func TestPushToTalkClose(t *testing.T) {
	fk := NewFake()
	p := NewPushToTalk(fk, time.Second)
	p.Close()
	p.Close()
	fk.SimKeydown()
	noAction(t, p, 30*time.Millisecond)
}
