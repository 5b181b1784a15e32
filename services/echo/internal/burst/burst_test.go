package burst

import (
	"context"
	"sync"
	"testing"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/hal/platform"
)

func newSched(t *testing.T, guard time.Duration) (*Scheduler, *platform.FakePWM, *platform.MonoClock) {
	t.Helper()
	pwm := platform.NewFakePWM(1000)
	clk := platform.NewMonoClock()
	s, err := New(pwm, clk, Config{DutyPercent: 50, Duration: time.Millisecond, Guard: guard})
	if err != nil {
		t.Fatal(err)
	}
	return s, pwm, clk
}

func TestBurstDutyThenZero(t *testing.T) {
	s, pwm, clk := newSched(t, 0)
	fired := false
	rec, err := s.Schedule(context.Background(), clk.Now(), 2*time.Millisecond, func() { fired = true })
	if err != nil {
		t.Fatal(err)
	}
	if !fired {
		t.Fatal("onFire not called")
	}
	h := pwm.History()
	// New parks at 0, then burst duty, then back to 0.
	if len(h) != 3 || h[0].Duty != 0 || h[1].Duty != 500 || h[2].Duty != 0 {
		t.Fatalf("history = %+v", h)
	}
	if held := h[2].At.Sub(h[1].At); held < time.Millisecond {
		t.Fatalf("burst held %v", held)
	}
	if rec.Duty != 500 || rec.Deferred || rec.Fired.Sub(rec.Requested) < 0 {
		t.Fatalf("record %+v", rec)
	}
	if s.Count() != 1 {
		t.Fatalf("count = %d", s.Count())
	}
}

func TestBurstPushedPastRadioSlot(t *testing.T) {
	s, _, clk := newSched(t, 2*time.Millisecond)
	now := clk.Now()
	until := now.Add(15 * time.Millisecond)
	s.ReserveRadio(now, until)

	rec, err := s.Schedule(context.Background(), now, time.Millisecond, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Deferred {
		t.Fatal("burst inside radio slot not deferred")
	}
	if rec.Fired.Sub(until) < 2*time.Millisecond {
		t.Fatalf("fired %v after slot end, want >= guard", rec.Fired.Sub(until))
	}

	s.ClearRadio()
	rec, _ = s.Schedule(context.Background(), clk.Now(), 0, nil)
	if rec.Deferred {
		t.Fatal("deferred with no reserved slot")
	}
}

func TestBurstsNotReentrant(t *testing.T) {
	s, pwm, clk := newSched(t, 0)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Schedule(context.Background(), clk.Now(), 0, nil)
		}()
	}
	wg.Wait()

	h := pwm.History()[1:]
	if len(h) != 6 {
		t.Fatalf("history len = %d", len(h))
	}
	for i := 0; i < len(h); i += 2 {
		if h[i].Duty == 0 || h[i+1].Duty != 0 {
			t.Fatalf("interleaved bursts: %+v", h)
		}
	}
}

func TestBurstCancelledBeforeTrigger(t *testing.T) {
	s, pwm, clk := newSched(t, 0)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	_, err := s.Schedule(ctx, clk.Now(), 10*time.Second, func() { t.Error("onFire after cancel") })
	if errcode.Of(err) != errcode.Cancelled {
		t.Fatalf("err = %v", err)
	}
	if n := len(pwm.History()); n != 1 {
		t.Fatalf("duty changed after cancel: %d entries", n)
	}
}

func TestConfigValidate(t *testing.T) {
	for _, c := range []Config{
		{DutyPercent: 0, Duration: time.Millisecond},
		{DutyPercent: 101, Duration: time.Millisecond},
		{DutyPercent: 50},
		{DutyPercent: 50, Duration: time.Millisecond, Guard: -1},
	} {
		if err := c.Validate(); errcode.Of(err) != errcode.ConfigError {
			t.Errorf("%+v: err = %v", c, err)
		}
	}
}

func TestFireRespectsReservedSlot(t *testing.T) {
	s, pwm, clk := newSched(t, time.Millisecond)
	now := clk.Now()
	until := now.Add(10 * time.Millisecond)
	s.ReserveRadio(now, until)

	rec, err := s.Fire(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !rec.Deferred || rec.Fired.Sub(until) < time.Millisecond {
		t.Fatalf("record %+v, slot end %d", rec, until)
	}

	s.ClearRadio()
	if rec, err = s.Fire(context.Background(), nil); err != nil || rec.Deferred {
		t.Fatalf("second Fire: %+v %v", rec, err)
	}
	if n := len(pwm.History()); n != 5 {
		t.Fatalf("history has %d changes, want park plus two bursts", n)
	}
}
