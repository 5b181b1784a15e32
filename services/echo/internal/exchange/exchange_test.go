package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"echonode-go/errcode"
	"echonode-go/services/echo/internal/panel"
	"echonode-go/services/hal/halcore"
	"echonode-go/services/hal/platform"
	"echonode-go/services/hal/radio"
)

// scriptRadio plays a chain without hardware. play fills in statuses and
// raises callbacks the way the radio context would, then returns the
// termination event.
type scriptRadio struct {
	now    halcore.Ticks
	posted []*halcore.Op
	err    error
	play   func(first *halcore.Op, cb halcore.Callback) halcore.Event
}

func (r *scriptRadio) RunChain(_ context.Context, op *halcore.Op, cb halcore.Callback, _ halcore.Event) (halcore.Event, error) {
	if r.err != nil {
		return 0, r.err
	}
	return r.play(op, cb), nil
}

func (r *scriptRadio) PostCommand(op *halcore.Op) error {
	if r.err != nil {
		return r.err
	}
	r.posted = append(r.posted, op)
	op.Status = halcore.DoneOK
	return nil
}

func (r *scriptRadio) Now() halcore.Ticks { return r.now }
func (r *scriptRadio) Stop(bool)          {}

func newCtl(t *testing.T, r halcore.Radio, strict bool) (*Controller, *platform.FakePin, *platform.FakePin) {
	t.Helper()
	l1, l2 := platform.NewFakePin(25), platform.NewFakePin(15)
	c, err := New(r, panel.New(platform.NewFakePin(14), l1, l2), Config{
		PayloadLen:        30,
		RxTimeout:         500 * time.Millisecond,
		TxLead:            100 * time.Microsecond,
		TxDelay:           100 * time.Millisecond,
		StrictTermination: strict,
		Seed:              1,
	})
	if err != nil {
		t.Fatal(err)
	}
	return c, l1, l2
}

// echoBack finishes tx OK, then delivers back into rx whatever tx sent.
func echoBack(mutate func([]byte)) func(*halcore.Op, halcore.Callback) halcore.Event {
	return func(tx *halcore.Op, cb halcore.Callback) halcore.Event {
		tx.Status, tx.Started, tx.Ended = halcore.DoneOK, 100, 200
		cb(tx, halcore.EventCmdDone)
		rx := tx.Next
		n := copy(rx.RxBuf, tx.Packet)
		if mutate != nil {
			mutate(rx.RxBuf[:n])
		}
		rx.RxLen, rx.Timestamp = n, 9000
		cb(rx, halcore.EventRxEntryDone)
		rx.Status = halcore.DoneOK
		cb(rx, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}
}

func TestInitiatorSuccess(t *testing.T) {
	r := &scriptRadio{now: 1000, play: echoBack(nil)}
	c, l1, l2 := newCtl(t, r, true)

	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Success || !res.Echoed || res.Seq != 0 {
		t.Fatalf("result %+v", res)
	}
	if res.Ref != 9000 || res.TxFrom != 100 || res.TxUntil != 200 {
		t.Fatalf("timing %+v", res)
	}
	if c.txOp.Start.Kind != halcore.TriggerAbs || c.txOp.Start.At != r.now.Add(100*time.Microsecond) {
		t.Fatalf("tx start trigger %+v", c.txOp.Start)
	}
	// tx done toggles LED1, matching echo toggles it back
	if l1.Get() || l2.Get() {
		t.Fatalf("leds %v %v", l1.Get(), l2.Get())
	}
	if l1.Writes() < 2 {
		t.Fatalf("led1 writes = %d", l1.Writes())
	}
	if c.Seq() != 1 {
		t.Fatalf("next seq = %d", c.Seq())
	}
}

func TestInitiatorSequenceInPayload(t *testing.T) {
	r := &scriptRadio{play: echoBack(nil)}
	c, _, _ := newCtl(t, r, true)
	c.seq = 0x01FF
	if _, err := c.TransmitAndAwaitEcho(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p := c.LastTx(); p[0] != 0x01 || p[1] != 0xFF {
		t.Fatalf("header % x", p[:2])
	}
}

func TestInitiatorMismatchLightsBoth(t *testing.T) {
	r := &scriptRadio{play: echoBack(func(b []byte) { b[5] ^= 0xFF })}
	c, l1, l2 := newCtl(t, r, true)

	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// the exchange itself completed; the content did not match
	if res.Outcome != Success || res.Echoed {
		t.Fatalf("result %+v", res)
	}
	if !l1.Get() || !l2.Get() {
		t.Fatalf("leds %v %v, want both on", l1.Get(), l2.Get())
	}
}

func TestInitiatorRxTimeout(t *testing.T) {
	r := &scriptRadio{play: func(tx *halcore.Op, cb halcore.Callback) halcore.Event {
		tx.Status = halcore.DoneOK
		cb(tx, halcore.EventCmdDone)
		tx.Next.Status = halcore.DoneRxTimeout
		cb(tx.Next, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}}
	c, l1, l2 := newCtl(t, r, true)

	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Timeout || res.Status != halcore.DoneRxTimeout {
		t.Fatalf("result %+v", res)
	}
	if l1.Get() || !l2.Get() {
		t.Fatalf("leds %v %v, want off/on", l1.Get(), l2.Get())
	}
}

func TestInitiatorTxFailureDecides(t *testing.T) {
	r := &scriptRadio{play: func(tx *halcore.Op, cb halcore.Callback) halcore.Event {
		tx.Status = halcore.ErrorNoFS
		cb(tx, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}}
	c, _, _ := newCtl(t, r, true)
	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != ProtocolError || res.Status != halcore.ErrorNoFS {
		t.Fatalf("result %+v", res)
	}
}

func TestTerminationEvents(t *testing.T) {
	cases := []struct {
		ev   halcore.Event
		want Outcome
	}{
		{halcore.EventCmdCancelled, Cancelled},
		{halcore.EventCmdAborted, Aborted},
		{halcore.EventCmdStopped, Stopped},
	}
	for _, tc := range cases {
		ev := tc.ev
		r := &scriptRadio{play: func(*halcore.Op, halcore.Callback) halcore.Event { return ev }}
		c, _, _ := newCtl(t, r, true)
		res, err := c.TransmitAndAwaitEcho(context.Background())
		if err != nil {
			t.Fatalf("%v: %v", tc.want, err)
		}
		if res.Outcome != tc.want {
			t.Fatalf("event %#x: outcome %v, want %v", ev, res.Outcome, tc.want)
		}
	}
}

func TestUnknownTerminationStrictIsFatal(t *testing.T) {
	r := &scriptRadio{play: func(*halcore.Op, halcore.Callback) halcore.Event { return halcore.EventInternalError }}
	c, _, _ := newCtl(t, r, true)
	_, err := c.TransmitAndAwaitEcho(context.Background())
	if errcode.Of(err) != errcode.UnknownTermination || !errcode.IsFatal(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestUnknownTerminationLenient(t *testing.T) {
	r := &scriptRadio{play: func(*halcore.Op, halcore.Callback) halcore.Event { return halcore.EventInternalError }}
	c, _, _ := newCtl(t, r, false)
	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != ProtocolError {
		t.Fatalf("outcome %v", res.Outcome)
	}
}

func TestUnknownStatus(t *testing.T) {
	play := func(tx *halcore.Op, cb halcore.Callback) halcore.Event {
		tx.Status = halcore.DoneOK
		tx.Next.Status = 0x3407
		cb(tx.Next, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}
	c, _, _ := newCtl(t, &scriptRadio{play: play}, true)
	_, err := c.TransmitAndAwaitEcho(context.Background())
	if errcode.Of(err) != errcode.UnknownStatus {
		t.Fatalf("err = %v", err)
	}

	c, _, _ = newCtl(t, &scriptRadio{play: play}, false)
	res, err := c.TransmitAndAwaitEcho(context.Background())
	if err != nil || res.Outcome != ProtocolError {
		t.Fatalf("lenient: %+v %v", res, err)
	}
}

func TestRxOnlyCodeOnTxIsUnknown(t *testing.T) {
	r := &scriptRadio{play: func(tx *halcore.Op, cb halcore.Callback) halcore.Event {
		tx.Status = halcore.DoneRxTimeout
		return halcore.EventLastCmdDone
	}}
	c, _, _ := newCtl(t, r, true)
	if _, err := c.TransmitAndAwaitEcho(context.Background()); errcode.Of(err) != errcode.UnknownStatus {
		t.Fatalf("err = %v", err)
	}
}

func TestRunChainErrors(t *testing.T) {
	c, _, _ := newCtl(t, &scriptRadio{err: halcore.ErrNotRunning}, true)
	_, err := c.TransmitAndAwaitEcho(context.Background())
	if errcode.Of(err) != errcode.MissingHandle || !errors.Is(err, halcore.ErrNotRunning) {
		t.Fatalf("err = %v", err)
	}
	if err := c.Setup(); errcode.Of(err) != errcode.MissingHandle {
		t.Fatalf("setup err = %v", err)
	}

	c, _, _ = newCtl(t, &scriptRadio{err: halcore.ErrBusy}, true)
	if _, err := c.AwaitAndEcho(context.Background(), 0); errcode.Of(err) != errcode.Busy || errcode.IsFatal(err) {
		t.Fatalf("err = %v", err)
	}
}

func TestResponderEchoesPayload(t *testing.T) {
	in := []byte{0x00, 0x07, 1, 2, 3, 4}
	var sent []byte
	r := &scriptRadio{play: func(rx *halcore.Op, cb halcore.Callback) halcore.Event {
		if rx.Kind != halcore.OpRx || rx.End.Kind != halcore.TriggerNever {
			t.Errorf("first op %+v", rx)
		}
		rx.RxLen = copy(rx.RxBuf, in)
		rx.Timestamp = 4242
		cb(rx, halcore.EventRxEntryDone)
		rx.Status = halcore.DoneOK
		tx := rx.Next
		if tx.Start.Kind != halcore.TriggerRelPrevEnd || tx.Start.Delay != 100*time.Millisecond {
			t.Errorf("tx start %+v", tx.Start)
		}
		sent = append(sent, tx.Packet...)
		tx.Status = halcore.DoneOK
		cb(tx, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}}
	c, _, l2 := newCtl(t, r, true)

	res, err := c.AwaitAndEcho(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Success || !res.Echoed || res.Seq != 7 || res.Ref != 4242 {
		t.Fatalf("result %+v", res)
	}
	if string(sent) != string(in) {
		t.Fatalf("echoed % x, want % x", sent, in)
	}
	// two toggles: rx done then tx done
	if l2.Get() || l2.Writes() != 2 {
		t.Fatalf("led2 level %v writes %d", l2.Get(), l2.Writes())
	}
}

func TestResponderTimeoutTrigger(t *testing.T) {
	r := &scriptRadio{play: func(rx *halcore.Op, cb halcore.Callback) halcore.Event {
		if rx.End.Kind != halcore.TriggerRelStart || rx.End.Delay != time.Second {
			t.Errorf("end trigger %+v", rx.End)
		}
		rx.Status = halcore.DoneRxTimeout
		cb(rx, halcore.EventCmdDone|halcore.EventLastCmdDone)
		return halcore.EventLastCmdDone
	}}
	c, _, _ := newCtl(t, r, true)
	res, err := c.AwaitAndEcho(context.Background(), time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Timeout || res.Echoed {
		t.Fatalf("result %+v", res)
	}
}

func TestMatchesBounds(t *testing.T) {
	c, _, _ := newCtl(t, &scriptRadio{}, true)
	copy(c.tx, []byte{1, 2, 3})
	if c.matches(nil) {
		t.Fatal("empty packet matched")
	}
	if !c.matches([]byte{1, 2}) {
		t.Fatal("prefix should match")
	}
	long := make([]byte, 40)
	copy(long, c.tx)
	long[35] = 9
	if !c.matches(long) {
		t.Fatal("bytes past the payload length must be ignored")
	}
}

func TestValidate(t *testing.T) {
	for _, cfg := range []Config{
		{PayloadLen: 1},
		{PayloadLen: 256},
		{PayloadLen: 30, RxTimeout: -1},
	} {
		if err := cfg.Validate(); errcode.Of(err) != errcode.ConfigError {
			t.Fatalf("%+v: %v", cfg, err)
		}
	}
}

// Full path through the radio runner and the echoing air.
func TestExchangeOverRunner(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	air := platform.NewEchoLora(10 * time.Millisecond)
	air.Plan = func(n int) platform.Air {
		if n == 1 {
			return platform.AirSilent
		}
		return platform.AirEcho
	}
	r := radio.New(air, platform.NewMonoClock(), radio.Config{Lora: radio.DefaultLora()})
	r.Start(ctx)

	c, _, _ := newCtl(t, r, true)
	c.cfg.RxTimeout = 200 * time.Millisecond
	if err := c.Setup(); err != nil {
		t.Fatal(err)
	}

	res, err := c.TransmitAndAwaitEcho(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Success || !res.Echoed {
		t.Fatalf("first exchange %+v", res)
	}
	if !res.Ref.After(res.TxUntil) {
		t.Fatalf("ref %d not after tx end %d", res.Ref, res.TxUntil)
	}

	res, err = c.TransmitAndAwaitEcho(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Outcome != Timeout {
		t.Fatalf("second exchange %+v", res)
	}
}
