package router

import (
	"sync"
	"testing"
	"time"

	"github.com/fleetwire/relayhub/pkg/envelope"
	"github.com/fleetwire/relayhub/pkg/logger"
	"github.com/fleetwire/relayhub/pkg/registry"
	"github.com/fleetwire/relayhub/pkg/relerr"
	"github.com/fleetwire/relayhub/pkg/session"
	"github.com/fleetwire/relayhub/pkg/telemetry"
)

type captureTransport struct {
	mu     sync.Mutex
	frames []envelope.Envelope
}

func (c *captureTransport) WriteMessage(b []byte) error {
	e, err := envelope.Decode(b)
	if err != nil {
		return nil
	}
	c.mu.Lock()
	c.frames = append(c.frames, e)
	c.mu.Unlock()
	return nil
}
func (c *captureTransport) Close() error { return nil }

func (c *captureTransport) waitFor(n int) []envelope.Envelope {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		c.mu.Lock()
		got := len(c.frames)
		c.mu.Unlock()
		if got >= n {
			break
		}
		time.Sleep(time.Millisecond)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]envelope.Envelope, len(c.frames))
	copy(out, c.frames)
	return out
}

func newTestHarness() (*registry.Registry, *telemetry.Buffer, *Router) {
	log := logger.Default()
	reg := registry.New(log)
	tel := telemetry.New(100)
	r := New(reg, tel, log, 10*time.Second)
	return reg, tel, r
}

func connect(reg *registry.Registry, id string, role session.Role) (*session.Session, *captureTransport) {
	tr := &captureTransport{}
	s := session.New(id, role, tr, logger.Default())
	go s.StartWriteFlow()
	reg.Register(s)
	return s, tr
}

func TestPingYieldsPong(t *testing.T) {
	reg, _, r := newTestHarness()
	s, tr := connect(reg, "alpha", session.Device)
	defer s.Close("test")

	r.Route(s, envelope.New(envelope.Ping))
	frames := tr.waitFor(1)
	if len(frames) != 1 {
		t.Fatal("expected a pong reply")
	}
	if ty, _ := frames[0].Type(); ty != envelope.Pong {
		t.Errorf("got %v, want pong", ty)
	}
}

func TestTelemetryFansOutToAllClients(t *testing.T) {
	reg, _, r := newTestHarness()
	dev, devTr := connect(reg, "alpha", session.Device)
	defer dev.Close("test")
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")
	c2, tr2 := connect(reg, "c2", session.Client)
	defer c2.Close("test")

	for _, seq := range []int{1, 2, 3} {
		r.Route(dev, envelope.New(envelope.Telemetry).Set("seq", seq))
	}

	for _, tr := range []*captureTransport{tr1, tr2} {
		got := tr.waitFor(3)
		if len(got) != 3 {
			t.Fatalf("got %d telemetry frames, want 3", len(got))
		}
		for i, e := range got {
			want := float64(i + 1)
			if e["seq"] != want {
				t.Errorf("frame %d seq = %v, want %v", i, e["seq"], want)
			}
		}
	}
	if len(devTr.waitFor(0)) != 0 {
		t.Error("device should not receive its own telemetry back")
	}
}

func TestConnectDeviceReplaysBufferedTelemetry(t *testing.T) {
	reg, tel, r := newTestHarness()
	dev, _ := connect(reg, "alpha", session.Device)
	defer dev.Close("test")

	for seq := 10; seq <= 14; seq++ {
		tel.Append("alpha", envelope.New(envelope.Telemetry).Set("seq", seq))
	}

	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.ConnectDevice).Set("deviceId", "alpha"))

	got := tr1.waitFor(6)
	if len(got) != 6 {
		t.Fatalf("got %d frames, want 1 device_connected + 5 telemetry", len(got))
	}
	if ty, _ := got[0].Type(); ty != envelope.DeviceConnected {
		t.Errorf("first frame = %v, want device_connected", ty)
	}
	for i, e := range got[1:] {
		want := float64(10 + i)
		if ty, _ := e.Type(); ty != envelope.Telemetry || e["seq"] != want {
			t.Errorf("frame %d = %v/%v, want telemetry/%v", i, ty, e["seq"], want)
		}
	}
}

func TestConnectDeviceToAbsentDeviceCarriesReconnectAdvisory(t *testing.T) {
	reg, _, r := newTestHarness()
	r.WithReconnectAdvisory(7, 3*time.Second)
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.ConnectDevice).Set("deviceId", "ghost"))

	got := tr1.waitFor(1)
	if len(got) != 1 {
		t.Fatal("expected one device_connected reply")
	}
	if got[0]["status"] != "disconnected" {
		t.Fatalf("status = %v, want disconnected", got[0]["status"])
	}
	if got[0]["maxReconnectAttempts"] != float64(7) {
		t.Errorf("maxReconnectAttempts = %v, want 7", got[0]["maxReconnectAttempts"])
	}
	if got[0]["reconnectIntervalSeconds"] != float64(3) {
		t.Errorf("reconnectIntervalSeconds = %v, want 3", got[0]["reconnectIntervalSeconds"])
	}
}

func TestCommandToAbsentDeviceYieldsDeviceUnavailable(t *testing.T) {
	reg, _, r := newTestHarness()
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.Command).
		Set("deviceId", "ghost").Set("command", "stop").Set("command_id", "c1-1-T"))

	got := tr1.waitFor(1)
	if len(got) != 1 {
		t.Fatal("expected an error reply")
	}
	if got[0]["kind"] != string(relerr.DeviceUnavailable) {
		t.Errorf("kind = %v, want device_unavailable", got[0]["kind"])
	}
}

func TestCommandStatusRoutesToOriginatingClient(t *testing.T) {
	reg, _, r := newTestHarness()
	dev, _ := connect(reg, "alpha", session.Device)
	defer dev.Close("test")
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.Command).
		Set("deviceId", "alpha").Set("command", "stop").Set("command_id", "c1-1-T"))

	r.Route(dev, envelope.New(envelope.CommandStatus).
		Set("command_id", "c1-1-T").Set("status", "success"))

	got := tr1.waitFor(1)
	var found bool
	for _, e := range got {
		if ty, _ := e.Type(); ty == envelope.CommandStatus {
			found = true
		}
	}
	if !found {
		t.Fatal("client never received command_status")
	}
}

func TestCommandStatusFallsBackToPrefixMatch(t *testing.T) {
	reg, _, r := newTestHarness()
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")
	dev, _ := connect(reg, "alpha", session.Device)
	defer dev.Close("test")

	// No prior `command` was routed through this router instance, so
	// there is no pending-command entry — only the prefix match applies.
	r.Route(dev, envelope.New(envelope.CommandStatus).
		Set("command_id", "c1-7-T").Set("status", "success"))

	got := tr1.waitFor(1)
	if len(got) != 1 {
		t.Fatal("expected prefix-matched delivery to c1")
	}
}

func TestSweepCommandAcksEmitsSyntheticTimeout(t *testing.T) {
	reg, _, r := newTestHarness()
	r.ackTimeout = -time.Second // already expired
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")
	dev, _ := connect(reg, "alpha", session.Device)
	defer dev.Close("test")

	r.Route(c1, envelope.New(envelope.Command).
		Set("deviceId", "alpha").Set("command", "stop").Set("command_id", "c1-1-T"))

	r.SweepCommandAcks()

	got := tr1.waitFor(1)
	var timedOut bool
	for _, e := range got {
		if ty, _ := e.Type(); ty == envelope.CommandStatus && e["status"] == "timeout" {
			timedOut = true
		}
	}
	if !timedOut {
		t.Fatal("expected a synthetic timeout command_status")
	}
}

func TestWebrtcOfferRelaysVerbatimWithClientId(t *testing.T) {
	reg, _, r := newTestHarness()
	dev, devTr := connect(reg, "alpha", session.Device)
	defer dev.Close("test")
	c1, _ := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.WebRTC).WithSubtype(envelope.Offer).
		Set("deviceId", "alpha").Set("sdp", "S"))

	got := devTr.waitFor(1)
	if len(got) != 1 {
		t.Fatal("device never received the offer")
	}
	if got[0]["sdp"] != "S" || got[0]["clientId"] != "c1" {
		t.Errorf("got %+v, want sdp=S clientId=c1", got[0])
	}
}

func TestWebrtcAnswerRelaysToNamedClient(t *testing.T) {
	reg, _, r := newTestHarness()
	dev, _ := connect(reg, "alpha", session.Device)
	defer dev.Close("test")
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(dev, envelope.New(envelope.WebRTC).WithSubtype(envelope.Answer).
		Set("clientId", "c1").Set("sdp", "A"))

	got := tr1.waitFor(1)
	if len(got) != 1 || got[0]["sdp"] != "A" {
		t.Fatalf("got %+v, want sdp=A", got)
	}
}

func TestWebrtcIceCandidateToAbsentPeerYieldsPeerUnavailable(t *testing.T) {
	reg, _, r := newTestHarness()
	c1, tr1 := connect(reg, "c1", session.Client)
	defer c1.Close("test")

	r.Route(c1, envelope.New(envelope.WebRTC).WithSubtype(envelope.IceCandidate).
		Set("deviceId", "ghost").Set("candidate", "X"))

	got := tr1.waitFor(1)
	if len(got) != 1 || got[0]["kind"] != string(relerr.PeerUnavailable) {
		t.Fatalf("got %+v, want peer_unavailable", got)
	}
}

func TestUnknownRoutingFailureRepliesUnsupported(t *testing.T) {
	reg, _, r := newTestHarness()
	dev, devTr := connect(reg, "alpha", session.Device)
	defer dev.Close("test")

	// devices_list is client-only; a device sending it fails all
	// routing rules and must get unsupported_message back.
	r.Route(dev, envelope.New(envelope.DevicesList))

	got := devTr.waitFor(1)
	if len(got) != 1 || got[0]["kind"] != string(relerr.UnsupportedMessage) {
		t.Fatalf("got %+v, want unsupported_message", got)
	}
}
