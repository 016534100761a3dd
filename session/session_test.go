/* SPDX-License-Identifier: MPL-2.0
 * Copyright 2025 Tejus Pratap <tejzpr@gmail.com>
 *
 * See CONTRIBUTORS.md for full contributor list.
 */

package session

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xivocommunity/cti-go-sdk/ctisdk"
	"github.com/xivocommunity/cti-go-sdk/router"
	"github.com/xivocommunity/cti-go-sdk/storage"
	"github.com/xivocommunity/cti-go-sdk/transport"
	"github.com/xivocommunity/cti-go-sdk/wire"
)

// fakeTransport records outbound commands and lets tests inject server
// messages through the handler, mirroring the synchronous delivery contract
// of the real transports.
type fakeTransport struct {
	mu         sync.Mutex
	handler    transport.Handler
	sent       []wire.Message
	dials      []string
	connected  bool
	encrypted  bool
	connectErr error
}

func (f *fakeTransport) SetHandler(h transport.Handler) { f.handler = h }

func (f *fakeTransport) Connect(host string, port int, useTLS bool) error {
	f.mu.Lock()
	f.dials = append(f.dials, host)
	f.mu.Unlock()
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	f.handler.OnTransportEvent(transport.Event{Kind: transport.EventConnected})
	return nil
}

func (f *fakeTransport) StartTLS() error {
	f.mu.Lock()
	f.encrypted = true
	f.mu.Unlock()
	f.handler.OnTransportEvent(transport.Event{Kind: transport.EventTLSNegotiated})
	return nil
}

func (f *fakeTransport) Send(payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return errors.New("not connected")
	}
	var msg wire.Message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	f.connected = false
	f.encrypted = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Encrypted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encrypted
}

// serverSends injects one server message as a framed line.
func (f *fakeTransport) serverSends(t *testing.T, msg wire.Message) {
	t.Helper()
	line, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal server message: %v", err)
	}
	f.handler.OnTransportEvent(transport.Event{Kind: transport.EventLine, Line: line})
}

func (f *fakeTransport) sentClasses() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	classes := make([]string, len(f.sent))
	for i, msg := range f.sent {
		classes[i] = msg.Class()
	}
	return classes
}

// lastSent returns the most recent command of the given class, or nil.
func (f *fakeTransport) lastSent(class string) wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.sent) - 1; i >= 0; i-- {
		if f.sent[i].Class() == class {
			return f.sent[i]
		}
	}
	return nil
}

func testConfig() *ctisdk.Config {
	cfg := ctisdk.DefaultConfig()
	cfg.Address = "cti.example.org"
	cfg.Port = 5003
	cfg.Encrypt = false
	cfg.Login = "jbond"
	cfg.Password = "0007"
	cfg.Ident = "X11-test"
	cfg.TryToReconnect = false
	return cfg
}

func newTestSession(cfg *ctisdk.Config) (*Session, *fakeTransport) {
	tr := &fakeTransport{}
	return New(cfg, tr, nil), tr
}

// loginToLogged drives a session through the full plaintext handshake.
func loginToLogged(t *testing.T, s *Session, tr *fakeTransport) {
	t.Helper()
	s.Start()
	tr.serverSends(t, wire.Message{"class": "login_id", "sessionid": "deadbeef"})
	tr.serverSends(t, wire.Message{"class": "login_pass", "capalist": []interface{}{"client"}})
	tr.serverSends(t, wire.Message{
		"class":     "login_capas",
		"ipbxid":    "xivo",
		"userid":    "42",
		"appliname": "client",
		"capaxlets": []interface{}{"identity", "dial"},
	})
	if got := s.State(); got != StateLogged {
		t.Fatalf("State after handshake = %q, want %q", got, StateLogged)
	}
}

func TestStartTLSHandshakeSendsLoginID(t *testing.T) {
	cfg := testConfig()
	cfg.Encrypt = true
	s, tr := newTestSession(cfg)

	s.Start()
	if got := s.State(); got != StateTLSHandshake {
		t.Fatalf("State after connect = %q, want %q", got, StateTLSHandshake)
	}
	if tr.lastSent("login_id") != nil {
		t.Fatal("login_id sent before the starttls offer")
	}

	tr.serverSends(t, wire.Message{"class": "starttls", "starttls": true})

	if !tr.Encrypted() {
		t.Error("TLS upgrade was not performed")
	}
	echo := tr.lastSent("starttls")
	if echo == nil || echo.Bool("status") != true {
		t.Errorf("starttls acknowledgement = %v, want status:true", echo)
	}
	login := tr.lastSent("login_id")
	if login == nil {
		t.Fatal("login_id not sent after TLS upgrade")
	}
	for key, want := range map[string]string{
		"userlogin":   "jbond",
		"company":     "xivo",
		"ident":       "X11-test",
		"xivoversion": ctisdk.ProtocolVersion,
	} {
		if got := login.String(key); got != want {
			t.Errorf("login_id[%q] = %q, want %q", key, got, want)
		}
	}
	if got := s.State(); got != StateAwaitingLoginID {
		t.Errorf("State after login_id = %q, want %q", got, StateAwaitingLoginID)
	}
}

func TestPlaintextConnectAuthenticatesImmediately(t *testing.T) {
	s, tr := newTestSession(testConfig())
	s.Start()
	if tr.lastSent("login_id") == nil {
		t.Fatal("login_id not sent on plaintext connect")
	}
	if got := s.State(); got != StateAwaitingLoginID {
		t.Errorf("State = %q, want %q", got, StateAwaitingLoginID)
	}
}

func TestLoginPassErrorAbortsSession(t *testing.T) {
	s, tr := newTestSession(testConfig())

	var failures []string
	s.On(EventConnectionFailed, func(n *Notification) {
		failures = append(failures, n.ErrorID)
	})

	s.Start()
	tr.serverSends(t, wire.Message{"class": "login_id", "sessionid": "deadbeef"})
	tr.serverSends(t, wire.Message{"class": "login_pass", "error_string": "login_password"})

	if got := s.State(); got != StateDisconnected {
		t.Errorf("State = %q, want %q", got, StateDisconnected)
	}
	if tr.lastSent("login_capas") != nil {
		t.Error("login_capas sent despite login_pass error")
	}
	if len(failures) != 1 || failures[0] != "login_password" {
		t.Errorf("connection-failed notifications = %v, want [login_password]", failures)
	}
}

func TestCapabilityTieBreak(t *testing.T) {
	tests := []struct {
		name      string
		capas     []string
		preferred string
		want      string
	}{
		{"preference offered", []string{"A", "B"}, "B", "B"},
		{"preference not offered", []string{"A", "B"}, "C", "A"},
		{"no preference", []string{"A", "B"}, "", "A"},
		{"single capability", []string{"A"}, "", "A"},
		{"single capability ignores preference", []string{"A"}, "B", "A"},
		{"empty list", nil, "B", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := pickCapability(tt.capas, tt.preferred); got != tt.want {
				t.Errorf("pickCapability(%v, %q) = %q, want %q", tt.capas, tt.preferred, got, tt.want)
			}
		})
	}
}

func TestCapabilityPreferenceFromLoginSuffix(t *testing.T) {
	cfg := testConfig()
	cfg.Login = "jbond%agent"
	s, tr := newTestSession(cfg)

	s.Start()
	if got := tr.lastSent("login_id").String("userlogin"); got != "jbond" {
		t.Errorf("userlogin = %q, want profile suffix stripped", got)
	}
	tr.serverSends(t, wire.Message{"class": "login_id", "sessionid": "s1"})
	tr.serverSends(t, wire.Message{"class": "login_pass",
		"capalist": []interface{}{"client", "agent"}})

	capas := tr.lastSent("login_capas")
	if capas == nil {
		t.Fatal("login_capas not sent")
	}
	if got := capas.String("capaid"); got != "agent" {
		t.Errorf("capaid = %q, want %q", got, "agent")
	}
	if got := s.State(); got != StateAwaitingCapabilities {
		t.Errorf("State = %q, want %q", got, StateAwaitingCapabilities)
	}
}

func TestInitialPresence(t *testing.T) {
	cfg := testConfig()
	cfg.PresenceEnabled = false
	s, _ := newTestSession(cfg)
	if got := s.initialPresence(); got != PresenceDisconnected {
		t.Errorf("initialPresence with feature off = %q, want %q", got, PresenceDisconnected)
	}

	cfg = testConfig()
	cfg.Availstate = "away"
	s, _ = newTestSession(cfg)
	if got := s.initialPresence(); got != "away" {
		t.Errorf("initialPresence = %q, want %q", got, "away")
	}

	cfg = testConfig()
	cfg.Availstate = PresenceDisconnected
	s, _ = newTestSession(cfg)
	if got := s.initialPresence(); got != PresenceAvailable {
		t.Errorf("initialPresence with off sentinel = %q, want %q", got, PresenceAvailable)
	}
}

func TestLoginCapasPopulatesSession(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	if got := s.XUserID(); got != "xivo/42" {
		t.Errorf("XUserID = %q, want %q", got, "xivo/42")
	}
	if got := s.SessionID(); got != "deadbeef" {
		t.Errorf("SessionID = %q", got)
	}
	if got := s.Appliname(); got != "client" {
		t.Errorf("Appliname = %q", got)
	}
	if got := s.Capaxlets(); len(got) != 2 || got[0] != "identity" {
		t.Errorf("Capaxlets = %v", got)
	}
	if tr.lastSent("getipbxlist") == nil {
		t.Error("getipbxlist not requested after login")
	}
}

func TestGetIpbxListTriggersListFetch(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	tr.serverSends(t, wire.Message{"class": "getipbxlist",
		"ipbxlist": []interface{}{"xivo"}})

	// own-user config request first, then one listid per kind
	var listids []string
	var firstGetlist wire.Message
	tr.mu.Lock()
	for _, msg := range tr.sent {
		if msg.Class() != "getlist" {
			continue
		}
		if firstGetlist == nil {
			firstGetlist = msg
		}
		if msg.Function() == "listid" {
			listids = append(listids, msg.String("listname"))
		}
	}
	tr.mu.Unlock()

	if firstGetlist == nil || firstGetlist.Function() != "updateconfig" ||
		firstGetlist.String("tid") != "42" {
		t.Errorf("first getlist = %v, want the own-user config request", firstGetlist)
	}
	if len(listids) != len(storage.Kinds) {
		t.Fatalf("listid requests = %v, want one per kind", listids)
	}
	for i, kind := range storage.Kinds {
		if listids[i] != string(kind) {
			t.Errorf("listid[%d] = %q, want %q", i, listids[i], kind)
		}
	}
}

func TestListConfigStatusSingleEntity(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	tr.serverSends(t, wire.Message{"class": "getlist", "function": "listid",
		"listname": "users", "tipbxid": "xivo", "list": []interface{}{"7"}})
	tr.serverSends(t, wire.Message{"class": "getlist", "function": "updateconfig",
		"listname": "users", "tipbxid": "xivo", "tid": "7",
		"config": map[string]interface{}{"fullname": "Ada"}})
	tr.serverSends(t, wire.Message{"class": "getlist", "function": "updatestatus",
		"listname": "users", "tipbxid": "xivo", "tid": "7",
		"status": map[string]interface{}{"availstate": "busy"}})

	if got := s.Store().Len(storage.KindUsers); got != 1 {
		t.Fatalf("user count = %d, want 1", got)
	}
	user, ok := s.Store().User("xivo/7")
	if !ok {
		t.Fatal("user xivo/7 not in the store")
	}
	if got := user.Fullname(); got != "Ada" {
		t.Errorf("Fullname = %q", got)
	}
	if got := user.Availstate(); got != "busy" {
		t.Errorf("Availstate = %q", got)
	}

	// a later updateconfig replaces the config wholesale
	tr.serverSends(t, wire.Message{"class": "getlist", "function": "updateconfig",
		"listname": "users", "tipbxid": "xivo", "tid": "7",
		"config": map[string]interface{}{"mobile": "555"}})
	user, _ = s.Store().User("xivo/7")
	if got := user.Fullname(); got != "" {
		t.Errorf("Fullname after config replace = %q, want cleared", got)
	}
	if got := s.Store().Len(storage.KindUsers); got != 1 {
		t.Errorf("user count after updates = %d, want still 1", got)
	}
}

func TestDelConfigThreePhaseOrdering(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	tr.serverSends(t, wire.Message{"class": "getlist", "function": "listid",
		"listname": "phones", "tipbxid": "xivo", "list": []interface{}{"p1"}})

	var order []string
	s.On("phones."+VerbRemoving, func(n *Notification) {
		order = append(order, "removing")
		if !s.Store().Has(storage.KindPhones, n.XID) {
			t.Error("entity already gone during the removing notification")
		}
	})
	s.On("phones."+VerbRemoved, func(n *Notification) {
		order = append(order, "removed")
		if s.Store().Has(storage.KindPhones, n.XID) {
			t.Error("entity still present during the removed notification")
		}
	})

	tr.serverSends(t, wire.Message{"class": "getlist", "function": "delconfig",
		"listname": "phones", "tipbxid": "xivo", "list": []interface{}{"p1"}})

	if len(order) != 2 || order[0] != "removing" || order[1] != "removed" {
		t.Errorf("notification order = %v, want [removing removed]", order)
	}
	if s.Store().Has(storage.KindPhones, "xivo/p1") {
		t.Error("phone still reachable after delconfig")
	}
}

func TestLocalUserInfoDefined(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	var defined []string
	s.On(EventLocalUserDefined, func(n *Notification) {
		defined = append(defined, n.XID)
	})

	tr.serverSends(t, wire.Message{"class": "getlist", "function": "updateconfig",
		"listname": "users", "tipbxid": "xivo", "tid": "13",
		"config": map[string]interface{}{}})
	tr.serverSends(t, wire.Message{"class": "getlist", "function": "updateconfig",
		"listname": "users", "tipbxid": "xivo", "tid": "42",
		"config": map[string]interface{}{}})

	if len(defined) != 1 || defined[0] != "xivo/42" {
		t.Errorf("localuser-defined notifications = %v, want only the logged-in user", defined)
	}
}

func TestKeepaliveSilenceDetection(t *testing.T) {
	cfg := testConfig()
	cfg.TryToReconnect = false
	s, tr := newTestSession(cfg)
	loginToLogged(t, s, tr)

	var errids []string
	s.On(EventTextMessage, func(n *Notification) {
		if n.ErrorID != "" {
			errids = append(errids, n.ErrorID)
		}
	})

	// first tick: nothing pending, a keepalive goes out
	s.keepaliveTick()
	if tr.lastSent("keepalive") == nil {
		t.Fatal("keepalive not sent on first tick")
	}
	if len(errids) != 0 {
		t.Fatalf("errors before silence window elapsed: %v", errids)
	}

	// second tick with no inbound traffic: silence, session torn down
	s.keepaliveTick()
	if got := s.State(); got != StateDisconnected {
		t.Errorf("State after silent window = %q, want %q", got, StateDisconnected)
	}
	if len(errids) != 1 || errids[0] != ctisdk.ErrIDNoKeepalive {
		t.Errorf("errors = %v, want [%s]", errids, ctisdk.ErrIDNoKeepalive)
	}
}

func TestAnyInboundMessageResetsKeepalive(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	s.keepaliveTick()
	// an unrelated message arrives inside the window
	tr.serverSends(t, wire.Message{"class": "queueentryupdate"})

	s.keepaliveTick()
	if got := s.State(); got != StateLogged {
		t.Errorf("State = %q, inbound traffic should have reset the counter", got)
	}
}

func TestServerForcedDisconnect(t *testing.T) {
	cfg := testConfig()
	cfg.TryToReconnect = true
	cfg.ReconnectInterval = time.Hour
	s, tr := newTestSession(cfg)
	loginToLogged(t, s, tr)

	var modal []string
	s.On(EventModalError, func(n *Notification) { modal = append(modal, n.ErrorID) })

	tr.serverSends(t, wire.Message{"class": "disconnect", "type": "force"})

	if got := s.State(); got != StateDisconnected {
		t.Errorf("State = %q, want %q", got, StateDisconnected)
	}
	if len(modal) != 1 || modal[0] != ctisdk.ErrIDForceDisconnected {
		t.Errorf("modal errors = %v, want [%s]", modal, ctisdk.ErrIDForceDisconnected)
	}
	s.mu.Lock()
	armed := s.reconnectTimer != nil
	s.mu.Unlock()
	if armed {
		t.Error("reconnect armed despite forced disconnect")
	}
}

func TestStopSendsLogoutOnceAuthenticated(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	var delogged int
	s.On(EventDelogged, func(n *Notification) { delogged++ })

	s.Stop()
	logout := tr.lastSent("logout")
	if logout == nil {
		t.Fatal("logout not sent on stop")
	}
	if got := logout.String("stopper"); got != "disconnect" {
		t.Errorf("stopper = %q", got)
	}
	if delogged != 1 {
		t.Errorf("delogged notifications = %d, want 1", delogged)
	}
	if got := s.Store().Len(storage.KindUsers); got != 0 {
		t.Errorf("store not cleared on stop, %d users remain", got)
	}
}

func TestStopBeforeLoginSendsNoLogout(t *testing.T) {
	s, tr := newTestSession(testConfig())
	s.Start()
	s.Stop()
	if tr.lastSent("logout") != nil {
		t.Error("logout sent although no login ever succeeded")
	}
}

func TestTimenowSamplesClockSkew(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	serverNow := float64(time.Now().Unix() - 90)
	tr.serverSends(t, wire.Message{"class": "keepalive", "timenow": serverNow})

	delta := s.TimeDelta()
	if delta < 85*time.Second || delta > 95*time.Second {
		t.Errorf("TimeDelta = %v, want about 90s", delta)
	}
}

func TestTimeElapsedFormatting(t *testing.T) {
	s, _ := newTestSession(testConfig())

	ts := float64(time.Now().Add(-65 * time.Second).Unix())
	if got := s.TimeElapsed(ts); got != "01:05" {
		t.Errorf("TimeElapsed(65s ago) = %q, want %q", got, "01:05")
	}
	ts = float64(time.Now().Add(-3661 * time.Second).Unix())
	if got := s.TimeElapsed(ts); got != "01:01:01" {
		t.Errorf("TimeElapsed(1h1m1s ago) = %q, want %q", got, "01:01:01")
	}
}

func TestUnknownClassGoesToRouter(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	var seen []wire.Message
	s.Router().Register("faxprogress", router.ListenerFunc(func(msg wire.Message) {
		seen = append(seen, msg)
	}))

	tr.serverSends(t, wire.Message{"class": "faxprogress", "step": "sending"})

	if len(seen) != 1 || seen[0].String("step") != "sending" {
		t.Errorf("router deliveries = %v", seen)
	}
}

func TestSetPresence(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	s.SetPresence("away")
	cmd := tr.lastSent("availstate")
	if cmd == nil {
		t.Fatal("availstate not sent")
	}
	if cmd.String("availstate") != "away" || cmd.String("ipbxid") != "xivo" || cmd.String("userid") != "42" {
		t.Errorf("availstate command = %v", cmd)
	}
	if got := s.Availstate(); got != "away" {
		t.Errorf("held presence = %q", got)
	}
}

func TestIpbxCommandEnvelope(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	s.Dial("1002")
	cmd := tr.lastSent("ipbxcommand")
	if cmd == nil {
		t.Fatal("ipbxcommand not sent")
	}
	if cmd.String("command") != "dial" || cmd.String("destination") != "1002" {
		t.Errorf("dial command = %v", cmd)
	}

	before := len(tr.sentClasses())
	s.IpbxCommand(wire.Message{"destination": "1002"})
	if len(tr.sentClasses()) != before {
		t.Error("ipbxcommand without a command field was sent")
	}
}

func TestMalformedLineIsDropped(t *testing.T) {
	s, tr := newTestSession(testConfig())
	loginToLogged(t, s, tr)

	tr.handler.OnTransportEvent(transport.Event{Kind: transport.EventLine, Line: []byte("{not json")})
	if got := s.State(); got != StateLogged {
		t.Errorf("State after malformed line = %q, session should survive", got)
	}
}
