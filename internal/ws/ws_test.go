package ws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/vdbgsuite/vdbg/config"
	"github.com/vdbgsuite/vdbg/internal/device"
	"github.com/vdbgsuite/vdbg/internal/wire"
)

func TestWebSocket(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "WebSocket Suite")
}

// prtc 'A'; prtc 'B'; halt
var testImage = []byte{0x40, 'A', 0x40, 'B', 0x01}

func readEvent(conn *websocket.Conn) (wire.Event, error) {
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		return nil, err
	}
	_, data, err := conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	ev, _, err := wire.DecodeEvent(data)
	return ev, err
}

func sendCommand(conn *websocket.Conn, cmd wire.Command) error {
	return conn.WriteMessage(websocket.BinaryMessage, wire.AppendCommand(nil, cmd))
}

func listSessions(url string) ([]string, error) {
	resp, err := http.Get(url + "/sessions")
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	var sessions []string
	if err := json.NewDecoder(resp.Body).Decode(&sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

var _ = Describe("Hub", func() {
	It("should create a hub wired to a fresh session", func() {
		mach := device.NewMachine()
		hub := NewHub("test-session", time.Minute, mach)

		Expect(hub.sessionID).To(Equal("test-session"))
		Expect(hub.idleTimeout).To(Equal(time.Minute))
		Expect(hub.connections).To(BeEmpty())
		Expect(hub.register).NotTo(BeNil())
		Expect(hub.unregister).NotTo(BeNil())
		Expect(hub.events).NotTo(BeNil())
		Expect(hub.sess).NotTo(BeNil())
	})

	It("should drop a slow consumer without stalling the loop", func() {
		hub := NewHub("slow-consumer", time.Minute, device.NewMachine())
		go hub.Run()

		controller := NewConnection(nil, hub, "controller")
		go func() {
			for range controller.send {
			}
		}()
		observer := NewConnection(nil, hub, "observer")

		hub.Register(controller)
		hub.Register(observer)

		// More events than the observer's send buffer holds; it never
		// reads a single one.
		var cmds []byte
		for i := 0; i < 2*connSendBufferSize+64; i++ {
			cmds = wire.AppendCommand(cmds, wire.RequestDumpCmd{})
		}
		hub.Deliver(controller, cmds)

		Eventually(func() int {
			hub.mu.RLock()
			defer hub.mu.RUnlock()
			return len(hub.connections)
		}).Within(2 * time.Second).Should(Equal(1), "the stuck observer is detached")

		// The loop must still serve registrations and events.
		late := NewConnection(nil, hub, "late")
		registered := make(chan struct{})
		go func() {
			hub.Register(late)
			close(registered)
		}()
		Eventually(registered).Within(2 * time.Second).Should(BeClosed())

		hub.Deliver(controller, wire.AppendCommand(nil, wire.RequestDumpCmd{}))
		Eventually(late.send).Within(2 * time.Second).Should(Receive())
	})
})

var _ = Describe("Server", func() {
	var (
		server *Server
		ts     *httptest.Server
		wsURL  string
	)

	BeforeEach(func() {
		cfg := config.WebSocketConfig{MaxSessions: 4, IdleTimeout: time.Minute}
		server = NewServer(":0", &cfg, testImage)
		ts = httptest.NewServer(server.Handler())
		wsURL = "ws" + strings.TrimPrefix(ts.URL, "http")
	})

	AfterEach(func() {
		ts.Close()
	})

	It("should start a session on first connect and list it", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/", nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = conn.Close() }()

		Eventually(func() ([]string, error) {
			return listSessions(ts.URL)
		}).Within(2 * time.Second).Should(HaveLen(1))
	})

	It("should relay command frames to the session and events back", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/", nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = conn.Close() }()

		Expect(sendCommand(conn, wire.StepCmd{})).To(Succeed())
		ev, err := readEvent(conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(Equal(wire.OutputEvent{Text: "A"}))

		Expect(sendCommand(conn, wire.StepCmd{})).To(Succeed())
		ev, err = readEvent(conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(Equal(wire.OutputEvent{Text: "B"}))

		Expect(sendCommand(conn, wire.StepCmd{})).To(Succeed())
		ev, err = readEvent(conn)
		Expect(err).NotTo(HaveOccurred())
		Expect(ev).To(Equal(wire.EndOfProgramEvent{}))
	})

	It("should serve dumps over the websocket transport", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/", nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = conn.Close() }()

		Expect(sendCommand(conn, wire.RequestDumpCmd{})).To(Succeed())
		ev, err := readEvent(conn)
		Expect(err).NotTo(HaveOccurred())
		dump, ok := ev.(wire.DumpResultEvent)
		Expect(ok).To(BeTrue())
		Expect(dump.Text).To(ContainSubstring(`"pc":0`))
	})

	It("should let a second connection observe an existing session", func() {
		controller, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/", nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = controller.Close() }()

		var sessions []string
		Eventually(func() ([]string, error) {
			var lerr error
			sessions, lerr = listSessions(ts.URL)
			return sessions, lerr
		}).Within(2 * time.Second).Should(HaveLen(1))

		observer, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/?session="+sessions[0], nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = observer.Close() }()

		Eventually(func() ([]string, error) {
			return listSessions(ts.URL)
		}).Within(2 * time.Second).Should(HaveLen(1), "no second session is created")
	})

	It("should reject joining an unknown session", func() {
		conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws/?session=no-such-session", nil)
		Expect(err).NotTo(HaveOccurred())
		defer func() { _ = conn.Close() }()

		// The server closes the connection instead of creating a hub.
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		_, _, err = conn.ReadMessage()
		Expect(err).To(HaveOccurred())

		sessions, err := listSessions(ts.URL)
		Expect(err).NotTo(HaveOccurred())
		Expect(sessions).To(BeEmpty())
	})
})
