package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetlink-io/fleetlink/internal/protocol"
)

// testClient builds a Client with no underlying connection. The hub never
// touches conn, only the send channel.
func testClient(topics ...string) *Client {
	return &Client{
		send:   make(chan Message, sendBufferSize),
		done:   make(chan struct{}),
		topics: topics,
	}
}

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func awaitCount(t *testing.T, hub *Hub, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return hub.ConnectedCount() == n
	}, time.Second, time.Millisecond)
}

func recv(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
		return Message{}
	}
}

func TestPublishReachesSubscribedTopicOnly(t *testing.T) {
	hub := runHub(t)

	fleet := testClient(TopicAgents)
	kiwi := testClient(TopicAgent("kiwi"))
	hub.Subscribe(fleet)
	hub.Subscribe(kiwi)
	awaitCount(t, hub, 2)

	hub.AgentConnected("kiwi")

	msg := recv(t, fleet)
	assert.Equal(t, MsgAgentConnected, msg.Type)
	assert.Equal(t, TopicAgents, msg.Topic)

	msg = recv(t, kiwi)
	assert.Equal(t, MsgAgentConnected, msg.Type)
	assert.Equal(t, TopicAgent("kiwi"), msg.Topic)

	// A different machine's event reaches the fleet topic but not kiwi's.
	hub.AgentDisconnected("pear")
	msg = recv(t, fleet)
	assert.Equal(t, MsgAgentDisconnected, msg.Type)
	select {
	case msg := <-kiwi.send:
		t.Fatalf("unexpected message on kiwi topic: %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStatusReported(t *testing.T) {
	hub := runHub(t)

	fleet := testClient(TopicAgents)
	hub.Subscribe(fleet)
	awaitCount(t, hub, 1)

	hub.StatusReported(protocol.MachineStatus{Hostname: "kiwi", ExternalIP: "203.0.113.7"})

	msg := recv(t, fleet)
	assert.Equal(t, MsgAgentStatus, msg.Type)
	status, ok := msg.Payload.(protocol.MachineStatus)
	require.True(t, ok)
	assert.Equal(t, "203.0.113.7", status.ExternalIP)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	hub := runHub(t)

	c := testClient(TopicAgents)
	hub.Subscribe(c)
	awaitCount(t, hub, 1)

	hub.Unsubscribe(c)
	awaitCount(t, hub, 0)

	// Shutdown is signalled on done; send stays open for racing publishers.
	select {
	case <-c.done:
	case <-time.After(time.Second):
		t.Fatal("done not closed on unregister")
	}
}

func TestPublishDuringUnsubscribeDoesNotPanic(t *testing.T) {
	hub := runHub(t)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				hub.Publish(TopicAgents, Message{Type: MsgAgentConnected, Topic: TopicAgents})
			}
		}
	}()

	// Churn subscribers under constant publishing. Each client is drained
	// until its done closes so the publisher never stalls on a full buffer.
	for i := 0; i < 50; i++ {
		c := testClient(TopicAgents)
		go func() {
			for {
				select {
				case <-c.send:
				case <-c.done:
					return
				}
			}
		}()

		hub.Subscribe(c)
		awaitCount(t, hub, 1)
		hub.Unsubscribe(c)
		awaitCount(t, hub, 0)
	}

	close(stop)
	wg.Wait()
}

func TestSlowClientIsDisconnected(t *testing.T) {
	hub := runHub(t)

	c := testClient(TopicAgents)
	hub.Subscribe(c)
	awaitCount(t, hub, 1)

	// Fill the buffer without draining; the next publish drops the client.
	for i := 0; i < sendBufferSize; i++ {
		hub.Publish(TopicAgents, Message{Type: MsgAgentConnected, Topic: TopicAgents})
	}
	hub.Publish(TopicAgents, Message{Type: MsgAgentConnected, Topic: TopicAgents})

	awaitCount(t, hub, 0)
}
