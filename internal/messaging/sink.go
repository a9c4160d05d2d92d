package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/banshee-data/omnilaser/internal/fusion"
	"github.com/banshee-data/omnilaser/internal/publish"
	"github.com/banshee-data/omnilaser/internal/robot"
)

// publisher is the Client surface a Sink needs.
type publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) error
	Backend() string
}

// LaserMessage is the laser topic payload.
type LaserMessage struct {
	Seq       uint64           `json:"seq"`
	Timestamp time.Time        `json:"timestamp"`
	Bins      []fusion.ScanBin `json:"bins"`
}

// Sink publishes scans, base state and RGB-D frames as JSON. It
// implements the publish.ScanPublisher, StatePublisher and RGBDPublisher
// interfaces.
type Sink struct {
	client publisher
	topics Topics
}

// NewSink publishes through client on topics.
func NewSink(client *Client, topics Topics) *Sink {
	return &Sink{client: client, topics: topics}
}

func (s *Sink) name() string { return s.client.Backend() }

func (s *Sink) send(ctx context.Context, topic string, v any) publish.Result {
	if topic == "" {
		return publish.Skipped(s.name())
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return publish.Failed(s.name(), fmt.Errorf("encode %s payload: %w", topic, err))
	}
	if err := s.client.Publish(ctx, topic, payload); err != nil {
		return publish.Failed(s.name(), err)
	}
	return publish.Delivered(s.name())
}

// PublishScan sends scan on the laser topic.
func (s *Sink) PublishScan(ctx context.Context, scan *fusion.Scan) publish.Result {
	return s.send(ctx, s.topics.Laser, LaserMessage{
		Seq:       scan.Seq(),
		Timestamp: scan.Timestamp(),
		Bins:      scan.Bins(),
	})
}

// PublishState sends state on the base topic.
func (s *Sink) PublishState(ctx context.Context, state robot.BaseState) publish.Result {
	return s.send(ctx, s.topics.Base, state)
}

// PublishRGBD sends frame on the rgbd topic.
func (s *Sink) PublishRGBD(ctx context.Context, frame robot.RGBDFrame) publish.Result {
	return s.send(ctx, s.topics.RGBD, frame)
}

// JoystickHandler receives decoded joystick samples.
type JoystickHandler func(robot.JoystickData)

// SubscribeJoystick decodes every message on the joystick topic and hands
// it to h. Undecodable payloads are logged and dropped.
func (c *Client) SubscribeJoystick(ctx context.Context, topic string, h JoystickHandler) error {
	if topic == "" {
		return nil
	}
	return c.Subscribe(ctx, topic, func(payload []byte) {
		var data robot.JoystickData
		if err := json.Unmarshal(payload, &data); err != nil {
			c.logf("dropping joystick payload on %s: %v", topic, err)
			return
		}
		h(data)
	})
}
