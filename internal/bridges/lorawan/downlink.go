package lorawan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lw2bacnet/bridge/internal/bacnet"
	"github.com/lw2bacnet/bridge/internal/identity"
)

// DownlinkResult describes the terminal state of one write event.
type DownlinkResult struct {
	// Published is true when a command was handed to the broker.
	Published bool

	Topic   string
	Message DownlinkMessage

	// Err is the reason the command was abandoned.
	Err error
}

// HandleWrite runs the downlink pipeline for a BACnet write: resolve the
// datapoint behind the object, find the device's downlink port for the
// channel, encode the value and publish the command. A write that cannot be
// routed is logged and abandoned without publishing.
func (b *Bridge) HandleWrite(ctx context.Context, ev bacnet.WriteEvent) DownlinkResult {
	log := []any{"object", ev.ObjectName, "object_id", ev.ObjectID}

	value, err := NormaliseValue(ev.Value)
	if err != nil {
		return b.abandon(err, log)
	}

	dp, err := b.store.DatapointByObjectID(ctx, ev.ObjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			err = fmt.Errorf("%w: %d", ErrUnknownObject, ev.ObjectID)
		}
		return b.abandon(err, log)
	}
	log = append(log, "datapoint", string(dp.ID))

	eui, channel, field, err := dp.ID.Split()
	if err != nil {
		return b.abandon(err, log)
	}
	if field != "" {
		return b.abandon(fmt.Errorf("%w: %s", ErrNotWritable, dp.ID), log)
	}

	profile, err := b.store.ProfileIDFor(ctx, eui)
	if err != nil {
		return b.abandon(fmt.Errorf("%w: device has no profile: %w", ErrNoDownlinkPort, err), log)
	}
	fport, err := b.store.DownlinkPortFor(ctx, profile, channel)
	if err != nil {
		return b.abandon(fmt.Errorf("%w: profile %s channel %d: %w", ErrNoDownlinkPort, profile, channel, err), log)
	}

	decoder, err := b.store.DecoderFor(ctx, eui)
	if err != nil {
		b.logWarn("decoder lookup failed, using default", append(log, "error", err)...)
		decoder = b.codec.DefaultScript()
	}
	typeHint, err := b.store.TypeOf(ctx, dp.ID)
	if err != nil {
		typeHint = -1
	}

	frame, err := b.codec.Encode(ctx, channel, value, eui.String(), decoder, typeHint)
	if err != nil {
		return b.abandon(err, log)
	}

	topic, err := b.downlinkTopic(ctx, eui)
	if err != nil {
		return b.abandon(err, log)
	}

	msg := NewDownlinkMessage(eui.String(), fport, frame.Bytes())
	payload, err := json.Marshal(msg)
	if err != nil {
		return b.abandon(err, log)
	}
	if err := b.mqtt.Publish(topic, payload, b.cfg.QoS, false); err != nil {
		return b.abandon(fmt.Errorf("publish downlink: %w", err), log)
	}

	b.metrics.downlinksPublished.Add(1)
	b.logInfo("downlink published", append(log, "topic", topic, "fport", fport, "value", value)...)
	b.broadcast(EventDownlink, DownlinkEvent{
		ObjectID:  ev.ObjectID,
		Datapoint: string(dp.ID),
		Value:     value,
		Topic:     topic,
		FPort:     fport,
	})
	return DownlinkResult{Published: true, Topic: topic, Message: msg}
}

// downlinkTopic fills the command topic for a device.
func (b *Bridge) downlinkTopic(ctx context.Context, eui identity.EUI) (string, error) {
	var app string
	if strings.Contains(b.cfg.DownlinkTopic, PlaceholderApplication) {
		var err error
		app, err = b.store.ApplicationFor(ctx, eui)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrNoApplication, err)
		}
	}
	return DownlinkTopic(b.cfg.DownlinkTopic, app, eui.String()), nil
}

// NormaliseValue converts a written present value to a number. The binary
// names active and inactive map to 1 and 0.
func NormaliseValue(v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case float32:
		return float64(val), nil
	case int:
		return float64(val), nil
	case int64:
		return float64(val), nil
	case uint32:
		return float64(val), nil
	case bool:
		if val {
			return 1, nil
		}
		return 0, nil
	case string:
		s := strings.ToLower(strings.TrimSpace(val))
		switch s {
		case bacnet.Active:
			return 1, nil
		case bacnet.Inactive:
			return 0, nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidValue, val)
		}
		return f, nil
	default:
		return 0, fmt.Errorf("%w: %T", ErrInvalidValue, v)
	}
}

func (b *Bridge) abandon(err error, log []any) DownlinkResult {
	b.metrics.downlinksAbandoned.Add(1)
	b.logWarn("downlink abandoned", append(log, "error", err)...)
	return DownlinkResult{Err: err}
}
