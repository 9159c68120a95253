package lorawan

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/lw2bacnet/bridge/internal/codec"
	"github.com/lw2bacnet/bridge/internal/identity"
	"github.com/lw2bacnet/bridge/internal/objects"
)

// UplinkResult describes the terminal state of one uplink message.
type UplinkResult struct {
	// MessageID correlates the log lines of the message.
	MessageID string

	// Device is the sending device, nil if the topic was unusable.
	Device identity.EUI

	// Applied counts elements whose value reached the store or table.
	Applied int

	// Created counts datapoints registered by this message.
	Created int

	// Reloaded is true when the message triggered an object reload.
	Reloaded bool

	// Dropped is true when nothing from the message was applied.
	Dropped bool

	// Err is the reason the message was dropped, or a reload failure.
	Err error
}

// HandleUplink runs the uplink pipeline for one message: parse the
// envelope, decode the payload, then push each value into its live object
// or register a new datapoint. A message that registers datapoints triggers
// exactly one reload after all its elements are processed.
func (b *Bridge) HandleUplink(ctx context.Context, topic string, payload []byte) UplinkResult {
	res := UplinkResult{MessageID: uuid.NewString()}
	log := []any{"msg_id", res.MessageID, "topic", topic}

	eui, err := DeviceFromTopic(topic, b.cfg.DeviceTopicIndex)
	if err != nil {
		return b.drop(res, err, log)
	}
	res.Device = eui
	log = append(log, "eui", eui.String())

	env, err := ParseEnvelope(payload)
	if err != nil {
		return b.drop(res, err, log)
	}

	settings := b.device(eui)
	decoder := b.registerDevice(ctx, eui, topic, settings, log)

	elems := env.Decoded
	if elems == nil || b.forceDecode(settings) {
		elems = b.codec.Decode(ctx, env.Payload, env.FPort, eui.String(), decoder).Collect()
	} else {
		b.logDebug("using upstream decoded payload", append(log, "elements", len(elems))...)
	}
	if len(elems) == 0 {
		return b.drop(res, fmt.Errorf("%w: decoder %s", ErrNoElements, decoder), log)
	}
	if b.cfg.Metadata {
		elems = append(elems, env.MetadataElements()...)
	}

	now := time.Now()
	reload := false
	for _, e := range elems {
		applied, created := b.applyElement(ctx, eui, settings, e, now, res.MessageID, log)
		if applied {
			res.Applied++
		}
		if created {
			res.Created++
			reload = true
		}
	}

	if res.Applied == 0 {
		return b.drop(res, fmt.Errorf("%w: no element could be applied", ErrNoElements), log)
	}
	b.metrics.uplinksApplied.Add(1)

	if reload {
		res.Reloaded = true
		if err := b.reload(ctx); err != nil {
			res.Err = err
			b.logError("reload after provisioning failed", err, log...)
		}
	}

	b.logDebug("uplink applied", append(log, "applied", res.Applied, "created", res.Created)...)
	return res
}

// registerDevice records the device on first sight and returns its decoder.
func (b *Bridge) registerDevice(ctx context.Context, eui identity.EUI, topic string, settings DeviceSettings, log []any) string {
	decoder, err := b.store.DecoderFor(ctx, eui)
	if err != nil {
		if !errors.Is(err, identity.ErrNotFound) {
			b.logWarn("decoder lookup failed, using default", append(log, "error", err)...)
		}
		decoder = settings.Decoder
		if decoder == "" {
			decoder = b.codec.DefaultScript()
		}
	}

	created, err := b.store.UpsertDevice(ctx, identity.DeviceRecord{EUI: eui, Decoder: decoder, Name: settings.Name})
	switch {
	case err != nil:
		b.logWarn("device registration failed", append(log, "error", err)...)
	case created:
		b.logInfo("new device registered", append(log, "decoder", decoder)...)
	}

	if app, ok := TopicSegment(topic, b.cfg.ApplicationTopicIndex); ok {
		if err := b.store.SetApplication(ctx, eui, app); err != nil {
			b.logWarn("recording application failed", append(log, "application", app, "error", err)...)
		}
	}
	return decoder
}

// applyElement applies one decoded value.
//
// Returns:
//   - applied: the value reached the table or the store
//   - created: a new datapoint was registered and the objects need a reload
func (b *Bridge) applyElement(ctx context.Context, eui identity.EUI, settings DeviceSettings, e codec.Element, now time.Time, msgID string, log []any) (applied, created bool) {
	id := identity.NewDatapointID(eui, e.Channel, e.Field)
	log = append(log, "datapoint", string(id))

	live, err := b.table.UpdateValue(id, e.Value)
	if err != nil {
		b.logWarn("object value update failed", append(log, "error", err)...)
	}
	if live {
		if _, err := b.store.UpdateDatapointValue(ctx, id, e.Value); err != nil {
			b.logWarn("storing value failed", append(log, "error", err)...)
		}
		b.record(eui, id, e, now, msgID, false)
		return true, false
	}

	dt, ok := b.datatypes.Lookup(e.Type)
	if !ok {
		b.logWarn("unknown datatype, element skipped", append(log, "type", e.Type)...)
		return false, false
	}

	name := e.Name
	if name == "" {
		name = dt.Name + "_" + strconv.Itoa(e.Channel)
		if e.Field != "" {
			name += "-" + e.Field
		}
	}
	rec := identity.DatapointRecord{
		EUI:     eui,
		Channel: e.Channel,
		Field:   e.Field,
		Name:    name,
		Type:    e.Type,
		Units:   dt.Units,
		Value:   e.Value,
	}
	inserted, err := b.store.UpsertDatapoint(ctx, rec)
	if err != nil {
		b.logWarn("datapoint registration failed", append(log, "error", err)...)
		return false, false
	}
	if !inserted {
		// Registered earlier but not yet loaded into the table.
		if _, err := b.store.UpdateDatapointValue(ctx, id, e.Value); err != nil {
			b.logWarn("storing value failed", append(log, "error", err)...)
		}
	}

	objectID, err := b.store.ObjectIDFor(ctx, id)
	if err != nil {
		b.logWarn("object id lookup failed", append(log, "error", err)...)
		return true, false
	}

	device := settings.Name
	if device == "" {
		device = eui.String()
	}
	obj := objects.NewObject(identity.Datapoint{
		ID:       id,
		EUI:      eui,
		Channel:  e.Channel,
		Field:    e.Field,
		Name:     name,
		Type:     e.Type,
		Units:    dt.Units,
		Value:    e.Value,
		ObjectID: objectID,
	}, device, dt)
	if err := b.table.AddOrReplace(obj); err != nil {
		b.logWarn("object provisioning failed", append(log, "object_id", objectID, "error", err)...)
		return true, false
	}

	if inserted {
		b.metrics.objectsCreated.Add(1)
		b.logInfo("datapoint provisioned", append(log, "object_id", objectID, "name", obj.Name, "kind", dt.Object.String())...)
	}
	b.record(eui, id, e, now, msgID, true)
	return true, true
}

// record writes value history and notifies live subscribers.
func (b *Bridge) record(eui identity.EUI, id identity.DatapointID, e codec.Element, now time.Time, msgID string, created bool) {
	if b.history != nil {
		b.history.WriteDatapoint(eui.String(), string(id), e.Name, e.Value, now)
	}
	b.broadcast(EventValue, ValueEvent{
		MessageID: msgID,
		Datapoint: string(id),
		Value:     e.Value,
		Created:   created,
	})
}

// reload rebuilds the object set once for a message.
func (b *Bridge) reload(ctx context.Context) error {
	b.metrics.reloads.Add(1)
	if err := b.reloader.Reload(ctx); err != nil {
		b.metrics.reloadFailures.Add(1)
		return err
	}
	b.broadcast(EventReload, map[string]int{"objects": b.table.Len()})
	return nil
}

func (b *Bridge) forceDecode(settings DeviceSettings) bool {
	if settings.ForceDecode != nil {
		return *settings.ForceDecode
	}
	return b.cfg.ForceDecode
}

func (b *Bridge) drop(res UplinkResult, err error, log []any) UplinkResult {
	res.Dropped = true
	res.Err = err
	b.metrics.uplinksDropped.Add(1)
	b.logWarn("uplink dropped", append(log, "error", err)...)
	return res
}
